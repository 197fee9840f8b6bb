package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Organizer is a named shared calendar group.
type Organizer struct {
	ID         string   `json:"-"`
	Name       string   `json:"name"`
	CreatedBy  string   `json:"createdBy"`
	SharedWith []string `json:"sharedWith"`
}

// VisibleTo reports whether user created the organizer or is on its share
// list.
func (o Organizer) VisibleTo(user string) bool {
	if user == "" {
		return false
	}
	if o.CreatedBy == user {
		return true
	}
	for _, u := range o.SharedWith {
		if u == user {
			return true
		}
	}
	return false
}

// DecodeOrganizer reads a stored organizers document.
func DecodeOrganizer(id string, data []byte) (Organizer, error) {
	var o Organizer
	if err := json.Unmarshal(data, &o); err != nil {
		return Organizer{}, fmt.Errorf("decode organizer %s: %w", id, err)
	}
	o.ID = id
	return o, nil
}

// OrganizerRequest is the payload for creating an organizer.
type OrganizerRequest struct {
	Name       string   `json:"name" validate:"required"`
	SharedWith []string `json:"sharedWith" validate:"dive,required,email"`
}

// SharingRequest replaces an organizer's share list.
type SharingRequest struct {
	SharedWith []string `json:"sharedWith" validate:"dive,required,email"`
}

// User is an entry of the user directory, keyed by lower-cased email.
type User struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required"`
}

// UserRequest registers a user in the directory.
type UserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required"`
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Initials returns the first letters of the first two words of a display
// name.
func Initials(name string) string {
	var out []rune
	for _, f := range strings.Fields(name) {
		out = append(out, []rune(f)[0])
		if len(out) == 2 {
			break
		}
	}
	return string(out)
}
