package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenda-distribuida/family-organizer/internal/expansion"
	"github.com/agenda-distribuida/family-organizer/internal/services"
	"github.com/agenda-distribuida/family-organizer/internal/session"
)

func TestRespondSweep(t *testing.T) {
	rec := httptest.NewRecorder()
	respondSweep(rec, http.StatusCreated, services.SweepReport{Created: []string{"a"}}, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	report := services.SweepReport{
		Created: []string{"a"},
		Failures: []*services.WriteFailure{
			{Op: services.OpCreate, Day: "2024-01-02", Err: errors.New("unavailable")},
		},
	}
	rec = httptest.NewRecorder()
	respondSweep(rec, http.StatusCreated, report, report.Err())
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body SweepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "partial", body.Status)
	assert.Equal(t, []string{"a"}, body.Report.Created)
	assert.Equal(t, []string{"create 2024-01-02: unavailable"}, body.Errors)

	rec = httptest.NewRecorder()
	respondSweep(rec, http.StatusOK, services.SweepReport{}, services.ErrSeriesNotFound)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRespondServiceError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{&expansion.ValidationError{Field: "name", Reason: "is required"}, http.StatusBadRequest},
		{services.ErrForbidden, http.StatusForbidden},
		{services.ErrOrganizerNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: x@example.com", services.ErrUnknownUser), http.StatusBadRequest},
		{services.ErrSelfShare, http.StatusBadRequest},
		{services.ErrUserExists, http.StatusConflict},
		{session.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		respondServiceError(rec, tt.err)
		assert.Equal(t, tt.code, rec.Code, tt.err.Error())
	}
}

func TestParseWindow(t *testing.T) {
	defer func(orig func() time.Time) { timeNow = orig }(timeNow)
	timeNow = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	def := AgendaWindow{Before: 15, After: 85}
	ref, before, after, err := parseWindow(httptest.NewRequest(http.MethodGet, "/x", nil), def)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", ref.String())
	assert.Equal(t, 15, before)
	assert.Equal(t, 85, after)

	ref, before, after, err = parseWindow(httptest.NewRequest(http.MethodGet, "/x?ref=2024-05-05&before=0&after=7", nil), def)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-05", ref.String())
	assert.Equal(t, 0, before)
	assert.Equal(t, 7, after)

	for _, q := range []string{"ref=05-05-2024", "before=-1", "after=lots", "after=1000"} {
		_, _, _, err := parseWindow(httptest.NewRequest(http.MethodGet, "/x?"+q, nil), def)
		var verr *expansion.ValidationError
		assert.ErrorAs(t, err, &verr, q)
	}
}
