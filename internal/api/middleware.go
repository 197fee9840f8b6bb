package api

import (
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/agenda-distribuida/family-organizer/internal/api/handlers"
	"github.com/agenda-distribuida/family-organizer/internal/metrics"
	"github.com/agenda-distribuida/family-organizer/internal/models"
)

// UserHeader carries the caller's email when no JWT secret is configured.
const UserHeader = "X-User-Email"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the flusher underneath.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// loggingMiddleware logs every request and records its metrics under the
// matched route template.
func loggingMiddleware(logger *zap.Logger, m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			m.ObserveRequest(route, r.Method, rec.status, start)
			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}

// recoveryMiddleware recovers from panics and returns a 500 error
func recoveryMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("Recovered from panic",
						zap.Any("panic", err),
						zap.String("stack", string(debug.Stack())))
					handlers.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

var errMissingEmail = errors.New("token has no email claim")

// authMiddleware puts the caller's email into the request context. With a
// secret it reads the "email" claim of an HS256 bearer token; without one
// it trusts the X-User-Email header.
func authMiddleware(secret string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var email string
			if secret == "" {
				email = models.NormalizeEmail(r.Header.Get(UserHeader))
			} else {
				var err error
				email, err = emailFromToken(r.Header.Get("Authorization"), secret)
				if err != nil {
					handlers.RespondWithError(w, http.StatusUnauthorized, "Invalid or missing token")
					return
				}
			}
			if email == "" {
				handlers.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(handlers.WithUser(r.Context(), email)))
		})
	}
}

func emailFromToken(header, secret string) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", errors.New("missing bearer token")
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	email, _ := claims["email"].(string)
	email = models.NormalizeEmail(email)
	if email == "" {
		return "", errMissingEmail
	}
	return email, nil
}
