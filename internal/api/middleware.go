package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gatekeeper/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type contextKey string

const (
	adminKeyContextKey  contextKey = "admin_key"
	requestIDContextKey contextKey = "request_id"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// anonymousAdmin marks requests on deployments with authentication disabled.
const anonymousAdmin = "anonymous"

// Authenticator matches bearer tokens against the configured admin key hashes.
type Authenticator struct {
	enabled bool
	keys    []models.AdminKey
}

// NewAuthenticator creates an Authenticator from security settings. With
// authentication disabled every request is treated as an admin request.
func NewAuthenticator(cfg models.SecurityConfig) *Authenticator {
	return &Authenticator{
		enabled: cfg.EnableAuth,
		keys:    cfg.AdminKeys,
	}
}

// authenticate returns the admin key matching the request's bearer token.
func (a *Authenticator) authenticate(r *http.Request) (*models.AdminKey, string) {
	if !a.enabled {
		return &models.AdminKey{Name: anonymousAdmin}, ""
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, "Authorization required"
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return nil, "Invalid authorization format"
	}

	token := authHeader[len(prefix):]
	for i := range a.keys {
		if a.keys[i].Matches(token) {
			return &a.keys[i], ""
		}
	}
	return nil, "Invalid admin key"
}

// RequireAdmin rejects requests without a valid admin key.
func (a *Authenticator) RequireAdmin() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, reason := a.authenticate(r)
			if key == nil {
				slog.Warn("Admin authentication failed",
					"path", r.URL.Path,
					"reason", reason,
					"request_id", RequestIDFromContext(r.Context()))
				writeError(w, r, http.StatusUnauthorized, models.ErrorCodeUnauthorized, reason)
				return
			}
			ctx := context.WithValue(r.Context(), adminKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAdmin attaches the admin key when a valid one is presented and
// otherwise continues without it.
func (a *Authenticator) OptionalAdmin() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key, _ := a.authenticate(r); key != nil {
				r = r.WithContext(context.WithValue(r.Context(), adminKeyContextKey, key))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminKeyFromContext returns the authenticated admin key, if any.
func AdminKeyFromContext(ctx context.Context) *models.AdminKey {
	key, _ := ctx.Value(adminKeyContextKey).(*models.AdminKey)
	return key
}

// IsAdmin reports whether the request carries admin credentials.
func IsAdmin(r *http.Request) bool {
	return AdminKeyFromContext(r.Context()) != nil
}

// adminName safely extracts the admin key name for logging
func adminName(r *http.Request) string {
	if key := AdminKeyFromContext(r.Context()); key != nil {
		return key.Name
	}
	return "anonymous"
}

// requestIDMiddleware propagates an incoming X-Request-ID or assigns a new one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the request ID assigned by the router.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// statusRecorder captures the status code written by downstream handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"request_id", RequestIDFromContext(r.Context()))
	})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				writeError(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
