package api

import (
	"net/http"

	"gatekeeper/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health"
			}),
		))
	}
}

// SetupRoutes configures the admin API routes and, when fallback is non-nil,
// sends every other request to it. fallback is normally the rate limit gate in
// front of the upstream proxy.
func SetupRoutes(handlers *Handlers, config *models.Config, fallback http.Handler, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	router.Use(requestIDMiddleware)
	for _, opt := range opts {
		opt(router)
	}
	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	auth := NewAuthenticator(config.Security)

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/health", methodNotAllowedHandler)
	router.HandleFunc("/api/v1/health", methodNotAllowedHandler)

	rl := router.PathPrefix("/api/v1/ratelimit").Subrouter()

	status := rl.PathPrefix("").Subrouter()
	status.Use(auth.OptionalAdmin())
	status.HandleFunc("/policies", handlers.ListPolicies).Methods("GET")
	status.HandleFunc("/policies/{policy}/status", handlers.PolicyStatus).Methods("GET")

	rlAdmin := rl.PathPrefix("").Subrouter()
	rlAdmin.Use(auth.RequireAdmin())
	rlAdmin.HandleFunc("/policies/{policy}/identifiers/{identifier}", handlers.ResetIdentifier).Methods("DELETE")
	rlAdmin.HandleFunc("/cleanup", handlers.Cleanup).Methods("POST")

	violations := router.PathPrefix("/api/v1/violations").Subrouter()
	violations.Use(auth.RequireAdmin())
	violations.HandleFunc("", handlers.ListViolations).Methods("GET")
	violations.HandleFunc("/{id}", handlers.GetViolation).Methods("GET")

	// Reserved prefixes never reach the upstream.
	rl.PathPrefix("").HandlerFunc(notFoundHandler)
	violations.PathPrefix("").HandlerFunc(notFoundHandler)

	if fallback != nil {
		router.PathPrefix("/").Handler(fallback)
	}

	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	return router
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Not found")
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, models.ErrorCodeInvalidRequest, "Method not allowed")
}
