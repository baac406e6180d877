package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"gatekeeper/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminKey = "gk_test-admin-key"

func securityConfig(enabled bool) models.SecurityConfig {
	return models.SecurityConfig{
		EnableAuth: enabled,
		AdminKeys:  []models.AdminKey{models.NewAdminKey("ops", testAdminKey)},
	}
}

func TestRequireAdmin(t *testing.T) {
	auth := NewAuthenticator(securityConfig(true))

	var seen *models.AdminKey
	handler := auth.RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = AdminKeyFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		expectedReason string
	}{
		{"valid key", "Bearer " + testAdminKey, http.StatusOK, ""},
		{"missing header", "", http.StatusUnauthorized, "Authorization required"},
		{"wrong scheme", "Basic " + testAdminKey, http.StatusUnauthorized, "Invalid authorization format"},
		{"wrong key", "Bearer gk_nope", http.StatusUnauthorized, "Invalid admin key"},
		{"hash instead of key", "Bearer " + models.HashAPIKey(testAdminKey), http.StatusUnauthorized, "Invalid admin key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/v1/violations", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus == http.StatusOK {
				require.NotNil(t, seen)
				assert.Equal(t, "ops", seen.Name)
				return
			}
			assert.Nil(t, seen)
			resp := decodeJSON[models.ErrorResponse](t, rr)
			assert.Equal(t, models.ErrorCodeUnauthorized, resp.Code)
			assert.Equal(t, tt.expectedReason, resp.Message)
		})
	}
}

func TestRequireAdmin_AuthDisabled(t *testing.T) {
	auth := NewAuthenticator(securityConfig(false))

	var name string
	handler := auth.RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name = adminName(r)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, anonymousAdmin, name)
}

func TestOptionalAdmin(t *testing.T) {
	auth := NewAuthenticator(securityConfig(true))

	var admin bool
	handler := auth.OptionalAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin = IsAdmin(r)
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		authHeader string
		wantAdmin  bool
	}{
		{"no header", "", false},
		{"invalid key continues", "Bearer wrong", false},
		{"valid key", "Bearer " + testAdminKey, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.wantAdmin, admin)
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var fromCtx, fromHeader string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = RequestIDFromContext(r.Context())
		fromHeader = r.Header.Get(RequestIDHeader)
	}))

	t.Run("generated", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Len(t, fromCtx, 36)
		assert.Equal(t, fromCtx, fromHeader, "forwarded upstream")
		assert.Equal(t, fromCtx, rr.Header().Get(RequestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "edge-1234")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, "edge-1234", fromCtx)
		assert.Equal(t, "edge-1234", rr.Header().Get(RequestIDHeader))
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := requestIDMiddleware(recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	resp := decodeJSON[models.ErrorResponse](t, rr)
	assert.Equal(t, models.ErrorCodeInternalError, resp.Code)
	assert.Equal(t, rr.Header().Get(RequestIDHeader), resp.RequestID)
}

func TestLoggingMiddleware_PassesStatus(t *testing.T) {
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
}
