package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"gatekeeper/internal/models"
	"gatekeeper/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func studioRoutes() []models.RouteConfig {
	return []models.RouteConfig{
		{PathPrefix: "/api/auth", Methods: []string{"post"}, Policy: "auth"},
		{PathPrefix: "/api/search", Policy: "search"},
		{PathPrefix: "/api/uploads", Methods: []string{"POST", "PUT"}, Policy: "upload"},
		{PathPrefix: "/api", Policy: "api"},
		{PathPrefix: "/api/uploads/avatars", Policy: "auth"},
	}
}

func TestRouteTable_Resolve(t *testing.T) {
	table := NewRouteTable(studioRoutes(), "api")

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{"POST", "/api/auth", "auth"},
		{"POST", "/api/auth/login", "auth"},
		{"GET", "/api/auth/login", "api"},
		{"GET", "/api/search", "search"},
		{"DELETE", "/api/search/artists", "search"},
		{"PUT", "/api/uploads/1", "upload"},
		{"GET", "/api/uploads/1", "api"},
		{"GET", "/api/uploads/avatars/me.png", "auth"},
		{"GET", "/api/searching", "api"},
		{"GET", "/gallery", "api"},
		{"GET", "/", "api"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, table.Resolve(tt.method, tt.path))
		})
	}
}

func TestRouteTable_TrailingSlashPrefix(t *testing.T) {
	table := NewRouteTable([]models.RouteConfig{{PathPrefix: "/static/", Policy: "search"}}, "api")

	assert.Equal(t, "search", table.Resolve("GET", "/static/app.css"))
	assert.Equal(t, "api", table.Resolve("GET", "/static"))
}

func TestRouteTable_Policies(t *testing.T) {
	table := NewRouteTable(studioRoutes(), "api")
	assert.ElementsMatch(t, []string{"api", "auth", "search", "upload"}, table.Policies())
}

func TestNewGate_UndefinedPolicy(t *testing.T) {
	reg := newTestRegistry(t, newTestClock())
	table := NewRouteTable([]models.RouteConfig{{PathPrefix: "/gallery", Policy: "gallery"}}, "api")

	_, err := NewGate(table, reg, nil, http.NotFoundHandler())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gallery")
}

func TestNewGate_AppliesResolvedPolicy(t *testing.T) {
	clock := newTestClock()
	reg := newTestRegistry(t, clock)
	table := NewRouteTable(studioRoutes(), "api")

	var forwarded []string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = append(forwarded, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	gate, err := NewGate(table, reg, nil, next, ratelimit.WithHeaderClock(clock))
	require.NoError(t, err)

	send := func(method, path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		gate.ServeHTTP(rr, clientRequest(method, path))
		return rr
	}

	rr := send("POST", "/api/auth/login")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("X-RateLimit-Limit"))

	rr = send("POST", "/api/auth/login")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "900", rr.Header().Get("Retry-After"))

	rr = send("GET", "/api/auth/session")
	assert.Equal(t, http.StatusOK, rr.Code, "GET falls through to the default policy")
	assert.Equal(t, "5", rr.Header().Get("X-RateLimit-Limit"))

	assert.Equal(t, []string{"POST /api/auth/login", "GET /api/auth/session"}, forwarded)
}
