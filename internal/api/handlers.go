package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"gatekeeper/internal/models"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/version"

	"github.com/gorilla/mux"
)

// Handlers contains the HTTP handlers for the rate limit admin API.
type Handlers struct {
	registry *ratelimit.Registry
	storage  storage.Storage
	keyFunc  ratelimit.KeyFunc
	version  version.Info
	clock    ratelimit.Clock
}

// HandlerOption configures optional Handlers dependencies.
type HandlerOption func(*Handlers)

// WithStorage attaches the violation audit log used by health checks and
// violation queries.
func WithStorage(store storage.Storage) HandlerOption {
	return func(h *Handlers) {
		h.storage = store
	}
}

// WithKeyFunc sets how the caller identifier is derived for status checks.
func WithKeyFunc(keyFunc ratelimit.KeyFunc) HandlerOption {
	return func(h *Handlers) {
		h.keyFunc = keyFunc
	}
}

// WithVersion sets the build information reported by health checks.
func WithVersion(info version.Info) HandlerOption {
	return func(h *Handlers) {
		h.version = info
	}
}

// WithClock sets the clock used to compute retry_after in status responses.
func WithClock(clock ratelimit.Clock) HandlerOption {
	return func(h *Handlers) {
		h.clock = clock
	}
}

// NewHandlers creates a new handlers instance over the limiter registry.
func NewHandlers(registry *ratelimit.Registry, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		registry: registry,
		keyFunc:  ratelimit.IdentifierFromRequest(false),
		clock:    ratelimit.SystemClock{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := &models.HealthCheckResponse{
		Status:     models.HealthStatusHealthy,
		Timestamp:  time.Now().UTC(),
		Version:    h.version.Version,
		Uptime:     version.Uptime().String(),
		Components: map[string]string{"ratelimit": models.HealthStatusHealthy},
	}

	if h.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.storage.Ping(ctx); err != nil {
			slog.Warn("Storage health check failed", "error", err)
			response.Status = models.HealthStatusDegraded
			response.Components["storage"] = models.HealthStatusUnhealthy
		} else {
			response.Components["storage"] = models.HealthStatusHealthy
		}
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// ListPolicies handles GET /api/v1/ratelimit/policies
func (h *Handlers) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies := h.registry.Policies()
	infos := make([]models.PolicyInfo, 0, len(policies))

	for _, p := range policies {
		info := models.PolicyInfo{
			Name:         p.Name,
			Algorithm:    p.Algorithm.String(),
			MaxUnits:     p.MaxUnits,
			SharedBucket: p.IdentifierOverride != "",
			TrackedKeys:  h.registry.MustGet(p.Name).Len(),
		}
		if p.Algorithm == ratelimit.AlgorithmTokenBucket {
			info.RefillRate = p.RefillRate
			info.RefillPeriod = p.RefillPeriod.String()
		} else {
			info.Window = p.Window.String()
		}
		infos = append(infos, info)
	}

	h.writeJSONResponse(w, http.StatusOK, &models.ListPoliciesResponse{
		Policies:   infos,
		TotalCount: len(infos),
	})
}

// PolicyStatus handles GET /api/v1/ratelimit/policies/{policy}/status
// Reports the caller's state without consuming a unit. Admins may inspect any
// identifier with ?identifier=.
func (h *Handlers) PolicyStatus(w http.ResponseWriter, r *http.Request) {
	limiter, ok := h.limiterFor(w, r)
	if !ok {
		return
	}

	identifier := h.keyFunc(r)
	if requested := r.URL.Query().Get("identifier"); requested != "" {
		if !IsAdmin(r) {
			h.writeErrorResponse(w, r, http.StatusUnauthorized, models.ErrorCodeUnauthorized,
				"Admin authorization required to inspect other identifiers")
			return
		}
		identifier = requested
	}
	if override := limiter.Policy().IdentifierOverride; override != "" {
		identifier = override
	}

	res := limiter.Peek(identifier)
	h.writeJSONResponse(w, http.StatusOK, &models.PolicyStatusResponse{
		Policy:     limiter.Policy().Name,
		Identifier: identifier,
		Admitted:   res.Admitted,
		Limit:      res.Limit,
		Remaining:  res.Remaining,
		TotalHits:  res.TotalHits,
		ResetAt:    res.ResetAt.UTC(),
		RetryAfter: ratelimit.RetryAfterSeconds(res, h.clock.Now()),
	})
}

// ResetIdentifier handles DELETE /api/v1/ratelimit/policies/{policy}/identifiers/{identifier}
func (h *Handlers) ResetIdentifier(w http.ResponseWriter, r *http.Request) {
	limiter, ok := h.limiterFor(w, r)
	if !ok {
		return
	}

	// Policies with an override keep a single shared bucket under that key.
	identifier := mux.Vars(r)["identifier"]
	if override := limiter.Policy().IdentifierOverride; override != "" {
		identifier = override
	}
	limiter.Reset(identifier)

	slog.Info("Rate limit identifier reset",
		"policy", limiter.Policy().Name,
		"key", identifier,
		"actor", adminName(r))

	h.writeJSONResponse(w, http.StatusOK, models.NewSuccessResponse("Identifier reset", map[string]string{
		"policy":     limiter.Policy().Name,
		"identifier": identifier,
	}))
}

// Cleanup handles POST /api/v1/ratelimit/cleanup
func (h *Handlers) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed := h.registry.Cleanup()

	total := 0
	for _, n := range removed {
		total += n
	}

	slog.Info("Rate limit cleanup triggered", "removed", total, "actor", adminName(r))
	h.writeJSONResponse(w, http.StatusOK, &models.CleanupResponse{Removed: removed, Total: total})
}

// ListViolations handles GET /api/v1/violations
// Query parameters: policy, identifier, since (RFC3339), limit.
func (h *Handlers) ListViolations(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		h.writeErrorResponse(w, r, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Violation storage is not configured")
		return
	}

	query := r.URL.Query()
	filter := models.ViolationFilter{
		Policy:     query.Get("policy"),
		Identifier: query.Get("identifier"),
	}

	if since := query.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = t
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}
	filter = filter.Normalize()

	violations, err := h.storage.Violations(r.Context(), filter)
	if err != nil {
		slog.Error("Failed to list violations", "error", err)
		h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to list violations")
		return
	}

	total, err := h.storage.CountViolations(r.Context(), filter)
	if err != nil {
		slog.Error("Failed to count violations", "error", err)
		h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to count violations")
		return
	}

	if violations == nil {
		violations = []*models.Violation{}
	}
	h.writeJSONResponse(w, http.StatusOK, &models.ListViolationsResponse{
		Violations: violations,
		TotalCount: total,
		Returned:   len(violations),
	})
}

// GetViolation handles GET /api/v1/violations/{id}
func (h *Handlers) GetViolation(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		h.writeErrorResponse(w, r, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Violation storage is not configured")
		return
	}

	id := mux.Vars(r)["id"]
	v, err := h.storage.GetViolation(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeErrorResponse(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Violation not found")
		return
	}
	if err != nil {
		slog.Error("Failed to get violation", "id", id, "error", err)
		h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to get violation")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, v)
}

func (h *Handlers) limiterFor(w http.ResponseWriter, r *http.Request) (ratelimit.Limiter, bool) {
	name := mux.Vars(r)["policy"]
	limiter, ok := h.registry.Get(name)
	if !ok {
		h.writeErrorResponse(w, r, http.StatusNotFound, models.ErrorCodePolicyNotFound, "Rate limit policy not found: "+name)
		return nil, false
	}
	return limiter, true
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, data)
}

// writeErrorResponse writes an error response tagged with the request ID.
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	writeError(w, r, statusCode, errorCode, message)
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing else can be sent.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	if r != nil {
		errorResp.RequestID = RequestIDFromContext(r.Context())
	}
	writeJSON(w, statusCode, errorResp)
}
