package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"gatekeeper/internal/models"

	"github.com/google/uuid"
)

// ViolationRecorder persists rejected admissions. storage.Storage satisfies it.
type ViolationRecorder interface {
	RecordViolation(ctx context.Context, v *models.Violation) error
}

type middlewareConfig struct {
	recorder      ViolationRecorder
	clock         Clock
	recordTimeout time.Duration
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithViolationRecorder stores a models.Violation for every rejected request.
func WithViolationRecorder(rec ViolationRecorder) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.recorder = rec
	}
}

// WithHeaderClock sets the clock used to compute Retry-After.
func WithHeaderClock(clock Clock) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.clock = clock
	}
}

// Middleware returns HTTP middleware that admits requests through limiter.
// Rate limit headers are always set. Rejected requests receive 429 with a JSON
// error body and never reach next.
func Middleware(limiter Limiter, keyFunc KeyFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{
		clock:         SystemClock{},
		recordTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if keyFunc == nil {
		keyFunc = IdentifierFromRequest(false)
	}
	policy := limiter.Policy()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := effectiveIdentifier(limiter, keyFunc(r))
			res := limiter.Check(identifier)

			now := cfg.clock.Now()
			WriteHeaders(w.Header(), res, now)

			if res.Admitted {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := RetryAfterSeconds(res, now)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)

			errorResp := models.NewErrorResponse("Rate limit exceeded", models.ErrorCodeRateLimitExceeded)
			errorResp.Details = map[string]string{
				"policy":   policy.Name,
				"reset_at": res.ResetAt.UTC().Format(time.RFC3339),
			}
			json.NewEncoder(w).Encode(errorResp)

			slog.Warn("Rate limit exceeded",
				"policy", policy.Name,
				"key", identifier,
				"limit", res.Limit,
				"retry_after", retryAfter,
			)

			if cfg.recorder != nil {
				recordViolation(r, cfg, policy, identifier, res, now)
			}
		})
	}
}

func recordViolation(r *http.Request, cfg *middlewareConfig, policy Policy, identifier string, res Result, now time.Time) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), cfg.recordTimeout)
	defer cancel()

	v := &models.Violation{
		ID:         uuid.New().String(),
		Policy:     policy.Name,
		Algorithm:  policy.Algorithm.String(),
		Identifier: identifier,
		Method:     r.Method,
		Path:       r.URL.Path,
		Limit:      res.Limit,
		ResetAt:    res.ResetAt.UTC(),
		OccurredAt: now.UTC(),
	}
	if err := cfg.recorder.RecordViolation(ctx, v); err != nil {
		slog.Error("Failed to record rate limit violation", "policy", policy.Name, "error", err)
	}
}
