// Package ratelimit provides in-memory admission control for HTTP requests.
// Three algorithms are available (fixed window, sliding window and token
// bucket) behind a common Limiter contract, together with identifier
// derivation from request headers, rate limit response headers, named policy
// presets and HTTP middleware.
//
// State is process-local. A restart resets every counter, and several
// processes never share counts.
package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Algorithm names a rate limiting strategy.
type Algorithm string

const (
	AlgorithmFixedWindow   Algorithm = "fixed_window"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmTokenBucket   Algorithm = "token_bucket"
)

func (a Algorithm) String() string {
	return string(a)
}

// ParseAlgorithm converts a configuration string to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AlgorithmFixedWindow, AlgorithmSlidingWindow, AlgorithmTokenBucket:
		return Algorithm(s), nil
	case "":
		return AlgorithmFixedWindow, nil
	default:
		return "", fmt.Errorf("unsupported rate limit algorithm: %s", s)
	}
}

// Policy describes one named limiter instance. It is built once at startup
// and never mutated afterwards.
type Policy struct {
	Name      string
	Algorithm Algorithm

	// MaxUnits is the number of admitted units per window, or the bucket
	// capacity for token bucket policies.
	MaxUnits int

	// Window applies to fixed and sliding window policies.
	Window time.Duration

	// RefillRate tokens are added every RefillPeriod (token bucket only).
	RefillRate   float64
	RefillPeriod time.Duration

	// IdentifierOverride, when set, replaces the per-request identifier so
	// every caller shares a single bucket.
	IdentifierOverride string
}

// Validate reports the first constraint the policy violates.
func (p Policy) Validate() error {
	if p.Name == "" {
		return errors.New("policy name cannot be empty")
	}
	if p.MaxUnits <= 0 {
		return fmt.Errorf("policy %s: max units must be positive", p.Name)
	}

	switch p.Algorithm {
	case AlgorithmFixedWindow, AlgorithmSlidingWindow:
		if p.Window < time.Millisecond {
			return fmt.Errorf("policy %s: window must be at least 1ms", p.Name)
		}
		if p.Window%time.Millisecond != 0 {
			return fmt.Errorf("policy %s: window must be a whole number of milliseconds", p.Name)
		}
	case AlgorithmTokenBucket:
		if p.RefillRate <= 0 {
			return fmt.Errorf("policy %s: refill rate must be positive", p.Name)
		}
		if p.RefillPeriod <= 0 {
			return fmt.Errorf("policy %s: refill period must be positive", p.Name)
		}
	default:
		return fmt.Errorf("policy %s: unsupported algorithm %q", p.Name, p.Algorithm)
	}

	return nil
}

// Result is the outcome of a single admission check. It is a value and is
// never modified after being returned.
type Result struct {
	Admitted  bool      `json:"admitted"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	TotalHits int       `json:"total_hits"`
}

// Limiter is the contract shared by all algorithms. Implementations are safe
// for concurrent use; decisions for one identifier are exact.
type Limiter interface {
	// Policy returns the policy the limiter was built from.
	Policy() Policy

	// Check consumes one unit for identifier when capacity allows.
	Check(identifier string) Result

	// Peek reports the current state for identifier without consuming.
	Peek(identifier string) Result

	// Reset forgets identifier so its next request is admitted.
	Reset(identifier string)

	// Cleanup drops stale entries and returns how many were removed.
	Cleanup() int

	// Len returns the number of tracked entries.
	Len() int
}

// Clock supplies the current time to limiters.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// New builds the limiter matching p.Algorithm. A nil clock means SystemClock.
func New(p Policy, clock Clock) (Limiter, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock{}
	}

	switch p.Algorithm {
	case AlgorithmFixedWindow:
		return NewFixedWindow(p, clock), nil
	case AlgorithmSlidingWindow:
		return NewSlidingWindow(p, clock), nil
	case AlgorithmTokenBucket:
		return NewTokenBucket(p, clock), nil
	default:
		return nil, fmt.Errorf("unsupported rate limit algorithm: %s", p.Algorithm)
	}
}
