package models

import (
	"errors"
	"time"
)

const (
	DefaultViolationLimit = 100
	MaxViolationLimit     = 1000
)

// Violation records one rejected admission. It is an audit entry only and
// never feeds back into limiter state.
type Violation struct {
	ID         string    `json:"id"`
	Policy     string    `json:"policy"`
	Algorithm  string    `json:"algorithm"`
	Identifier string    `json:"identifier"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Limit      int       `json:"limit"`
	ResetAt    time.Time `json:"reset_at"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (v *Violation) Validate() error {
	if v.ID == "" {
		return errors.New("violation id cannot be empty")
	}
	if v.Policy == "" {
		return errors.New("violation policy cannot be empty")
	}
	if v.Identifier == "" {
		return errors.New("violation identifier cannot be empty")
	}
	if v.OccurredAt.IsZero() {
		return errors.New("violation time cannot be zero")
	}
	return nil
}

// ViolationFilter narrows violation queries. Empty fields match everything.
type ViolationFilter struct {
	Policy     string
	Identifier string
	Since      time.Time
	Limit      int
}

// Normalize applies the default and maximum page size.
func (f ViolationFilter) Normalize() ViolationFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultViolationLimit
	}
	if f.Limit > MaxViolationLimit {
		f.Limit = MaxViolationLimit
	}
	return f
}

// Matches reports whether v satisfies every set field of f. Limit is ignored.
func (f ViolationFilter) Matches(v *Violation) bool {
	if f.Policy != "" && v.Policy != f.Policy {
		return false
	}
	if f.Identifier != "" && v.Identifier != f.Identifier {
		return false
	}
	if !f.Since.IsZero() && v.OccurredAt.Before(f.Since) {
		return false
	}
	return true
}
