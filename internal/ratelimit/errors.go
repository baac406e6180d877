package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimitExceeded matches every ExceededError via errors.Is.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ExceededError carries the rejected result for callers that prefer error
// based control flow.
type ExceededError struct {
	Policy     string
	Identifier string
	Result     Result
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("Rate limit exceeded. Resets at %s", e.Result.ResetAt.UTC().Format(time.RFC3339))
}

// Is reports whether target is ErrRateLimitExceeded.
func (e *ExceededError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// Enforce runs Check and converts a rejection into an *ExceededError. The
// result is returned either way.
func Enforce(l Limiter, identifier string) (Result, error) {
	identifier = effectiveIdentifier(l, identifier)
	res := l.Check(identifier)
	if !res.Admitted {
		return res, &ExceededError{
			Policy:     l.Policy().Name,
			Identifier: identifier,
			Result:     res,
		}
	}
	return res, nil
}

// Guard runs fn only when identifier is admitted by l. A rejection is
// returned as an *ExceededError without calling fn.
func Guard(l Limiter, identifier string, fn func() error) error {
	if _, err := Enforce(l, identifier); err != nil {
		return err
	}
	return fn()
}

// effectiveIdentifier applies the policy's identifier override.
func effectiveIdentifier(l Limiter, identifier string) string {
	if override := l.Policy().IdentifierOverride; override != "" {
		return override
	}
	return identifier
}
