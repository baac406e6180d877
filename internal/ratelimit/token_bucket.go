package ratelimit

import (
	"math"
	"time"
)

var _ Limiter = (*TokenBucket)(nil)

// bucket is the token balance of one identifier.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// TokenBucket gives each identifier a bucket of Policy.MaxUnits tokens that
// refills by RefillRate every whole RefillPeriod. Buckets start full and are
// kept until Reset; idle identifiers are never expired.
type TokenBucket struct {
	policy   Policy
	clock    Clock
	capacity float64
	entries  *shardedMap[*bucket]
}

// NewTokenBucket creates a token bucket limiter. The policy is assumed valid.
func NewTokenBucket(p Policy, clock Clock) *TokenBucket {
	return &TokenBucket{
		policy:   p,
		clock:    clock,
		capacity: float64(p.MaxUnits),
		entries:  newShardedMap[*bucket](),
	}
}

// Policy returns the limiter policy.
func (tb *TokenBucket) Policy() Policy {
	return tb.policy
}

// Check consumes a single token.
func (tb *TokenBucket) Check(identifier string) Result {
	return tb.CheckN(identifier, 1)
}

// CheckN consumes units tokens when the refilled balance covers them. A
// rejected call leaves the balance untouched. Units below 1 count as 1.
func (tb *TokenBucket) CheckN(identifier string, units int) Result {
	if units < 1 {
		units = 1
	}
	now := tb.clock.Now()
	s := tb.entries.shardFor(identifier)

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.entries[identifier]
	if !ok {
		b = &bucket{tokens: tb.capacity, lastRefill: now}
		s.entries[identifier] = b
	}
	b.tokens, b.lastRefill = tb.refill(b.tokens, b.lastRefill, now)

	admitted := b.tokens >= float64(units)
	if admitted {
		b.tokens -= float64(units)
	}

	return tb.result(admitted, b.tokens, b.lastRefill)
}

// Peek reports the refilled balance without storing the refill.
func (tb *TokenBucket) Peek(identifier string) Result {
	now := tb.clock.Now()
	s := tb.entries.shardFor(identifier)

	s.mu.Lock()
	tokens, lastRefill := tb.capacity, now
	if b, ok := s.entries[identifier]; ok {
		tokens, lastRefill = tb.refill(b.tokens, b.lastRefill, now)
	}
	s.mu.Unlock()

	return tb.result(tokens >= 1, tokens, lastRefill)
}

// Reset drops the bucket; the next request starts from full capacity.
func (tb *TokenBucket) Reset(identifier string) {
	s := tb.entries.shardFor(identifier)
	s.mu.Lock()
	delete(s.entries, identifier)
	s.mu.Unlock()
}

// Cleanup is a no-op: buckets carry no expiry.
func (tb *TokenBucket) Cleanup() int {
	return 0
}

// Len returns the number of tracked buckets.
func (tb *TokenBucket) Len() int {
	return tb.entries.len()
}

// refill adds RefillRate tokens for every whole period elapsed since
// lastRefill, capped at capacity. lastRefill advances by whole periods only,
// so partial periods keep accruing towards the next refill.
func (tb *TokenBucket) refill(tokens float64, lastRefill, now time.Time) (float64, time.Time) {
	elapsed := now.Sub(lastRefill)
	if elapsed < tb.policy.RefillPeriod {
		return tokens, lastRefill
	}

	periods := int64(elapsed / tb.policy.RefillPeriod)
	tokensToAdd := float64(periods) * tb.policy.RefillRate
	if tokensToAdd <= 0 {
		return tokens, lastRefill
	}

	tokens = math.Min(tb.capacity, tokens+tokensToAdd)
	return tokens, lastRefill.Add(time.Duration(periods) * tb.policy.RefillPeriod)
}

func (tb *TokenBucket) result(admitted bool, tokens float64, lastRefill time.Time) Result {
	remaining := int(math.Floor(tokens))
	return Result{
		Admitted:  admitted,
		Limit:     tb.policy.MaxUnits,
		Remaining: remaining,
		ResetAt:   lastRefill.Add(tb.policy.RefillPeriod),
		TotalHits: tb.policy.MaxUnits - remaining,
	}
}
