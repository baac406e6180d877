package ratelimit

import (
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

var _ Limiter = (*FixedWindow)(nil)

// windowEntry counts admissions for one identifier within one window.
type windowEntry struct {
	count   int
	resetAt time.Time
}

// FixedWindow counts requests per identifier in clock-aligned windows of
// Policy.Window. Windows are not anchored to the first request, so a client
// may be admitted MaxUnits times at the end of one window and MaxUnits times
// again right after the boundary.
type FixedWindow struct {
	policy   Policy
	clock    Clock
	windowMs int64
	entries  *shardedMap[*windowEntry]

	// nextSweep holds the earliest known resetAt in Unix nanoseconds.
	nextSweep atomic.Int64
	sweepMu   sync.Mutex
}

// NewFixedWindow creates a fixed window limiter. The policy is assumed valid.
func NewFixedWindow(p Policy, clock Clock) *FixedWindow {
	f := &FixedWindow{
		policy:   p,
		clock:    clock,
		windowMs: p.Window.Milliseconds(),
		entries:  newShardedMap[*windowEntry](),
	}
	f.nextSweep.Store(math.MaxInt64)
	return f
}

// Policy returns the limiter policy.
func (f *FixedWindow) Policy() Policy {
	return f.policy
}

// window returns the entry key and reset instant for identifier at now.
func (f *FixedWindow) window(identifier string, now time.Time) (string, time.Time) {
	index := now.UnixMilli() / f.windowMs
	key := identifier + ":" + strconv.FormatInt(index, 10)
	return key, time.UnixMilli((index + 1) * f.windowMs)
}

// Check admits the request when the current window has capacity left.
func (f *FixedWindow) Check(identifier string) Result {
	now := f.clock.Now()
	f.maybeSweep(now)

	key, resetAt := f.window(identifier, now)
	s := f.entries.shardFor(key)

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &windowEntry{resetAt: resetAt}
		s.entries[key] = e
	}

	if e.count >= f.policy.MaxUnits {
		count := e.count
		s.mu.Unlock()
		return Result{
			Admitted:  false,
			Limit:     f.policy.MaxUnits,
			Remaining: 0,
			ResetAt:   resetAt,
			TotalHits: count,
		}
	}

	e.count++
	count := e.count
	s.mu.Unlock()
	if !ok {
		f.noteReset(resetAt)
	}

	return Result{
		Admitted:  true,
		Limit:     f.policy.MaxUnits,
		Remaining: f.policy.MaxUnits - count,
		ResetAt:   resetAt,
		TotalHits: count,
	}
}

// Peek reports the current window without counting a request.
func (f *FixedWindow) Peek(identifier string) Result {
	now := f.clock.Now()
	f.maybeSweep(now)

	key, resetAt := f.window(identifier, now)
	s := f.entries.shardFor(key)

	s.mu.Lock()
	count := 0
	if e, ok := s.entries[key]; ok {
		count = e.count
	}
	s.mu.Unlock()

	return Result{
		Admitted:  count < f.policy.MaxUnits,
		Limit:     f.policy.MaxUnits,
		Remaining: max(0, f.policy.MaxUnits-count),
		ResetAt:   resetAt,
		TotalHits: count,
	}
}

// Reset deletes the current window entry for identifier.
func (f *FixedWindow) Reset(identifier string) {
	key, _ := f.window(identifier, f.clock.Now())
	s := f.entries.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Cleanup purges every entry whose window has ended.
func (f *FixedWindow) Cleanup() int {
	f.sweepMu.Lock()
	defer f.sweepMu.Unlock()
	return f.sweep(f.clock.Now())
}

// Len returns the number of tracked windows.
func (f *FixedWindow) Len() int {
	return f.entries.len()
}

// maybeSweep purges expired entries once the clock passes the earliest known
// reset instant. Calls made before that instant cost a single atomic load.
func (f *FixedWindow) maybeSweep(now time.Time) {
	if now.UnixNano() <= f.nextSweep.Load() {
		return
	}
	if !f.sweepMu.TryLock() {
		return
	}
	defer f.sweepMu.Unlock()
	f.sweep(now)
}

// sweep must be called with sweepMu held.
func (f *FixedWindow) sweep(now time.Time) int {
	earliest := int64(math.MaxInt64)
	f.nextSweep.Store(math.MaxInt64)

	removed := f.entries.deleteIf(func(_ string, e *windowEntry) bool {
		if e.resetAt.Before(now) {
			return true
		}
		if ns := e.resetAt.UnixNano(); ns < earliest {
			earliest = ns
		}
		return false
	})

	f.noteResetNanos(earliest)
	return removed
}

func (f *FixedWindow) noteReset(resetAt time.Time) {
	f.noteResetNanos(resetAt.UnixNano())
}

// noteResetNanos lowers nextSweep to ns when ns is earlier.
func (f *FixedWindow) noteResetNanos(ns int64) {
	for {
		cur := f.nextSweep.Load()
		if ns >= cur || f.nextSweep.CompareAndSwap(cur, ns) {
			return
		}
	}
}
