package ratelimit

import "time"

var _ Limiter = (*SlidingWindow)(nil)

// SlidingWindow keeps the admission instants of each identifier and counts
// only those inside the trailing Policy.Window.
type SlidingWindow struct {
	policy  Policy
	clock   Clock
	entries *shardedMap[[]time.Time]
}

// NewSlidingWindow creates a sliding window limiter. The policy is assumed valid.
func NewSlidingWindow(p Policy, clock Clock) *SlidingWindow {
	return &SlidingWindow{
		policy:  p,
		clock:   clock,
		entries: newShardedMap[[]time.Time](),
	}
}

// Policy returns the limiter policy.
func (sw *SlidingWindow) Policy() Policy {
	return sw.policy
}

// Check prunes expired timestamps and records now when the window has room.
func (sw *SlidingWindow) Check(identifier string) Result {
	now := sw.clock.Now()
	cutoff := now.Add(-sw.policy.Window)
	s := sw.entries.shardFor(identifier)

	s.mu.Lock()
	defer s.mu.Unlock()

	timestamps := prune(s.entries[identifier], cutoff)

	if len(timestamps) >= sw.policy.MaxUnits {
		s.entries[identifier] = timestamps
		return Result{
			Admitted:  false,
			Limit:     sw.policy.MaxUnits,
			Remaining: max(0, sw.policy.MaxUnits-len(timestamps)),
			ResetAt:   sw.resetAt(timestamps, now),
			TotalHits: len(timestamps),
		}
	}

	remaining := sw.policy.MaxUnits - len(timestamps) - 1
	timestamps = append(timestamps, now)
	s.entries[identifier] = timestamps

	return Result{
		Admitted:  true,
		Limit:     sw.policy.MaxUnits,
		Remaining: remaining,
		ResetAt:   sw.resetAt(timestamps, now),
		TotalHits: len(timestamps),
	}
}

// Peek counts in-window timestamps without changing stored state.
func (sw *SlidingWindow) Peek(identifier string) Result {
	now := sw.clock.Now()
	cutoff := now.Add(-sw.policy.Window)
	s := sw.entries.shardFor(identifier)

	s.mu.Lock()
	timestamps := s.entries[identifier]
	first := firstInWindow(timestamps, cutoff)
	inWindow := timestamps[first:]
	result := Result{
		Admitted:  len(inWindow) < sw.policy.MaxUnits,
		Limit:     sw.policy.MaxUnits,
		Remaining: max(0, sw.policy.MaxUnits-len(inWindow)),
		ResetAt:   sw.resetAt(inWindow, now),
		TotalHits: len(inWindow),
	}
	s.mu.Unlock()

	return result
}

// Reset forgets every timestamp recorded for identifier.
func (sw *SlidingWindow) Reset(identifier string) {
	s := sw.entries.shardFor(identifier)
	s.mu.Lock()
	delete(s.entries, identifier)
	s.mu.Unlock()
}

// Cleanup drops identifiers with no timestamp left inside the window.
func (sw *SlidingWindow) Cleanup() int {
	cutoff := sw.clock.Now().Add(-sw.policy.Window)
	return sw.entries.deleteIf(func(_ string, timestamps []time.Time) bool {
		return firstInWindow(timestamps, cutoff) == len(timestamps)
	})
}

// Len returns the number of tracked identifiers.
func (sw *SlidingWindow) Len() int {
	return sw.entries.len()
}

// resetAt is when the oldest retained timestamp leaves the window.
func (sw *SlidingWindow) resetAt(timestamps []time.Time, now time.Time) time.Time {
	if len(timestamps) == 0 {
		return now.Add(sw.policy.Window)
	}
	return timestamps[0].Add(sw.policy.Window)
}

// firstInWindow returns the index of the first timestamp after cutoff.
// Timestamps are stored in insertion order, which is non-decreasing.
func firstInWindow(timestamps []time.Time, cutoff time.Time) int {
	i := 0
	for ; i < len(timestamps); i++ {
		if timestamps[i].After(cutoff) {
			break
		}
	}
	return i
}

// prune drops timestamps at or before cutoff. The backing array is reused.
func prune(timestamps []time.Time, cutoff time.Time) []time.Time {
	i := firstInWindow(timestamps, cutoff)
	if i == 0 {
		return timestamps
	}
	n := copy(timestamps, timestamps[i:])
	return timestamps[:n]
}
