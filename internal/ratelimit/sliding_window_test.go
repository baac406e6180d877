package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSlidingWindow(t *testing.T, maxUnits int, window time.Duration) (*SlidingWindow, *manualClock) {
	t.Helper()
	clock := newManualClock(epoch)
	l, err := New(Policy{
		Name:      "test",
		Algorithm: AlgorithmSlidingWindow,
		MaxUnits:  maxUnits,
		Window:    window,
	}, clock)
	require.NoError(t, err)
	return l.(*SlidingWindow), clock
}

func TestSlidingWindow_Precision(t *testing.T) {
	limiter, clock := newTestSlidingWindow(t, 3, time.Second)

	steps := []struct {
		at        time.Duration
		admitted  bool
		remaining int
	}{
		{at: 0, admitted: true, remaining: 2},
		{at: 300 * time.Millisecond, admitted: true, remaining: 1},
		{at: 600 * time.Millisecond, admitted: true, remaining: 0},
		{at: 700 * time.Millisecond, admitted: false, remaining: 0},
		{at: 1050 * time.Millisecond, admitted: true, remaining: 0},
	}

	for _, step := range steps {
		clock.Set(epoch.Add(step.at))
		res := limiter.Check("client")
		assert.Equal(t, step.admitted, res.Admitted, "t=%s", step.at)
		assert.Equal(t, step.remaining, res.Remaining, "t=%s", step.at)
	}
}

func TestSlidingWindow_RejectedResetAt(t *testing.T) {
	limiter, clock := newTestSlidingWindow(t, 2, time.Second)

	limiter.Check("client")
	clock.Advance(400 * time.Millisecond)
	limiter.Check("client")
	clock.Advance(100 * time.Millisecond)

	res := limiter.Check("client")
	require.False(t, res.Admitted)
	assert.True(t, epoch.Add(time.Second).Equal(res.ResetAt), "reset is oldest timestamp plus window")
	assert.Equal(t, 2, res.TotalHits)
}

func TestSlidingWindow_TimestampOnBoundaryExpires(t *testing.T) {
	limiter, clock := newTestSlidingWindow(t, 1, time.Second)

	assert.True(t, limiter.Check("client").Admitted)
	clock.Advance(time.Second)
	assert.True(t, limiter.Check("client").Admitted, "timestamps must be strictly inside the window")
}

func TestSlidingWindow_NoBoundaryBurst(t *testing.T) {
	limiter, clock := newTestSlidingWindow(t, 5, time.Second)

	clock.Set(epoch.Add(900 * time.Millisecond))
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Check("client").Admitted)
	}

	clock.Advance(200 * time.Millisecond)
	assert.False(t, limiter.Check("client").Admitted)
}

func TestSlidingWindow_PeekIsIdempotent(t *testing.T) {
	limiter, clock := newTestSlidingWindow(t, 3, time.Second)

	limiter.Check("client")
	clock.Advance(500 * time.Millisecond)
	limiter.Check("client")

	first := limiter.Peek("client")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, limiter.Peek("client"))
	}
	assert.Equal(t, 1, first.Remaining)
	assert.Equal(t, 2, first.TotalHits)

	res := limiter.Check("client")
	assert.True(t, res.Admitted)
	assert.Equal(t, 0, res.Remaining)
}

func TestSlidingWindow_PeekEmpty(t *testing.T) {
	limiter, clock := newTestSlidingWindow(t, 3, time.Second)

	res := limiter.Peek("nobody")
	assert.True(t, res.Admitted)
	assert.Equal(t, 3, res.Remaining)
	assert.True(t, clock.Now().Add(time.Second).Equal(res.ResetAt))
}

func TestSlidingWindow_Reset(t *testing.T) {
	limiter, _ := newTestSlidingWindow(t, 1, time.Minute)

	limiter.Check("client")
	require.False(t, limiter.Check("client").Admitted)

	limiter.Reset("client")
	assert.True(t, limiter.Check("client").Admitted)
}

func TestSlidingWindow_IdentifierIsolation(t *testing.T) {
	limiter, _ := newTestSlidingWindow(t, 1, time.Minute)

	limiter.Check("a")
	assert.False(t, limiter.Check("a").Admitted)
	assert.True(t, limiter.Check("b").Admitted)
}

func TestSlidingWindow_Cleanup(t *testing.T) {
	limiter, clock := newTestSlidingWindow(t, 3, time.Second)

	limiter.Check("idle")
	clock.Advance(600 * time.Millisecond)
	limiter.Check("active")
	clock.Advance(600 * time.Millisecond)

	assert.Equal(t, 1, limiter.Cleanup())
	assert.Equal(t, 1, limiter.Len())

	res := limiter.Peek("active")
	assert.Equal(t, 1, res.TotalHits)
}

func TestSlidingWindow_ConcurrentAccess(t *testing.T) {
	limiter, _ := newTestSlidingWindow(t, 25, time.Hour)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if limiter.Check("shared").Admitted {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(25), admitted.Load())
}
