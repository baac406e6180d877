package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFixedWindow(t *testing.T, maxUnits int, window time.Duration) (*FixedWindow, *manualClock) {
	t.Helper()
	clock := newManualClock(epoch)
	l, err := New(Policy{
		Name:      "test",
		Algorithm: AlgorithmFixedWindow,
		MaxUnits:  maxUnits,
		Window:    window,
	}, clock)
	require.NoError(t, err)
	return l.(*FixedWindow), clock
}

func TestFixedWindow_AdmitsExactlyMaxUnits(t *testing.T) {
	limiter, clock := newTestFixedWindow(t, 5, time.Second)

	var admitted []bool
	var remaining []int
	for i := 0; i < 7; i++ {
		res := limiter.Check("client")
		admitted = append(admitted, res.Admitted)
		remaining = append(remaining, res.Remaining)
		clock.Advance(100 * time.Millisecond)
	}

	assert.Equal(t, []bool{true, true, true, true, true, false, false}, admitted)
	assert.Equal(t, []int{4, 3, 2, 1, 0, 0, 0}, remaining)
}

func TestFixedWindow_ResultFields(t *testing.T) {
	limiter, _ := newTestFixedWindow(t, 3, time.Second)

	res := limiter.Check("client")
	assert.Equal(t, 3, res.Limit)
	assert.Equal(t, 1, res.TotalHits)
	assert.True(t, epoch.Add(time.Second).Equal(res.ResetAt))

	limiter.Check("client")
	limiter.Check("client")
	res = limiter.Check("client")
	assert.False(t, res.Admitted)
	assert.Equal(t, 3, res.TotalHits, "rejections are not counted")
}

func TestFixedWindow_ReadmitsAfterWindow(t *testing.T) {
	limiter, clock := newTestFixedWindow(t, 5, time.Second)

	for i := 0; i < 6; i++ {
		limiter.Check("client")
	}
	assert.False(t, limiter.Check("client").Admitted)

	clock.Advance(time.Second)

	res := limiter.Check("client")
	assert.True(t, res.Admitted)
	assert.Equal(t, 4, res.Remaining)
}

func TestFixedWindow_BoundaryBurst(t *testing.T) {
	limiter, clock := newTestFixedWindow(t, 5, time.Second)

	// Tail of the first window.
	clock.Set(epoch.Add(900 * time.Millisecond))
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Check("client").Admitted)
	}

	// 200ms later, past the boundary: a fresh window admits another full batch.
	clock.Advance(200 * time.Millisecond)
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Check("client").Admitted, "request %d after boundary", i+1)
	}
	assert.False(t, limiter.Check("client").Admitted)
}

func TestFixedWindow_PeekIsIdempotent(t *testing.T) {
	limiter, _ := newTestFixedWindow(t, 5, time.Second)

	limiter.Check("client")
	limiter.Check("client")

	first := limiter.Peek("client")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, limiter.Peek("client"))
	}
	assert.Equal(t, 3, first.Remaining)
	assert.True(t, first.Admitted)

	assert.Equal(t, 2, limiter.Check("client").Remaining)
}

func TestFixedWindow_PeekUnknownIdentifier(t *testing.T) {
	limiter, _ := newTestFixedWindow(t, 5, time.Second)

	res := limiter.Peek("nobody")
	assert.True(t, res.Admitted)
	assert.Equal(t, 5, res.Remaining)
	assert.Equal(t, 0, limiter.Len(), "peek must not create entries")
}

func TestFixedWindow_Reset(t *testing.T) {
	limiter, _ := newTestFixedWindow(t, 2, time.Minute)

	limiter.Check("client")
	limiter.Check("client")
	require.False(t, limiter.Check("client").Admitted)

	limiter.Reset("client")

	res := limiter.Check("client")
	assert.True(t, res.Admitted)
	assert.Equal(t, 1, res.Remaining)
}

func TestFixedWindow_IdentifierIsolation(t *testing.T) {
	limiter, _ := newTestFixedWindow(t, 2, time.Minute)

	for i := 0; i < 5; i++ {
		limiter.Check("a")
	}
	assert.False(t, limiter.Check("a").Admitted)

	res := limiter.Check("b")
	assert.True(t, res.Admitted)
	assert.Equal(t, 1, res.Remaining)
}

func TestFixedWindow_Cleanup(t *testing.T) {
	limiter, clock := newTestFixedWindow(t, 5, time.Second)

	limiter.Check("a")
	limiter.Check("b")
	require.Equal(t, 2, limiter.Len())

	clock.Advance(2 * time.Second)

	assert.Equal(t, 2, limiter.Cleanup())
	assert.Equal(t, 0, limiter.Len())
}

func TestFixedWindow_CleanupKeepsCurrentWindow(t *testing.T) {
	limiter, clock := newTestFixedWindow(t, 5, time.Second)

	limiter.Check("a")
	clock.Advance(500 * time.Millisecond)

	assert.Equal(t, 0, limiter.Cleanup())
	assert.Equal(t, 1, limiter.Len())
}

func TestFixedWindow_OpportunisticPurge(t *testing.T) {
	limiter, clock := newTestFixedWindow(t, 5, time.Second)

	limiter.Check("a")
	limiter.Check("b")
	require.Equal(t, 2, limiter.Len())

	clock.Advance(2*time.Second + time.Millisecond)
	limiter.Check("c")

	assert.Equal(t, 1, limiter.Len(), "stale windows are purged by the next check")
}

func TestFixedWindow_ConcurrentAccess(t *testing.T) {
	limiter, _ := newTestFixedWindow(t, 50, time.Hour)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if limiter.Check("shared").Admitted {
					admitted.Add(1)
				}
				limiter.Check(fmt.Sprintf("client-%d", id))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(50), admitted.Load())
}
