package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"gatekeeper/internal/models"
	"gatekeeper/internal/ratelimit"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// epoch falls on a UTC day boundary so fixed windows start at epoch.
var epoch = time.UnixMilli(1_699_920_000_000)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: epoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testPolicies() []ratelimit.Policy {
	return []ratelimit.Policy{
		{Name: "api", Algorithm: ratelimit.AlgorithmFixedWindow, MaxUnits: 5, Window: time.Minute},
		{Name: "auth", Algorithm: ratelimit.AlgorithmFixedWindow, MaxUnits: 1, Window: 15 * time.Minute},
		{Name: "search", Algorithm: ratelimit.AlgorithmSlidingWindow, MaxUnits: 2, Window: time.Minute},
		{Name: "upload", Algorithm: ratelimit.AlgorithmTokenBucket, MaxUnits: 3, RefillRate: 1, RefillPeriod: time.Minute},
		{Name: "email", Algorithm: ratelimit.AlgorithmFixedWindow, MaxUnits: 1, Window: time.Hour, IdentifierOverride: "global"},
	}
}

func newTestRegistry(t *testing.T, clock ratelimit.Clock) *ratelimit.Registry {
	t.Helper()
	reg, err := ratelimit.NewRegistry(testPolicies(), ratelimit.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	return reg
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	return out
}

// mockStorage implements storage.Storage for handler error paths.
type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) RecordViolation(ctx context.Context, v *models.Violation) error {
	args := m.Called(ctx, v)
	return args.Error(0)
}

func (m *mockStorage) GetViolation(ctx context.Context, id string) (*models.Violation, error) {
	args := m.Called(ctx, id)
	v, _ := args.Get(0).(*models.Violation)
	return v, args.Error(1)
}

func (m *mockStorage) Violations(ctx context.Context, filter models.ViolationFilter) ([]*models.Violation, error) {
	args := m.Called(ctx, filter)
	vs, _ := args.Get(0).([]*models.Violation)
	return vs, args.Error(1)
}

func (m *mockStorage) CountViolations(ctx context.Context, filter models.ViolationFilter) (int, error) {
	args := m.Called(ctx, filter)
	return args.Int(0), args.Error(1)
}

func (m *mockStorage) PurgeViolations(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStorage) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStorage) Close() error {
	return nil
}
