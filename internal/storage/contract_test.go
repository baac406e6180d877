package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"gatekeeper/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testViolation(id, policy, identifier string, occurredAt time.Time) *models.Violation {
	return &models.Violation{
		ID:         id,
		Policy:     policy,
		Algorithm:  "fixed_window",
		Identifier: identifier,
		Method:     "POST",
		Path:       "/api/contact",
		Limit:      3,
		ResetAt:    occurredAt.Add(time.Hour),
		OccurredAt: occurredAt,
	}
}

func seedViolations(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()
	seed := []*models.Violation{
		testViolation("v1", "contact", "203.0.113.50:abc", baseTime),
		testViolation("v2", "contact", "198.51.100.7:def", baseTime.Add(time.Minute)),
		testViolation("v3", "auth", "203.0.113.50:abc", baseTime.Add(2*time.Minute)),
		testViolation("v4", "auth", "203.0.113.50:abc", baseTime.Add(3*time.Minute)),
	}
	for _, v := range seed {
		require.NoError(t, s.RecordViolation(ctx, v))
	}
}

func ids(vs []*models.Violation) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.ID
	}
	return out
}

// runStorageContract exercises behaviour every backend must share.
func runStorageContract(t *testing.T, newStorage func(t *testing.T) Storage) {
	ctx := context.Background()

	t.Run("RecordAndGet", func(t *testing.T) {
		s := newStorage(t)
		v := testViolation("v1", "contact", "203.0.113.50:abc", baseTime)
		require.NoError(t, s.RecordViolation(ctx, v))

		got, err := s.GetViolation(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, v.Policy, got.Policy)
		assert.Equal(t, v.Algorithm, got.Algorithm)
		assert.Equal(t, v.Identifier, got.Identifier)
		assert.Equal(t, v.Method, got.Method)
		assert.Equal(t, v.Path, got.Path)
		assert.Equal(t, v.Limit, got.Limit)
		assert.True(t, v.OccurredAt.Equal(got.OccurredAt))
		assert.True(t, v.ResetAt.Equal(got.ResetAt))
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStorage(t)
		_, err := s.GetViolation(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("RejectsInvalid", func(t *testing.T) {
		s := newStorage(t)
		err := s.RecordViolation(ctx, &models.Violation{ID: "x"})
		assert.Error(t, err)
	})

	t.Run("RejectsDuplicateID", func(t *testing.T) {
		s := newStorage(t)
		v := testViolation("dup", "contact", "a", baseTime)
		require.NoError(t, s.RecordViolation(ctx, v))
		assert.ErrorIs(t, s.RecordViolation(ctx, v), ErrAlreadyExists)
	})

	t.Run("NewestFirst", func(t *testing.T) {
		s := newStorage(t)
		seedViolations(t, s)

		got, err := s.Violations(ctx, models.ViolationFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"v4", "v3", "v2", "v1"}, ids(got))
	})

	t.Run("Filters", func(t *testing.T) {
		s := newStorage(t)
		seedViolations(t, s)

		got, err := s.Violations(ctx, models.ViolationFilter{Policy: "contact"})
		require.NoError(t, err)
		assert.Equal(t, []string{"v2", "v1"}, ids(got))

		got, err = s.Violations(ctx, models.ViolationFilter{Identifier: "203.0.113.50:abc"})
		require.NoError(t, err)
		assert.Equal(t, []string{"v4", "v3", "v1"}, ids(got))

		got, err = s.Violations(ctx, models.ViolationFilter{Since: baseTime.Add(2 * time.Minute)})
		require.NoError(t, err)
		assert.Equal(t, []string{"v4", "v3"}, ids(got))

		got, err = s.Violations(ctx, models.ViolationFilter{Policy: "auth", Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"v4"}, ids(got))

		got, err = s.Violations(ctx, models.ViolationFilter{Policy: "booking"})
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NotNil(t, got)
	})

	t.Run("Count", func(t *testing.T) {
		s := newStorage(t)
		seedViolations(t, s)

		n, err := s.CountViolations(ctx, models.ViolationFilter{})
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		n, err = s.CountViolations(ctx, models.ViolationFilter{Policy: "auth", Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, 2, n, "count ignores the page size")
	})

	t.Run("Purge", func(t *testing.T) {
		s := newStorage(t)
		seedViolations(t, s)

		removed, err := s.PurgeViolations(ctx, baseTime.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)

		got, err := s.Violations(ctx, models.ViolationFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"v4", "v3"}, ids(got))

		_, err = s.GetViolation(ctx, "v1")
		assert.ErrorIs(t, err, ErrNotFound)

		removed, err = s.PurgeViolations(ctx, baseTime)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStorage(t)
		assert.NoError(t, s.Ping(ctx))
	})

	t.Run("ConcurrentRecords", func(t *testing.T) {
		s := newStorage(t)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				v := testViolation(fmt.Sprintf("c%02d", i), "api", "shared", baseTime.Add(time.Duration(i)*time.Second))
				assert.NoError(t, s.RecordViolation(ctx, v))
			}(i)
		}
		wg.Wait()

		n, err := s.CountViolations(ctx, models.ViolationFilter{})
		require.NoError(t, err)
		assert.Equal(t, 20, n)
	})
}
