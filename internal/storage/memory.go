package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gatekeeper/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data structures.
// This provider is ideal for development, testing, and single instance
// deployments that do not need the audit log to survive a restart.
type MemoryStorage struct {
	mu         sync.RWMutex
	violations []*models.Violation
	byID       map[string]*models.Violation
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		violations: make([]*models.Violation, 0),
		byID:       make(map[string]*models.Violation),
	}, nil
}

// RecordViolation stores a copy of v
func (m *MemoryStorage) RecordViolation(ctx context.Context, v *models.Violation) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("invalid violation: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[v.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, v.ID)
	}

	vCopy := *v
	m.violations = append(m.violations, &vCopy)
	m.byID[v.ID] = &vCopy
	return nil
}

// GetViolation retrieves a violation by its ID
func (m *MemoryStorage) GetViolation(ctx context.Context, id string) (*models.Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, exists := m.byID[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	vCopy := *v
	return &vCopy, nil
}

// Violations returns matching violations, newest first
func (m *MemoryStorage) Violations(ctx context.Context, filter models.ViolationFilter) ([]*models.Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched, _ := selectViolations(m.violations, filter)
	return matched, nil
}

// CountViolations counts matching violations
func (m *MemoryStorage) CountViolations(ctx context.Context, filter models.ViolationFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, v := range m.violations {
		if filter.Matches(v) {
			count++
		}
	}
	return count, nil
}

// PurgeViolations removes violations older than before
func (m *MemoryStorage) PurgeViolations(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.violations[:0]
	var removed int64
	for _, v := range m.violations {
		if v.OccurredAt.Before(before) {
			delete(m.byID, v.ID)
			removed++
			continue
		}
		kept = append(kept, v)
	}
	clear(m.violations[len(kept):])
	m.violations = kept
	return removed, nil
}

// Ping always succeeds for memory storage
func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for memory storage
func (m *MemoryStorage) Close() error {
	return nil
}
