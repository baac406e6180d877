package storage

import (
	"context"
	"time"

	"gatekeeper/internal/models"
)

// Storage persists the rate limit violation audit log. Implementations are
// safe for concurrent use. Limiter counters never live here.
type Storage interface {
	// RecordViolation appends a violation. IDs must be unique.
	RecordViolation(ctx context.Context, v *models.Violation) error

	// GetViolation returns a single violation or ErrNotFound.
	GetViolation(ctx context.Context, id string) (*models.Violation, error)

	// Violations returns matching violations, newest first, capped at the
	// normalized filter limit.
	Violations(ctx context.Context, filter models.ViolationFilter) ([]*models.Violation, error)

	// CountViolations returns the number of matching violations ignoring
	// the filter limit.
	CountViolations(ctx context.Context, filter models.ViolationFilter) (int, error)

	// PurgeViolations deletes violations that occurred before the cutoff and
	// returns how many were removed.
	PurgeViolations(ctx context.Context, before time.Time) (int64, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// CacheTTL specifies how long the JSON backend trusts its in-memory copy
	CacheTTL string `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`

	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
}
