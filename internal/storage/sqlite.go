package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekeeper/internal/models"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteStorage stores violations in a SQLite database. Timestamps are kept
// as Unix nanoseconds so range filters compare integers.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens the database and applies pending migrations
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY and
	// keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(ctx, db, goose.DialectSQLite3, "migrations/sqlite"); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStorage{db: db}, nil
}

// RecordViolation inserts v
func (ss *SQLiteStorage) RecordViolation(ctx context.Context, v *models.Violation) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("invalid violation: %w", err)
	}

	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO violations (id, policy, algorithm, identifier, method, path, limit_units, reset_at, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Policy, v.Algorithm, v.Identifier, v.Method, v.Path, v.Limit,
		v.ResetAt.UnixNano(), v.OccurredAt.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, v.ID)
		}
		return fmt.Errorf("failed to insert violation: %w", err)
	}
	return nil
}

// GetViolation retrieves a violation by its ID
func (ss *SQLiteStorage) GetViolation(ctx context.Context, id string) (*models.Violation, error) {
	row := ss.db.QueryRowContext(ctx,
		`SELECT id, policy, algorithm, identifier, method, path, limit_units, reset_at, occurred_at
		 FROM violations WHERE id = ?`, id)

	v, err := scanSQLiteViolation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get violation: %w", err)
	}
	return v, nil
}

// Violations returns matching violations, newest first
func (ss *SQLiteStorage) Violations(ctx context.Context, filter models.ViolationFilter) ([]*models.Violation, error) {
	filter = filter.Normalize()
	where, args := sqliteWhere(filter)
	args = append(args, filter.Limit)

	rows, err := ss.db.QueryContext(ctx,
		`SELECT id, policy, algorithm, identifier, method, path, limit_units, reset_at, occurred_at
		 FROM violations`+where+` ORDER BY occurred_at DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	violations := make([]*models.Violation, 0)
	for rows.Next() {
		v, err := scanSQLiteViolation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		violations = append(violations, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate violations: %w", err)
	}
	return violations, nil
}

// CountViolations counts matching violations
func (ss *SQLiteStorage) CountViolations(ctx context.Context, filter models.ViolationFilter) (int, error) {
	where, args := sqliteWhere(filter)

	var count int
	if err := ss.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM violations`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count violations: %w", err)
	}
	return count, nil
}

// PurgeViolations removes violations older than before
func (ss *SQLiteStorage) PurgeViolations(ctx context.Context, before time.Time) (int64, error) {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM violations WHERE occurred_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge violations: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the database connection
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

func sqliteWhere(filter models.ViolationFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.Policy != "" {
		clauses = append(clauses, "policy = ?")
		args = append(args, filter.Policy)
	}
	if filter.Identifier != "" {
		clauses = append(clauses, "identifier = ?")
		args = append(args, filter.Identifier)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "occurred_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteViolation(row rowScanner) (*models.Violation, error) {
	var v models.Violation
	var resetAt, occurredAt int64
	if err := row.Scan(&v.ID, &v.Policy, &v.Algorithm, &v.Identifier, &v.Method, &v.Path, &v.Limit, &resetAt, &occurredAt); err != nil {
		return nil, err
	}
	v.ResetAt = time.Unix(0, resetAt).UTC()
	v.OccurredAt = time.Unix(0, occurredAt).UTC()
	return &v, nil
}
