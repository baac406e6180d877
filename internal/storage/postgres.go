package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gatekeeper/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const pgUniqueViolation = "23505"

// PostgresStorage implements the Storage interface using PostgreSQL.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance and applies
// pending migrations.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 && config.MaxIdleConns <= int(poolConfig.MaxConns) {
		poolConfig.MinConns = int32(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migratePostgres(ctx, config.ConnectionString); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStorage{pool: pool}, nil
}

func migratePostgres(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	return migrate(ctx, db, goose.DialectPostgres, "migrations/postgres")
}

// RecordViolation inserts v
func (ps *PostgresStorage) RecordViolation(ctx context.Context, v *models.Violation) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("invalid violation: %w", err)
	}

	_, err := ps.pool.Exec(ctx,
		`INSERT INTO violations (id, policy, algorithm, identifier, method, path, limit_units, reset_at, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		v.ID, v.Policy, v.Algorithm, v.Identifier, v.Method, v.Path, v.Limit, v.ResetAt, v.OccurredAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, v.ID)
		}
		return fmt.Errorf("failed to insert violation: %w", err)
	}
	return nil
}

// GetViolation retrieves a violation by its ID
func (ps *PostgresStorage) GetViolation(ctx context.Context, id string) (*models.Violation, error) {
	row := ps.pool.QueryRow(ctx,
		`SELECT id, policy, algorithm, identifier, method, path, limit_units, reset_at, occurred_at
		 FROM violations WHERE id = $1`, id)

	v, err := scanPgViolation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get violation: %w", err)
	}
	return v, nil
}

// Violations returns matching violations, newest first
func (ps *PostgresStorage) Violations(ctx context.Context, filter models.ViolationFilter) ([]*models.Violation, error) {
	filter = filter.Normalize()
	where, args := pgWhere(filter)
	args = append(args, filter.Limit)

	rows, err := ps.pool.Query(ctx,
		`SELECT id, policy, algorithm, identifier, method, path, limit_units, reset_at, occurred_at
		 FROM violations`+where+` ORDER BY occurred_at DESC, id DESC LIMIT $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	violations := make([]*models.Violation, 0)
	for rows.Next() {
		v, err := scanPgViolation(rows)
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
func (ps *PostgresStorage) CountViolations(ctx context.Context, filter models.ViolationFilter) (int, error) {
	where, args := pgWhere(filter)

	var count int64
	if err := ps.pool.QueryRow(ctx, `SELECT COUNT(*) FROM violations`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count violations: %w", err)
	}
	return int(count), nil
}

// PurgeViolations removes violations older than before
func (ps *PostgresStorage) PurgeViolations(ctx context.Context, before time.Time) (int64, error) {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM violations WHERE occurred_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge violations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks the database connection
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

func pgWhere(filter models.ViolationFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, clause+" $"+strconv.Itoa(len(args)))
	}

	if filter.Policy != "" {
		add("policy =", filter.Policy)
	}
	if filter.Identifier != "" {
		add("identifier =", filter.Identifier)
	}
	if !filter.Since.IsZero() {
		add("occurred_at >=", filter.Since)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanPgViolation(row rowScanner) (*models.Violation, error) {
	var v models.Violation
	var limit int32
	if err := row.Scan(&v.ID, &v.Policy, &v.Algorithm, &v.Identifier, &v.Method, &v.Path, &limit, &v.ResetAt, &v.OccurredAt); err != nil {
		return nil, err
	}
	v.Limit = int(limit)
	v.ResetAt = v.ResetAt.UTC()
	v.OccurredAt = v.OccurredAt.UTC()
	return &v, nil
}
