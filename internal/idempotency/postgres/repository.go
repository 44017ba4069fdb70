// Package postgres provides PostgreSQL implementation of the idempotency repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/statusbeacon/statusbeacon/internal/idempotency"
)

const uniqueViolation = "23505"

// Repository implements idempotency.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Get retrieves the record for a (key, method, path) triple.
func (r *Repository) Get(ctx context.Context, key, method, path string) (*idempotency.Record, error) {
	query := `
		SELECT id, key, method, path, status_code, response_body, created_at
		FROM idempotency_keys
		WHERE key = $1 AND method = $2 AND path = $3
	`
	var record idempotency.Record
	err := r.db.QueryRow(ctx, query, key, method, path).Scan(
		&record.ID,
		&record.Key,
		&record.Method,
		&record.Path,
		&record.StatusCode,
		&record.ResponseBody,
		&record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, idempotency.ErrNotFound
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return &record, nil
}

// Create persists a new record.
func (r *Repository) Create(ctx context.Context, record *idempotency.Record) error {
	query := `
		INSERT INTO idempotency_keys (key, method, path, status_code, response_body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		record.Key,
		record.Method,
		record.Path,
		record.StatusCode,
		record.ResponseBody,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return idempotency.ErrDuplicate
		}
		return fmt.Errorf("create idempotency record: %w", err)
	}
	return nil
}
