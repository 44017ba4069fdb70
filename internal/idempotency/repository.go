// Package idempotency deduplicates mutating HTTP requests keyed by the
// Idempotency-Key header, replaying the stored response for retries.
package idempotency

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("idempotency record not found")
	ErrDuplicate = errors.New("idempotency record already exists")
)

// Record stores the response captured for one (key, method, path) triple.
type Record struct {
	ID           string
	Key          string
	Method       string
	Path         string
	StatusCode   int
	ResponseBody []byte
	CreatedAt    time.Time
}

// Repository defines data access for idempotency records.
type Repository interface {
	Get(ctx context.Context, key, method, path string) (*Record, error)
	// Create persists the record, returning ErrDuplicate when another
	// request stored one for the same triple first.
	Create(ctx context.Context, record *Record) error
}
