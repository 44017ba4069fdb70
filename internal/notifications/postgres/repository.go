// Package postgres provides PostgreSQL implementation of notifications repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/statusbeacon/statusbeacon/internal/domain"
	"github.com/statusbeacon/statusbeacon/internal/notifications"
)

const uniqueViolation = "23505"

// Repository implements notifications.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateSubscriber creates a new subscriber.
func (r *Repository) CreateSubscriber(ctx context.Context, subscriber *domain.Subscriber) error {
	query := `
		INSERT INTO subscribers (email, scope, incident_id, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		subscriber.Email,
		subscriber.Scope,
		subscriber.IncidentID,
		subscriber.IsActive,
	).Scan(&subscriber.ID, &subscriber.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return notifications.ErrDuplicateSubscriber
		}
		return fmt.Errorf("create subscriber: %w", err)
	}
	return nil
}

// ListSubscribers retrieves all subscribers.
func (r *Repository) ListSubscribers(ctx context.Context) ([]*domain.Subscriber, error) {
	query := `
		SELECT id, email, scope, incident_id, is_active, created_at
		FROM subscribers
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	subscribers := make([]*domain.Subscriber, 0)
	for rows.Next() {
		var subscriber domain.Subscriber
		err := rows.Scan(
			&subscriber.ID,
			&subscriber.Email,
			&subscriber.Scope,
			&subscriber.IncidentID,
			&subscriber.IsActive,
			&subscriber.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subscribers = append(subscribers, &subscriber)
	}
	return subscribers, rows.Err()
}

// DeactivateSubscriber marks a subscriber inactive.
func (r *Repository) DeactivateSubscriber(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `UPDATE subscribers SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate subscriber: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notifications.ErrSubscriberNotFound
	}
	return nil
}

// ActiveRecipients returns the deduplicated, sorted union of active global
// and incident-scoped subscriber emails.
func (r *Repository) ActiveRecipients(ctx context.Context, incidentID string) ([]string, error) {
	query := `
		SELECT DISTINCT email
		FROM subscribers
		WHERE is_active
		  AND (scope = 'GLOBAL' OR (scope = 'INCIDENT' AND incident_id = $1))
		ORDER BY email
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("active recipients: %w", err)
	}
	defer rows.Close()

	emails := make([]string, 0)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// CreateDeliveries inserts pending delivery rows in a single batch.
func (r *Repository) CreateDeliveries(ctx context.Context, deliveries []*domain.EmailDelivery) error {
	if len(deliveries) == 0 {
		return nil
	}

	query := `
		INSERT INTO email_deliveries (incident_id, subscriber_email, subject, body, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	batch := &pgx.Batch{}
	for _, delivery := range deliveries {
		batch.Queue(query,
			delivery.IncidentID,
			delivery.SubscriberEmail,
			delivery.Subject,
			delivery.Body,
			delivery.Status,
			delivery.NextAttemptAt,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range deliveries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("create delivery: %w", err)
		}
	}
	return nil
}

// FetchDueDeliveries claims up to limit due pending deliveries. The claim
// increments the attempt counter, stamps last_attempt_at and pushes
// next_attempt_at forward as a visibility timeout so concurrent workers
// skip the row while it is in flight.
func (r *Repository) FetchDueDeliveries(ctx context.Context, limit int) ([]*domain.EmailDelivery, error) {
	query := `
		WITH due AS (
			SELECT id
			FROM email_deliveries
			WHERE status = 'PENDING' AND next_attempt_at <= now()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE email_deliveries d
		SET attempts = d.attempts + 1,
		    last_attempt_at = now(),
		    next_attempt_at = now() + interval '15 minutes'
		FROM due
		WHERE d.id = due.id
		RETURNING d.id, d.incident_id, d.subscriber_email, d.subject, d.body, d.status,
		          d.attempts, d.last_error, d.last_attempt_at, d.sent_at, d.next_attempt_at, d.created_at
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := make([]*domain.EmailDelivery, 0)
	for rows.Next() {
		var delivery domain.EmailDelivery
		err := rows.Scan(
			&delivery.ID,
			&delivery.IncidentID,
			&delivery.SubscriberEmail,
			&delivery.Subject,
			&delivery.Body,
			&delivery.Status,
			&delivery.Attempts,
			&delivery.LastError,
			&delivery.LastAttemptAt,
			&delivery.SentAt,
			&delivery.NextAttemptAt,
			&delivery.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, &delivery)
	}
	return deliveries, rows.Err()
}

// MarkSent finalizes a delivery as sent.
func (r *Repository) MarkSent(ctx context.Context, id string) error {
	query := `
		UPDATE email_deliveries
		SET status = 'SENT', sent_at = now(), last_error = ''
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// MarkRetry records the failure and reschedules the delivery.
func (r *Repository) MarkRetry(ctx context.Context, id string, lastError string, nextAttemptAt time.Time) error {
	query := `
		UPDATE email_deliveries
		SET last_error = $2, next_attempt_at = $3
		WHERE id = $1 AND status = 'PENDING'
	`
	if _, err := r.db.Exec(ctx, query, id, lastError, nextAttemptAt); err != nil {
		return fmt.Errorf("mark retry: %w", err)
	}
	return nil
}

// MarkFailed finalizes a delivery as permanently failed.
func (r *Repository) MarkFailed(ctx context.Context, id string, lastError string) error {
	query := `
		UPDATE email_deliveries
		SET status = 'FAILED', last_error = $2
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, lastError); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// QueueStats returns delivery counts by status.
func (r *Repository) QueueStats(ctx context.Context) (*notifications.QueueStats, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM email_deliveries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := &notifications.QueueStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		switch domain.DeliveryStatus(status) {
		case domain.DeliveryStatusPending:
			stats.Pending = count
		case domain.DeliveryStatusSent:
			stats.Sent = count
		case domain.DeliveryStatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}
