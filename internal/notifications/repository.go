// Package notifications provides subscriber management and the durable
// email delivery queue with its retry worker.
package notifications

import (
	"context"
	"time"

	"github.com/statusbeacon/statusbeacon/internal/domain"
)

// Repository defines data access for subscribers and the delivery queue.
type Repository interface {
	// Subscribers
	CreateSubscriber(ctx context.Context, subscriber *domain.Subscriber) error
	ListSubscribers(ctx context.Context) ([]*domain.Subscriber, error)
	DeactivateSubscriber(ctx context.Context, id string) error

	// ActiveRecipients returns the deduplicated, lexicographically sorted
	// union of active global subscribers and active subscribers scoped to
	// the given incident.
	ActiveRecipients(ctx context.Context, incidentID string) ([]string, error)

	// Delivery queue
	CreateDeliveries(ctx context.Context, deliveries []*domain.EmailDelivery) error
	// FetchDueDeliveries claims up to limit pending deliveries that are due,
	// incrementing their attempt counter and stamping last_attempt_at as part
	// of the claim. Claimed rows are invisible to concurrent workers.
	FetchDueDeliveries(ctx context.Context, limit int) ([]*domain.EmailDelivery, error)
	MarkSent(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, lastError string, nextAttemptAt time.Time) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	QueueStats(ctx context.Context) (*QueueStats, error)
}

// QueueStats holds delivery queue counters by status.
type QueueStats struct {
	Pending int
	Sent    int
	Failed  int
}
