package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/statusbeacon/statusbeacon/internal/domain"
)

// Sender delivers a single email. Implementations live in subpackages.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Dispatcher resolves recipients and enqueues one pending delivery per
// recipient. Sending happens asynchronously in the worker.
type Dispatcher struct {
	repo Repository
}

func NewDispatcher(repo Repository) *Dispatcher {
	return &Dispatcher{repo: repo}
}

// Recipients returns the active recipient set for an incident: all active
// global subscribers plus active subscribers scoped to that incident,
// deduplicated and sorted.
func (d *Dispatcher) Recipients(ctx context.Context, incidentID string) ([]string, error) {
	recipients, err := d.repo.ActiveRecipients(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	return recipients, nil
}

// Enqueue creates a pending delivery row per recipient. The rows become
// due immediately; the worker picks them up on its next poll.
func (d *Dispatcher) Enqueue(ctx context.Context, incident *domain.Incident, subject, body string) error {
	recipients, err := d.Recipients(ctx, incident.ID)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		slog.Debug("no recipients for incident", "incident_id", incident.ID)
		return nil
	}

	now := time.Now()
	deliveries := make([]*domain.EmailDelivery, 0, len(recipients))
	for _, email := range recipients {
		deliveries = append(deliveries, &domain.EmailDelivery{
			IncidentID:      &incident.ID,
			SubscriberEmail: email,
			Subject:         subject,
			Body:            body,
			Status:          domain.DeliveryStatusPending,
			NextAttemptAt:   now,
		})
	}

	if err := d.repo.CreateDeliveries(ctx, deliveries); err != nil {
		return fmt.Errorf("enqueue deliveries: %w", err)
	}
	recordEnqueued(len(deliveries))

	slog.Info("email deliveries enqueued",
		"incident_id", incident.ID,
		"recipients", len(deliveries),
		"subject", subject,
	)
	return nil
}
