// Package incidents implements the incident lifecycle engine: creation,
// field updates, validated status transitions, and update posting, each
// atomic with its audit trail and followed by post-commit fanout.
package incidents

import (
	"context"
	"time"

	"github.com/statusbeacon/statusbeacon/internal/domain"
)

// Tx is a transaction handle. The narrow surface keeps services mockable;
// the postgres implementation wraps pgx.Tx.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repository defines incident data access. Methods with a Tx parameter
// participate in the caller's transaction.
type Repository interface {
	BeginTx(ctx context.Context) (Tx, error)

	CreateIncidentTx(ctx context.Context, tx Tx, incident *domain.Incident) error
	UpdateIncidentTx(ctx context.Context, tx Tx, incident *domain.Incident) error
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	ListIncidents(ctx context.Context) ([]*domain.Incident, error)

	CreateUpdateTx(ctx context.Context, tx Tx, update *domain.IncidentUpdate) error
	ListUpdates(ctx context.Context, incidentID string) ([]*domain.IncidentUpdate, error)

	CreateAuditEventTx(ctx context.Context, tx Tx, event *domain.AuditEvent) error
	ListAuditEvents(ctx context.Context, limit int) ([]*domain.AuditEvent, error)

	// Aggregates backing the analytics summary.
	AverageResolutionHours(ctx context.Context) (*float64, error)
	CountActive(ctx context.Context) (int, error)
	CountResolvedSince(ctx context.Context, since time.Time) (int, error)
	CountBySeverity(ctx context.Context) (map[domain.Severity]int, error)
}
