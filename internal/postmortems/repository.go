// Package postmortems manages incident retrospectives: drafting,
// publishing with subscriber fanout, followup action items and markdown
// export.
package postmortems

import (
	"context"

	"github.com/statusbeacon/statusbeacon/internal/domain"
	"github.com/statusbeacon/statusbeacon/internal/incidents"
)

// Repository defines data access for postmortems and action items.
type Repository interface {
	BeginTx(ctx context.Context) (incidents.Tx, error)

	CreatePostmortem(ctx context.Context, postmortem *domain.Postmortem) error
	GetByIncident(ctx context.Context, incidentID string) (*domain.Postmortem, error)
	UpdatePostmortem(ctx context.Context, postmortem *domain.Postmortem) error
	PublishTx(ctx context.Context, tx incidents.Tx, postmortem *domain.Postmortem) error
	CreateAuditEventTx(ctx context.Context, tx incidents.Tx, event *domain.AuditEvent) error

	CreateActionItem(ctx context.Context, item *domain.ActionItem) error
	ListActionItems(ctx context.Context, postmortemID string) ([]*domain.ActionItem, error)
	GetActionItem(ctx context.Context, postmortemID, id string) (*domain.ActionItem, error)
	UpdateActionItem(ctx context.Context, item *domain.ActionItem) error
}
