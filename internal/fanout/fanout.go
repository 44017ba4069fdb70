// Package fanout wires committed domain mutations to their side effects:
// subscriber email, stream broadcast and status cache invalidation. It is
// only ever invoked after the owning transaction has committed.
package fanout

import (
	"context"

	"github.com/statusbeacon/statusbeacon/internal/domain"
	"github.com/statusbeacon/statusbeacon/internal/incidents"
	"github.com/statusbeacon/statusbeacon/internal/pkg/ctxlog"
	"github.com/statusbeacon/statusbeacon/internal/postmortems"
	"github.com/statusbeacon/statusbeacon/internal/stream"
)

// Broadcast event types.
const (
	EventIncidentCreated      = "INCIDENT_CREATED"
	EventIncidentUpdated      = "INCIDENT_UPDATED"
	EventIncidentStatusChange = "INCIDENT_STATUS_CHANGED"
	EventIncidentUpdatePosted = "INCIDENT_UPDATE_POSTED"
	EventPostmortemPublished  = "POSTMORTEM_PUBLISHED"
)

// Mailer queues subscriber email. The notifications notifier satisfies it.
type Mailer interface {
	IncidentCreated(ctx context.Context, incident *domain.Incident) error
	StatusChanged(ctx context.Context, incident *domain.Incident, update *domain.IncidentUpdate) error
	UpdatePosted(ctx context.Context, incident *domain.Incident, update *domain.IncidentUpdate) error
	PostmortemPublished(ctx context.Context, incident *domain.Incident, postmortem *domain.Postmortem) error
}

// Publisher delivers broadcast events. The stream broadcaster satisfies it.
type Publisher interface {
	Publish(channel, eventType string, payload any) error
}

// CacheInvalidator drops the cached public status payload. The status
// service satisfies it.
type CacheInvalidator interface {
	Invalidate()
}

// Fanout implements the incidents and postmortems event sinks. A failing
// effect is logged, never propagated; the mutation is already committed.
type Fanout struct {
	mailer      Mailer
	broadcaster Publisher
	cache       CacheInvalidator
}

func New(mailer Mailer, broadcaster Publisher, cache CacheInvalidator) *Fanout {
	return &Fanout{mailer: mailer, broadcaster: broadcaster, cache: cache}
}

// IncidentCreated fans out a newly created incident.
func (f *Fanout) IncidentCreated(ctx context.Context, incident *domain.Incident) {
	if err := f.mailer.IncidentCreated(ctx, incident); err != nil {
		ctxlog.FromContext(ctx).Error("failed to queue creation email", "incident_id", incident.ID, "error", err)
	}
	f.broadcast(ctx, incident, EventIncidentCreated, incidents.NewIncidentPayload(incident))
	f.cache.Invalidate()
}

// IncidentUpdated fans out a direct field edit. Field edits broadcast and
// refresh the status page but do not email subscribers.
func (f *Fanout) IncidentUpdated(ctx context.Context, incident *domain.Incident) {
	f.broadcast(ctx, incident, EventIncidentUpdated, incidents.NewIncidentPayload(incident))
	f.cache.Invalidate()
}

// IncidentStatusChanged fans out a status transition.
func (f *Fanout) IncidentStatusChanged(ctx context.Context, incident *domain.Incident, update *domain.IncidentUpdate) {
	if err := f.mailer.StatusChanged(ctx, incident, update); err != nil {
		ctxlog.FromContext(ctx).Error("failed to queue status email", "incident_id", incident.ID, "error", err)
	}
	f.broadcast(ctx, incident, EventIncidentStatusChange, map[string]any{
		"incident": incidents.NewIncidentPayload(incident),
		"update":   incidents.NewUpdatePayload(update),
	})
	f.cache.Invalidate()
}

// IncidentUpdatePosted fans out a timeline update.
func (f *Fanout) IncidentUpdatePosted(ctx context.Context, incident *domain.Incident, update *domain.IncidentUpdate) {
	if err := f.mailer.UpdatePosted(ctx, incident, update); err != nil {
		ctxlog.FromContext(ctx).Error("failed to queue update email", "incident_id", incident.ID, "error", err)
	}
	f.broadcast(ctx, incident, EventIncidentUpdatePosted, map[string]any{
		"incident": incidents.NewIncidentPayload(incident),
		"update":   incidents.NewUpdatePayload(update),
	})
	f.cache.Invalidate()
}

// PostmortemPublished fans out a postmortem going public.
func (f *Fanout) PostmortemPublished(ctx context.Context, incident *domain.Incident, postmortem *domain.Postmortem) {
	if err := f.mailer.PostmortemPublished(ctx, incident, postmortem); err != nil {
		ctxlog.FromContext(ctx).Error("failed to queue postmortem email", "incident_id", incident.ID, "error", err)
	}
	f.broadcast(ctx, incident, EventPostmortemPublished, map[string]any{
		"incident":   incidents.NewIncidentPayload(incident),
		"postmortem": postmortems.NewPostmortemPayload(postmortem),
	})
}

// broadcast publishes to the admin channel always, and to the public
// channel only for publicly visible incidents.
func (f *Fanout) broadcast(ctx context.Context, incident *domain.Incident, eventType string, payload any) {
	if err := f.broadcaster.Publish(stream.ChannelAdmin, eventType, payload); err != nil {
		ctxlog.FromContext(ctx).Error("failed to broadcast event", "channel", stream.ChannelAdmin, "type", eventType, "error", err)
	}
	if !incident.IsPublic {
		return
	}
	if err := f.broadcaster.Publish(stream.ChannelPublic, eventType, payload); err != nil {
		ctxlog.FromContext(ctx).Error("failed to broadcast event", "channel", stream.ChannelPublic, "type", eventType, "error", err)
	}
}
