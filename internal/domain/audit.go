package domain

import "time"

// Audit action tags.
const (
	AuditIncidentCreated      = "INCIDENT_CREATED"
	AuditIncidentUpdated      = "INCIDENT_UPDATED"
	AuditStatusChanged        = "STATUS_CHANGED"
	AuditIncidentUpdatePosted = "INCIDENT_UPDATE_POSTED"
	AuditPostmortemPublished  = "POSTMORTEM_PUBLISHED"
)

// AuditEvent is an append-only log entry. The incident reference is weak:
// it is nulled if the incident is ever deleted, never cascaded.
type AuditEvent struct {
	ID         string
	ActorName  string
	Action     string
	IncidentID *string
	Metadata   map[string]any
	CreatedAt  time.Time
}
