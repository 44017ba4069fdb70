package incidents

import (
	"time"

	"github.com/statusbeacon/statusbeacon/internal/domain"
)

// IncidentPayload is the wire form of an incident, shared by the HTTP
// handlers and the broadcast fanout so both audiences see one shape.
type IncidentPayload struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Summary    string     `json:"summary"`
	Severity   string     `json:"severity"`
	Status     string     `json:"status"`
	IsPublic   bool       `json:"is_public"`
	CreatedBy  string     `json:"created_by_name"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at"`
}

// NewIncidentPayload maps an incident to its wire form.
func NewIncidentPayload(incident *domain.Incident) IncidentPayload {
	return IncidentPayload{
		ID:         incident.ID,
		Title:      incident.Title,
		Summary:    incident.Summary,
		Severity:   string(incident.Severity),
		Status:     string(incident.Status),
		IsPublic:   incident.IsPublic,
		CreatedBy:  incident.CreatedBy,
		CreatedAt:  incident.CreatedAt,
		UpdatedAt:  incident.UpdatedAt,
		ResolvedAt: incident.ResolvedAt,
	}
}

// NewIncidentPayloads maps a list of incidents to wire form.
func NewIncidentPayloads(incidents []*domain.Incident) []IncidentPayload {
	payloads := make([]IncidentPayload, 0, len(incidents))
	for _, incident := range incidents {
		payloads = append(payloads, NewIncidentPayload(incident))
	}
	return payloads
}

// UpdatePayload is the wire form of an incident timeline update.
type UpdatePayload struct {
	ID           string    `json:"id"`
	IncidentID   string    `json:"incident"`
	Message      string    `json:"message"`
	StatusAtTime string    `json:"status_at_time"`
	CreatedBy    string    `json:"created_by_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewUpdatePayload maps an incident update to its wire form.
func NewUpdatePayload(update *domain.IncidentUpdate) UpdatePayload {
	return UpdatePayload{
		ID:           update.ID,
		IncidentID:   update.IncidentID,
		Message:      update.Message,
		StatusAtTime: string(update.StatusAtTime),
		CreatedBy:    update.CreatedBy,
		CreatedAt:    update.CreatedAt,
	}
}

// NewUpdatePayloads maps a list of updates to wire form.
func NewUpdatePayloads(updates []*domain.IncidentUpdate) []UpdatePayload {
	payloads := make([]UpdatePayload, 0, len(updates))
	for _, update := range updates {
		payloads = append(payloads, NewUpdatePayload(update))
	}
	return payloads
}

// AuditEventPayload is the wire form of an audit log entry.
type AuditEventPayload struct {
	ID         string         `json:"id"`
	ActorName  string         `json:"actor_name"`
	Action     string         `json:"action"`
	IncidentID *string        `json:"incident"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewAuditEventPayload maps an audit event to its wire form.
func NewAuditEventPayload(event *domain.AuditEvent) AuditEventPayload {
	return AuditEventPayload{
		ID:         event.ID,
		ActorName:  event.ActorName,
		Action:     event.Action,
		IncidentID: event.IncidentID,
		Metadata:   event.Metadata,
		CreatedAt:  event.CreatedAt,
	}
}

// AnalyticsPayload is the wire form of the analytics summary.
type AnalyticsPayload struct {
	MTTRHours            *float64       `json:"mttr_hours"`
	ActiveIncidents      int            `json:"active_incidents"`
	ResolvedLast7Days    int            `json:"resolved_last_7_days"`
	IncidentsPerSeverity map[string]int `json:"incidents_per_severity"`
}

// NewAnalyticsPayload maps the analytics summary to wire form.
func NewAnalyticsPayload(summary *AnalyticsSummary) AnalyticsPayload {
	perSeverity := make(map[string]int, len(summary.IncidentsPerSeverity))
	for sev, count := range summary.IncidentsPerSeverity {
		perSeverity[string(sev)] = count
	}
	return AnalyticsPayload{
		MTTRHours:            summary.MTTRHours,
		ActiveIncidents:      summary.ActiveIncidents,
		ResolvedLast7Days:    summary.ResolvedLast7Days,
		IncidentsPerSeverity: perSeverity,
	}
}
