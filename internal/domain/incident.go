package domain

import "time"

type Status string

const (
	StatusInvestigating Status = "INVESTIGATING"
	StatusIdentified    Status = "IDENTIFIED"
	StatusMonitoring    Status = "MONITORING"
	StatusResolved      Status = "RESOLVED"
)

// Statuses lists every incident status in lifecycle order.
var Statuses = []Status{
	StatusInvestigating,
	StatusIdentified,
	StatusMonitoring,
	StatusResolved,
}

// IsValid reports whether s is a known incident status.
func (s Status) IsValid() bool {
	switch s {
	case StatusInvestigating, StatusIdentified, StatusMonitoring, StatusResolved:
		return true
	}
	return false
}

// IsResolved reports whether the status is the terminal resolved state.
func (s Status) IsResolved() bool {
	return s == StatusResolved
}

// Label returns the human-readable form of the status.
func (s Status) Label() string {
	switch s {
	case StatusInvestigating:
		return "Investigating"
	case StatusIdentified:
		return "Identified"
	case StatusMonitoring:
		return "Monitoring"
	case StatusResolved:
		return "Resolved"
	}
	return string(s)
}

// allowedTransitions is the incident status graph: a strict progression
// toward RESOLVED plus a single re-open edge back to INVESTIGATING.
var allowedTransitions = map[Status][]Status{
	StatusInvestigating: {StatusIdentified, StatusMonitoring, StatusResolved},
	StatusIdentified:    {StatusMonitoring, StatusResolved},
	StatusMonitoring:    {StatusResolved},
	StatusResolved:      {StatusInvestigating},
}

// CanTransition reports whether an incident may move from one status to
// another. Self-transitions are never allowed.
func CanTransition(from, to Status) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type Severity string

const (
	SeveritySEV1 Severity = "SEV1"
	SeveritySEV2 Severity = "SEV2"
	SeveritySEV3 Severity = "SEV3"
	SeveritySEV4 Severity = "SEV4"
)

// Severities lists every severity from most to least urgent.
var Severities = []Severity{SeveritySEV1, SeveritySEV2, SeveritySEV3, SeveritySEV4}

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeveritySEV1, SeveritySEV2, SeveritySEV3, SeveritySEV4:
		return true
	}
	return false
}

// Incident is a tracked operational problem.
type Incident struct {
	ID         string
	Title      string
	Summary    string
	Severity   Severity
	Status     Status
	IsPublic   bool
	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}

// IsActive reports whether the incident is still open.
func (i *Incident) IsActive() bool {
	return !i.Status.IsResolved()
}

// IncidentUpdate is an immutable note on an incident timeline. It records
// the incident status at the time of writing.
type IncidentUpdate struct {
	ID           string
	IncidentID   string
	Message      string
	StatusAtTime Status
	CreatedBy    string
	CreatedAt    time.Time
}
