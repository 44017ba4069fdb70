package domain

import "time"

type SubscriberScope string

const (
	// ScopeGlobal subscribers receive notifications for every incident.
	ScopeGlobal SubscriberScope = "GLOBAL"
	// ScopeIncident subscribers receive notifications for one incident only.
	ScopeIncident SubscriberScope = "INCIDENT"
)

// IsValid reports whether s is a known subscriber scope.
func (s SubscriberScope) IsValid() bool {
	return s == ScopeGlobal || s == ScopeIncident
}

// Subscriber is an email recipient for incident notifications.
// Subscribers are deactivated rather than deleted.
type Subscriber struct {
	ID         string
	Email      string
	Scope      SubscriberScope
	IncidentID *string
	IsActive   bool
	CreatedAt  time.Time
}
