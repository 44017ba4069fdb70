package notifications

import (
	"context"
	"fmt"

	"github.com/statusbeacon/statusbeacon/internal/domain"
)

// Notifier composes subscriber emails for incident lifecycle events and
// hands them to the dispatcher. Wording is part of the public contract
// relied on by mail filters, keep it stable.
type Notifier struct {
	dispatcher *Dispatcher
}

func NewNotifier(dispatcher *Dispatcher) *Notifier {
	return &Notifier{dispatcher: dispatcher}
}

// IncidentCreated emails subscribers about a newly opened incident.
func (n *Notifier) IncidentCreated(ctx context.Context, incident *domain.Incident) error {
	subject := fmt.Sprintf("[Incident] %s created", incident.Title)
	body := fmt.Sprintf(
		"A new incident has been created.\n\nTitle: %s\nSeverity: %s\nStatus: %s\n\n%s",
		incident.Title, incident.Severity, incident.Status, incident.Summary,
	)
	return n.dispatcher.Enqueue(ctx, incident, subject, body)
}

// StatusChanged emails subscribers about a status transition.
func (n *Notifier) StatusChanged(ctx context.Context, incident *domain.Incident, update *domain.IncidentUpdate) error {
	subject := fmt.Sprintf("[Incident] %s status changed to %s", incident.Title, incident.Status)
	body := fmt.Sprintf("%s updated the incident:\n\n%s", update.CreatedBy, update.Message)
	return n.dispatcher.Enqueue(ctx, incident, subject, body)
}

// UpdatePosted emails subscribers about a free-form timeline update.
func (n *Notifier) UpdatePosted(ctx context.Context, incident *domain.Incident, update *domain.IncidentUpdate) error {
	subject := fmt.Sprintf("[Incident] Update on %s", incident.Title)
	body := fmt.Sprintf("%s wrote:\n\n%s", update.CreatedBy, update.Message)
	return n.dispatcher.Enqueue(ctx, incident, subject, body)
}

// PostmortemPublished emails subscribers when a postmortem goes public.
func (n *Notifier) PostmortemPublished(ctx context.Context, incident *domain.Incident, postmortem *domain.Postmortem) error {
	subject := fmt.Sprintf("[Incident] Postmortem published for %s", incident.Title)
	summary := postmortem.Summary
	if summary == "" {
		summary = "No summary provided."
	}
	body := fmt.Sprintf(
		"A postmortem has been published for the incident '%s'.\n\nSummary:\n%s",
		incident.Title, summary,
	)
	return n.dispatcher.Enqueue(ctx, incident, subject, body)
}
