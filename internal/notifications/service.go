package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/statusbeacon/statusbeacon/internal/domain"
)

// Service manages subscriber registrations.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// SubscribeInput contains data for registering a subscriber.
type SubscribeInput struct {
	Email      string
	Scope      domain.SubscriberScope
	IncidentID *string
}

// Subscribe registers a new active subscriber. Global subscribers receive
// email for every incident, incident-scoped ones only for theirs.
func (s *Service) Subscribe(ctx context.Context, input SubscribeInput) (*domain.Subscriber, error) {
	scope := input.Scope
	if scope == "" {
		scope = domain.ScopeGlobal
	}
	if !scope.IsValid() {
		return nil, ErrUnknownScope
	}
	if scope == domain.ScopeIncident {
		if input.IncidentID == nil || *input.IncidentID == "" {
			return nil, ErrIncidentRequired
		}
		if _, err := uuid.Parse(*input.IncidentID); err != nil {
			return nil, ErrIncidentRequired
		}
	}

	subscriber := &domain.Subscriber{
		Email:    strings.ToLower(strings.TrimSpace(input.Email)),
		Scope:    scope,
		IsActive: true,
	}
	if scope == domain.ScopeIncident {
		subscriber.IncidentID = input.IncidentID
	}

	if err := s.repo.CreateSubscriber(ctx, subscriber); err != nil {
		return nil, fmt.Errorf("create subscriber: %w", err)
	}
	return subscriber, nil
}

// ListSubscribers returns all subscribers, active and inactive.
func (s *Service) ListSubscribers(ctx context.Context) ([]*domain.Subscriber, error) {
	return s.repo.ListSubscribers(ctx)
}

// Unsubscribe deactivates a subscriber. The row is kept for audit.
func (s *Service) Unsubscribe(ctx context.Context, id string) error {
	return s.repo.DeactivateSubscriber(ctx, id)
}
