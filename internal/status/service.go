// Package status serves the public status page: the overall status label,
// the list of active public incidents and public incident detail.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/statusbeacon/statusbeacon/internal/domain"
	"github.com/statusbeacon/statusbeacon/internal/incidents"
)

// Overall status labels shown on the public page.
const (
	LabelMajorOutage         = "Major Outage"
	LabelPartialOutage       = "Partial Outage"
	LabelDegradedPerformance = "Degraded Performance"
	LabelOperational         = "All Systems Operational"
)

const cacheKey = "public_status_payload"

// DefaultTTL bounds how stale the public status payload may be.
const DefaultTTL = 15 * time.Second

// Repository defines the read access the status page needs. The incidents
// postgres repository satisfies it.
type Repository interface {
	ListActivePublicIncidents(ctx context.Context) ([]*domain.Incident, error)
	GetPublicIncident(ctx context.Context, id string) (*domain.Incident, error)
	ListUpdates(ctx context.Context, incidentID string) ([]*domain.IncidentUpdate, error)
}

// Payload is the cached public status response.
type Payload struct {
	OverallStatus   string                      `json:"overall_status"`
	ActiveIncidents []incidents.IncidentPayload `json:"active_incidents"`
}

// Service computes and caches the public status payload.
type Service struct {
	repo  Repository
	cache *ttlcache.Cache[string, *Payload]
}

func NewService(repo Repository, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache := ttlcache.New(ttlcache.WithTTL[string, *Payload](ttl))
	go cache.Start()

	return &Service{repo: repo, cache: cache}
}

// Stop stops the cache janitor.
func (s *Service) Stop() {
	s.cache.Stop()
}

// PublicStatus returns the overall status label and active public
// incidents, served from cache within the TTL.
func (s *Service) PublicStatus(ctx context.Context) (*Payload, error) {
	if item := s.cache.Get(cacheKey); item != nil {
		return item.Value(), nil
	}

	active, err := s.repo.ListActivePublicIncidents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active public incidents: %w", err)
	}

	payload := &Payload{
		OverallStatus:   computeOverallStatus(active),
		ActiveIncidents: incidents.NewIncidentPayloads(active),
	}
	s.cache.Set(cacheKey, payload, ttlcache.DefaultTTL)

	return payload, nil
}

// Invalidate drops the cached payload. Called after every committed
// incident mutation so the page reflects it on the next request.
func (s *Service) Invalidate() {
	s.cache.Delete(cacheKey)
}

// PublicIncident returns a publicly visible incident with its timeline.
func (s *Service) PublicIncident(ctx context.Context, id string) (*domain.Incident, []*domain.IncidentUpdate, error) {
	incident, err := s.repo.GetPublicIncident(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	updates, err := s.repo.ListUpdates(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list updates: %w", err)
	}
	return incident, updates, nil
}

// computeOverallStatus maps the worst active severity to its label.
func computeOverallStatus(active []*domain.Incident) string {
	severities := make(map[domain.Severity]bool, len(active))
	for _, incident := range active {
		severities[incident.Severity] = true
	}

	switch {
	case severities[domain.SeveritySEV1]:
		return LabelMajorOutage
	case severities[domain.SeveritySEV2]:
		return LabelPartialOutage
	case severities[domain.SeveritySEV3] || severities[domain.SeveritySEV4]:
		return LabelDegradedPerformance
	default:
		return LabelOperational
	}
}
