package incidents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/statusbeacon/statusbeacon/internal/domain"
	"github.com/statusbeacon/statusbeacon/internal/pkg/ctxlog"
)

// EventSink receives committed lifecycle events and performs the fanout:
// email notifications, live broadcast, status cache invalidation. Sink
// methods run strictly after the owning transaction commits and must not
// fail the triggering call.
type EventSink interface {
	IncidentCreated(ctx context.Context, incident *domain.Incident)
	IncidentUpdated(ctx context.Context, incident *domain.Incident)
	IncidentStatusChanged(ctx context.Context, incident *domain.Incident, update *domain.IncidentUpdate)
	IncidentUpdatePosted(ctx context.Context, incident *domain.Incident, update *domain.IncidentUpdate)
}

// effect is one deferred side effect. Effects are collected while a
// transaction is open and run only after Commit returns nil; a rollback
// discards them unexecuted.
type effect func(ctx context.Context)

// Service implements the incident lifecycle engine.
type Service struct {
	repo Repository
	sink EventSink
}

// NewService creates a new incident service.
func NewService(repo Repository, sink EventSink) *Service {
	return &Service{repo: repo, sink: sink}
}

// CreateIncidentInput holds data for creating an incident.
type CreateIncidentInput struct {
	Title     string
	Summary   string
	Severity  domain.Severity
	Status    domain.Status
	IsPublic  bool
	CreatedBy string
}

// UpdateIncidentPatch is a partial incident update. Nil fields are left
// unchanged.
type UpdateIncidentPatch struct {
	Title    *string
	Summary  *string
	Severity *domain.Severity
	Status   *domain.Status
	IsPublic *bool
}

// PostUpdateInput holds data for posting an incident update.
type PostUpdateInput struct {
	Message      string
	StatusAtTime *domain.Status
	Author       string
}

// CreateIncident persists a new incident together with its audit entry and
// fans out creation notifications after commit.
func (s *Service) CreateIncident(ctx context.Context, input CreateIncidentInput) (*domain.Incident, error) {
	if input.Status == "" {
		input.Status = domain.StatusInvestigating
	}
	if !input.Status.IsValid() {
		return nil, ErrUnknownStatus
	}
	if !input.Severity.IsValid() {
		return nil, ErrUnknownSeverity
	}

	incident := &domain.Incident{
		Title:     input.Title,
		Summary:   input.Summary,
		Severity:  input.Severity,
		Status:    input.Status,
		IsPublic:  input.IsPublic,
		CreatedBy: input.CreatedBy,
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	if err := s.repo.CreateIncidentTx(ctx, tx, incident); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	audit := &domain.AuditEvent{
		ActorName:  incident.CreatedBy,
		Action:     domain.AuditIncidentCreated,
		IncidentID: &incident.ID,
		Metadata: map[string]any{
			"severity": string(incident.Severity),
			"status":   string(incident.Status),
		},
	}
	if err := s.repo.CreateAuditEventTx(ctx, tx, audit); err != nil {
		return nil, fmt.Errorf("create audit event: %w", err)
	}

	effects := []effect{
		func(ctx context.Context) { s.sink.IncidentCreated(ctx, incident) },
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	s.runEffects(ctx, effects)

	return incident, nil
}

// UpdateIncident applies a partial patch. A status change through this
// path bypasses the transition graph: it is the administrative correction
// escape hatch, kept for compatibility with the existing API. The
// resolved timestamp rule still applies.
func (s *Service) UpdateIncident(ctx context.Context, id string, patch UpdateIncidentPatch, actor string) (*domain.Incident, error) {
	if actor == "" {
		return nil, ErrInvalidActor
	}
	if patch.Status != nil && !patch.Status.IsValid() {
		return nil, ErrUnknownStatus
	}
	if patch.Severity != nil && !patch.Severity.IsValid() {
		return nil, ErrUnknownSeverity
	}

	incident, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}

	changes := map[string]any{}
	if patch.Title != nil {
		incident.Title = *patch.Title
		changes["title"] = *patch.Title
	}
	if patch.Summary != nil {
		incident.Summary = *patch.Summary
		changes["summary"] = *patch.Summary
	}
	if patch.Severity != nil {
		incident.Severity = *patch.Severity
		changes["severity"] = string(*patch.Severity)
	}
	if patch.IsPublic != nil {
		incident.IsPublic = *patch.IsPublic
		changes["is_public"] = *patch.IsPublic
	}
	if patch.Status != nil {
		incident.Status = *patch.Status
		changes["status"] = string(*patch.Status)
		applyResolvedRule(incident, time.Now())
	}
	incident.UpdatedAt = time.Now()

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	if err := s.repo.UpdateIncidentTx(ctx, tx, incident); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}

	audit := &domain.AuditEvent{
		ActorName:  actor,
		Action:     domain.AuditIncidentUpdated,
		IncidentID: &incident.ID,
		Metadata:   changes,
	}
	if err := s.repo.CreateAuditEventTx(ctx, tx, audit); err != nil {
		return nil, fmt.Errorf("create audit event: %w", err)
	}

	effects := []effect{
		func(ctx context.Context) { s.sink.IncidentUpdated(ctx, incident) },
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	s.runEffects(ctx, effects)

	return incident, nil
}

// Transition moves an incident along the status graph. On success the
// incident carries a new timeline update and a STATUS_CHANGED audit entry,
// and subscribers are notified after commit.
func (s *Service) Transition(ctx context.Context, id string, target domain.Status, actor, message string) (*domain.Incident, *domain.IncidentUpdate, error) {
	if actor == "" {
		return nil, nil, ErrInvalidActor
	}
	if !target.IsValid() {
		return nil, nil, ErrUnknownStatus
	}

	incident, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if incident.Status == target {
		return nil, nil, ErrNoOpTransition
	}
	if !domain.CanTransition(incident.Status, target) {
		return nil, nil, ErrIllegalTransition
	}

	previous := incident.Status
	now := time.Now()
	incident.Status = target
	incident.UpdatedAt = now
	applyResolvedRule(incident, now)

	body := message
	if body == "" {
		body = fmt.Sprintf("Status changed to %s", target.Label())
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	if err := s.repo.UpdateIncidentTx(ctx, tx, incident); err != nil {
		return nil, nil, fmt.Errorf("update incident: %w", err)
	}

	update := &domain.IncidentUpdate{
		IncidentID:   incident.ID,
		Message:      body,
		StatusAtTime: target,
		CreatedBy:    actor,
	}
	if err := s.repo.CreateUpdateTx(ctx, tx, update); err != nil {
		return nil, nil, fmt.Errorf("create update: %w", err)
	}

	audit := &domain.AuditEvent{
		ActorName:  actor,
		Action:     domain.AuditStatusChanged,
		IncidentID: &incident.ID,
		Metadata: map[string]any{
			"from":    string(previous),
			"to":      string(target),
			"message": body,
		},
	}
	if err := s.repo.CreateAuditEventTx(ctx, tx, audit); err != nil {
		return nil, nil, fmt.Errorf("create audit event: %w", err)
	}

	effects := []effect{
		func(ctx context.Context) { s.sink.IncidentStatusChanged(ctx, incident, update) },
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	s.runEffects(ctx, effects)

	return incident, update, nil
}

// PostUpdate appends a timeline update without changing incident status.
func (s *Service) PostUpdate(ctx context.Context, id string, input PostUpdateInput) (*domain.IncidentUpdate, error) {
	if input.Author == "" {
		return nil, ErrInvalidActor
	}
	if input.Message == "" {
		return nil, ErrEmptyMessage
	}
	if input.StatusAtTime != nil && !input.StatusAtTime.IsValid() {
		return nil, ErrUnknownStatus
	}

	incident, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}

	statusAtTime := incident.Status
	if input.StatusAtTime != nil {
		statusAtTime = *input.StatusAtTime
	}
	incident.UpdatedAt = time.Now()

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	if err := s.repo.UpdateIncidentTx(ctx, tx, incident); err != nil {
		return nil, fmt.Errorf("touch incident: %w", err)
	}

	update := &domain.IncidentUpdate{
		IncidentID:   incident.ID,
		Message:      input.Message,
		StatusAtTime: statusAtTime,
		CreatedBy:    input.Author,
	}
	if err := s.repo.CreateUpdateTx(ctx, tx, update); err != nil {
		return nil, fmt.Errorf("create update: %w", err)
	}

	audit := &domain.AuditEvent{
		ActorName:  input.Author,
		Action:     domain.AuditIncidentUpdatePosted,
		IncidentID: &incident.ID,
		Metadata:   map[string]any{"message": update.Message},
	}
	if err := s.repo.CreateAuditEventTx(ctx, tx, audit); err != nil {
		return nil, fmt.Errorf("create audit event: %w", err)
	}

	effects := []effect{
		func(ctx context.Context) { s.sink.IncidentUpdatePosted(ctx, incident, update) },
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	s.runEffects(ctx, effects)

	return update, nil
}

// GetIncident retrieves an incident by ID.
func (s *Service) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return s.repo.GetIncident(ctx, id)
}

// ListIncidents retrieves all incidents, newest first.
func (s *Service) ListIncidents(ctx context.Context) ([]*domain.Incident, error) {
	return s.repo.ListIncidents(ctx)
}

// ListUpdates retrieves the timeline of an incident, newest first.
func (s *Service) ListUpdates(ctx context.Context, incidentID string) ([]*domain.IncidentUpdate, error) {
	if _, err := s.repo.GetIncident(ctx, incidentID); err != nil {
		return nil, err
	}
	return s.repo.ListUpdates(ctx, incidentID)
}

// ListAuditEvents retrieves the most recent audit entries.
func (s *Service) ListAuditEvents(ctx context.Context, limit int) ([]*domain.AuditEvent, error) {
	return s.repo.ListAuditEvents(ctx, limit)
}

// AnalyticsSummary aggregates incident history.
type AnalyticsSummary struct {
	MTTRHours            *float64
	ActiveIncidents      int
	ResolvedLast7Days    int
	IncidentsPerSeverity map[domain.Severity]int
}

// Analytics computes the incident analytics summary.
func (s *Service) Analytics(ctx context.Context) (*AnalyticsSummary, error) {
	mttr, err := s.repo.AverageResolutionHours(ctx)
	if err != nil {
		return nil, fmt.Errorf("average resolution: %w", err)
	}
	active, err := s.repo.CountActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("count active: %w", err)
	}
	resolved, err := s.repo.CountResolvedSince(ctx, time.Now().AddDate(0, 0, -7))
	if err != nil {
		return nil, fmt.Errorf("count resolved: %w", err)
	}
	perSeverity, err := s.repo.CountBySeverity(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by severity: %w", err)
	}
	for _, sev := range domain.Severities {
		if _, ok := perSeverity[sev]; !ok {
			perSeverity[sev] = 0
		}
	}
	return &AnalyticsSummary{
		MTTRHours:            mttr,
		ActiveIncidents:      active,
		ResolvedLast7Days:    resolved,
		IncidentsPerSeverity: perSeverity,
	}, nil
}

// applyResolvedRule keeps resolved_at consistent with status: set once on
// entering RESOLVED, retained if already set, cleared on leaving RESOLVED.
func applyResolvedRule(incident *domain.Incident, now time.Time) {
	if incident.Status.IsResolved() {
		if incident.ResolvedAt == nil {
			incident.ResolvedAt = &now
		}
		return
	}
	incident.ResolvedAt = nil
}

func (s *Service) runEffects(ctx context.Context, effects []effect) {
	for _, fn := range effects {
		fn(ctx)
	}
}

func (s *Service) rollback(ctx context.Context, tx Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, ErrTxClosed) {
		ctxlog.FromContext(ctx).Error("failed to rollback transaction", "error", err)
	}
}
