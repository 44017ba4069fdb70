package postmortems

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/statusbeacon/statusbeacon/internal/domain"
	"github.com/statusbeacon/statusbeacon/internal/incidents"
	"github.com/statusbeacon/statusbeacon/internal/pkg/ctxlog"
)

// IncidentSource resolves incidents. The incidents service satisfies it.
type IncidentSource interface {
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
}

// EventSink receives the publish event after commit.
type EventSink interface {
	PostmortemPublished(ctx context.Context, incident *domain.Incident, postmortem *domain.Postmortem)
}

// Service implements postmortem lifecycle operations.
type Service struct {
	repo      Repository
	incidents IncidentSource
	sink      EventSink
}

func NewService(repo Repository, incidents IncidentSource, sink EventSink) *Service {
	return &Service{repo: repo, incidents: incidents, sink: sink}
}

// PostmortemInput carries draft content. All sections are optional.
type PostmortemInput struct {
	Summary        string
	Impact         string
	RootCause      string
	Detection      string
	Resolution     string
	LessonsLearned string
}

// PostmortemPatch is a partial content update. Nil fields are untouched.
type PostmortemPatch struct {
	Summary        *string
	Impact         *string
	RootCause      *string
	Detection      *string
	Resolution     *string
	LessonsLearned *string
}

// Create attaches a draft postmortem to an incident. An incident holds at
// most one postmortem.
func (s *Service) Create(ctx context.Context, incidentID string, input PostmortemInput) (*domain.Postmortem, error) {
	if _, err := s.incidents.GetIncident(ctx, incidentID); err != nil {
		return nil, err
	}

	postmortem := &domain.Postmortem{
		IncidentID:     incidentID,
		Summary:        input.Summary,
		Impact:         input.Impact,
		RootCause:      input.RootCause,
		Detection:      input.Detection,
		Resolution:     input.Resolution,
		LessonsLearned: input.LessonsLearned,
	}
	if err := s.repo.CreatePostmortem(ctx, postmortem); err != nil {
		return nil, err
	}
	return postmortem, nil
}

// Get returns the postmortem attached to an incident.
func (s *Service) Get(ctx context.Context, incidentID string) (*domain.Postmortem, error) {
	if _, err := s.incidents.GetIncident(ctx, incidentID); err != nil {
		return nil, err
	}
	return s.repo.GetByIncident(ctx, incidentID)
}

// Update applies a partial content patch. Publishing state is not
// touchable through here.
func (s *Service) Update(ctx context.Context, incidentID string, patch PostmortemPatch) (*domain.Postmortem, error) {
	postmortem, err := s.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	if patch.Summary != nil {
		postmortem.Summary = *patch.Summary
	}
	if patch.Impact != nil {
		postmortem.Impact = *patch.Impact
	}
	if patch.RootCause != nil {
		postmortem.RootCause = *patch.RootCause
	}
	if patch.Detection != nil {
		postmortem.Detection = *patch.Detection
	}
	if patch.Resolution != nil {
		postmortem.Resolution = *patch.Resolution
	}
	if patch.LessonsLearned != nil {
		postmortem.LessonsLearned = *patch.LessonsLearned
	}
	postmortem.UpdatedAt = time.Now()

	if err := s.repo.UpdatePostmortem(ctx, postmortem); err != nil {
		return nil, err
	}
	return postmortem, nil
}

// Publish makes the postmortem publicly visible. Publishing is idempotent:
// the first call writes the audit entry and notifies subscribers, repeat
// calls return the already published postmortem untouched.
func (s *Service) Publish(ctx context.Context, incidentID, actor string) (*domain.Postmortem, error) {
	incident, err := s.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	postmortem, err := s.repo.GetByIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if postmortem.Published {
		return postmortem, nil
	}

	if actor == "" {
		actor = "system"
	}

	now := time.Now()
	postmortem.Published = true
	postmortem.PublishedAt = &now

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	if err := s.repo.PublishTx(ctx, tx, postmortem); err != nil {
		return nil, fmt.Errorf("publish postmortem: %w", err)
	}

	audit := &domain.AuditEvent{
		ActorName:  actor,
		Action:     domain.AuditPostmortemPublished,
		IncidentID: &incident.ID,
		Metadata:   map[string]any{},
	}
	if err := s.repo.CreateAuditEventTx(ctx, tx, audit); err != nil {
		return nil, fmt.Errorf("create audit event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.sink.PostmortemPublished(ctx, incident, postmortem)
	return postmortem, nil
}

// PublicPostmortem returns the postmortem for a public incident, only
// once published.
func (s *Service) PublicPostmortem(ctx context.Context, incidentID string) (*domain.Postmortem, error) {
	incident, err := s.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if !incident.IsPublic {
		return nil, incidents.ErrIncidentNotFound
	}

	postmortem, err := s.repo.GetByIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if !postmortem.Published {
		return nil, ErrPostmortemNotFound
	}
	return postmortem, nil
}

// ExportMarkdown renders the postmortem as a markdown document and
// returns the suggested filename with it.
func (s *Service) ExportMarkdown(ctx context.Context, incidentID string) (filename, content string, err error) {
	incident, err := s.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return "", "", err
	}

	postmortem, err := s.repo.GetByIncident(ctx, incidentID)
	if err != nil {
		return "", "", err
	}

	lines := []string{
		fmt.Sprintf("# Postmortem: %s", incident.Title),
		"",
		fmt.Sprintf("**Summary:** %s", orNA(postmortem.Summary)),
		"",
		fmt.Sprintf("**Impact:** %s", orNA(postmortem.Impact)),
		"",
		fmt.Sprintf("**Root Cause:** %s", orNA(postmortem.RootCause)),
		"",
		fmt.Sprintf("**Detection:** %s", orNA(postmortem.Detection)),
		"",
		fmt.Sprintf("**Resolution:** %s", orNA(postmortem.Resolution)),
		"",
		fmt.Sprintf("**Lessons Learned:** %s", orNA(postmortem.LessonsLearned)),
	}

	return fmt.Sprintf("postmortem-%s.md", incident.ID), strings.Join(lines, "\n"), nil
}

// ActionItemInput carries data for creating a followup task.
type ActionItemInput struct {
	Title     string
	OwnerName string
	DueDate   *time.Time
	Status    domain.ActionItemStatus
}

// ActionItemPatch is a partial action item update.
type ActionItemPatch struct {
	Title     *string
	OwnerName *string
	DueDate   *time.Time
	Status    *domain.ActionItemStatus
}

// AddActionItem attaches a followup task to the incident's postmortem.
func (s *Service) AddActionItem(ctx context.Context, incidentID string, input ActionItemInput) (*domain.ActionItem, error) {
	postmortem, err := s.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	status := input.Status
	if status == "" {
		status = domain.ActionItemOpen
	}
	if !status.IsValid() {
		return nil, ErrUnknownActionStatus
	}

	item := &domain.ActionItem{
		PostmortemID: postmortem.ID,
		Title:        input.Title,
		OwnerName:    input.OwnerName,
		DueDate:      input.DueDate,
		Status:       status,
	}
	if err := s.repo.CreateActionItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// ListActionItems returns the followup tasks for the incident's postmortem.
func (s *Service) ListActionItems(ctx context.Context, incidentID string) ([]*domain.ActionItem, error) {
	postmortem, err := s.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListActionItems(ctx, postmortem.ID)
}

// UpdateActionItem applies a partial patch to one followup task.
func (s *Service) UpdateActionItem(ctx context.Context, incidentID, itemID string, patch ActionItemPatch) (*domain.ActionItem, error) {
	postmortem, err := s.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	item, err := s.repo.GetActionItem(ctx, postmortem.ID, itemID)
	if err != nil {
		return nil, err
	}

	if patch.Status != nil && !patch.Status.IsValid() {
		return nil, ErrUnknownActionStatus
	}

	if patch.Title != nil {
		item.Title = *patch.Title
	}
	if patch.OwnerName != nil {
		item.OwnerName = *patch.OwnerName
	}
	if patch.DueDate != nil {
		item.DueDate = patch.DueDate
	}
	if patch.Status != nil {
		item.Status = *patch.Status
	}

	if err := s.repo.UpdateActionItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) rollback(ctx context.Context, tx incidents.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, incidents.ErrTxClosed) {
		ctxlog.FromContext(ctx).Error("failed to rollback transaction", "error", err)
	}
}

func orNA(section string) string {
	if section == "" {
		return "N/A"
	}
	return section
}
