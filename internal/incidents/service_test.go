package incidents

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/statusbeacon/statusbeacon/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTx implements Tx for testing.
type mockTx struct {
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *mockTx) Commit(_ context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *mockTx) Rollback(_ context.Context) error {
	if t.committed {
		return ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

// mockRepository implements Repository in memory for testing.
type mockRepository struct {
	incidents map[string]*domain.Incident
	updates   []*domain.IncidentUpdate
	audits    []*domain.AuditEvent
	seq       int
	commitErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{incidents: make(map[string]*domain.Incident)}
}

func (m *mockRepository) BeginTx(_ context.Context) (Tx, error) {
	return &mockTx{commitErr: m.commitErr}, nil
}

func (m *mockRepository) CreateIncidentTx(_ context.Context, _ Tx, incident *domain.Incident) error {
	m.seq++
	incident.ID = fmt.Sprintf("inc-%d", m.seq)
	incident.CreatedAt = time.Now()
	incident.UpdatedAt = incident.CreatedAt
	m.incidents[incident.ID] = incident
	return nil
}

func (m *mockRepository) UpdateIncidentTx(_ context.Context, _ Tx, incident *domain.Incident) error {
	if _, ok := m.incidents[incident.ID]; !ok {
		return ErrIncidentNotFound
	}
	m.incidents[incident.ID] = incident
	return nil
}

func (m *mockRepository) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	incident, ok := m.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	copied := *incident
	return &copied, nil
}

func (m *mockRepository) ListIncidents(_ context.Context) ([]*domain.Incident, error) {
	result := make([]*domain.Incident, 0, len(m.incidents))
	for _, incident := range m.incidents {
		result = append(result, incident)
	}
	return result, nil
}

func (m *mockRepository) CreateUpdateTx(_ context.Context, _ Tx, update *domain.IncidentUpdate) error {
	m.seq++
	update.ID = fmt.Sprintf("upd-%d", m.seq)
	update.CreatedAt = time.Now()
	m.updates = append(m.updates, update)
	return nil
}

func (m *mockRepository) ListUpdates(_ context.Context, incidentID string) ([]*domain.IncidentUpdate, error) {
	result := make([]*domain.IncidentUpdate, 0)
	for _, update := range m.updates {
		if update.IncidentID == incidentID {
			result = append(result, update)
		}
	}
	return result, nil
}

func (m *mockRepository) CreateAuditEventTx(_ context.Context, _ Tx, event *domain.AuditEvent) error {
	m.seq++
	event.ID = fmt.Sprintf("aud-%d", m.seq)
	event.CreatedAt = time.Now()
	m.audits = append(m.audits, event)
	return nil
}

func (m *mockRepository) ListAuditEvents(_ context.Context, limit int) ([]*domain.AuditEvent, error) {
	if limit > len(m.audits) {
		limit = len(m.audits)
	}
	return m.audits[:limit], nil
}

func (m *mockRepository) AverageResolutionHours(_ context.Context) (*float64, error) {
	return nil, nil
}

func (m *mockRepository) CountActive(_ context.Context) (int, error) {
	count := 0
	for _, incident := range m.incidents {
		if incident.IsActive() {
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) CountResolvedSince(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

func (m *mockRepository) CountBySeverity(_ context.Context) (map[domain.Severity]int, error) {
	counts := make(map[domain.Severity]int)
	for _, incident := range m.incidents {
		counts[incident.Severity]++
	}
	return counts, nil
}

// mockSink records fanout calls.
type mockSink struct {
	created       []*domain.Incident
	updated       []*domain.Incident
	statusChanged []*domain.IncidentUpdate
	updatePosted  []*domain.IncidentUpdate
}

func (s *mockSink) IncidentCreated(_ context.Context, incident *domain.Incident) {
	s.created = append(s.created, incident)
}

func (s *mockSink) IncidentUpdated(_ context.Context, incident *domain.Incident) {
	s.updated = append(s.updated, incident)
}

func (s *mockSink) IncidentStatusChanged(_ context.Context, _ *domain.Incident, update *domain.IncidentUpdate) {
	s.statusChanged = append(s.statusChanged, update)
}

func (s *mockSink) IncidentUpdatePosted(_ context.Context, _ *domain.Incident, update *domain.IncidentUpdate) {
	s.updatePosted = append(s.updatePosted, update)
}

func newTestService() (*Service, *mockRepository, *mockSink) {
	repo := newMockRepository()
	sink := &mockSink{}
	return NewService(repo, sink), repo, sink
}

func createTestIncident(t *testing.T, svc *Service, severity domain.Severity, public bool) *domain.Incident {
	t.Helper()
	incident, err := svc.CreateIncident(context.Background(), CreateIncidentInput{
		Title:     "API latency",
		Summary:   "Elevated p99 latency on the public API",
		Severity:  severity,
		IsPublic:  public,
		CreatedBy: "alice",
	})
	require.NoError(t, err)
	return incident
}

func TestService_CreateIncident(t *testing.T) {
	svc, repo, sink := newTestService()

	incident := createTestIncident(t, svc, domain.SeveritySEV2, true)

	assert.Equal(t, domain.StatusInvestigating, incident.Status, "status defaults to investigating")
	assert.Nil(t, incident.ResolvedAt)

	require.Len(t, repo.audits, 1)
	audit := repo.audits[0]
	assert.Equal(t, domain.AuditIncidentCreated, audit.Action)
	assert.Equal(t, "alice", audit.ActorName)
	require.NotNil(t, audit.IncidentID)
	assert.Equal(t, incident.ID, *audit.IncidentID)
	assert.Equal(t, "SEV2", audit.Metadata["severity"])

	require.Len(t, sink.created, 1)
	assert.Equal(t, incident.ID, sink.created[0].ID)
}

func TestService_CreateIncident_InvalidInput(t *testing.T) {
	svc, _, sink := newTestService()

	_, err := svc.CreateIncident(context.Background(), CreateIncidentInput{
		Title:     "x",
		Summary:   "y",
		Severity:  domain.Severity("SEV9"),
		CreatedBy: "alice",
	})
	assert.ErrorIs(t, err, ErrUnknownSeverity)

	_, err = svc.CreateIncident(context.Background(), CreateIncidentInput{
		Title:     "x",
		Summary:   "y",
		Severity:  domain.SeveritySEV3,
		Status:    domain.Status("BROKEN"),
		CreatedBy: "alice",
	})
	assert.ErrorIs(t, err, ErrUnknownStatus)

	assert.Empty(t, sink.created, "no fanout on rejected input")
}

func TestService_CreateIncident_CommitFailureSkipsFanout(t *testing.T) {
	svc, repo, sink := newTestService()
	repo.commitErr = errors.New("connection lost")

	_, err := svc.CreateIncident(context.Background(), CreateIncidentInput{
		Title:     "DB down",
		Summary:   "primary unreachable",
		Severity:  domain.SeveritySEV1,
		CreatedBy: "alice",
	})
	require.Error(t, err)
	assert.Empty(t, sink.created, "effects must not run when commit fails")
}

func TestService_Transition_Rejections(t *testing.T) {
	svc, _, sink := newTestService()
	incident := createTestIncident(t, svc, domain.SeveritySEV2, true)

	tests := []struct {
		name    string
		target  domain.Status
		actor   string
		wantErr error
	}{
		{"empty actor", domain.StatusIdentified, "", ErrInvalidActor},
		{"unknown status", domain.Status("ESCALATED"), "bob", ErrUnknownStatus},
		{"no-op", domain.StatusInvestigating, "bob", ErrNoOpTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Transition(context.Background(), incident.ID, tt.target, tt.actor, "")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// MONITORING allows only RESOLVED; IDENTIFIED must be rejected.
	_, _, err := svc.Transition(context.Background(), incident.ID, domain.StatusMonitoring, "bob", "")
	require.NoError(t, err)
	_, _, err = svc.Transition(context.Background(), incident.ID, domain.StatusIdentified, "bob", "")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	assert.Len(t, sink.statusChanged, 1, "only the successful transition fans out")
}

func TestService_Transition_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	_, _, err := svc.Transition(context.Background(), "missing", domain.StatusResolved, "bob", "")
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestService_Transition_Success(t *testing.T) {
	svc, repo, sink := newTestService()
	incident := createTestIncident(t, svc, domain.SeveritySEV2, true)

	updated, update, err := svc.Transition(context.Background(), incident.ID, domain.StatusIdentified, "bob", "")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusIdentified, updated.Status)
	assert.Nil(t, updated.ResolvedAt)
	assert.Equal(t, "Status changed to Identified", update.Message)
	assert.Equal(t, domain.StatusIdentified, update.StatusAtTime)
	assert.Equal(t, "bob", update.CreatedBy)

	require.Len(t, repo.audits, 2)
	audit := repo.audits[1]
	assert.Equal(t, domain.AuditStatusChanged, audit.Action)
	assert.Equal(t, "INVESTIGATING", audit.Metadata["from"])
	assert.Equal(t, "IDENTIFIED", audit.Metadata["to"])
	assert.Equal(t, update.Message, audit.Metadata["message"])

	require.Len(t, sink.statusChanged, 1)
	assert.Equal(t, update.ID, sink.statusChanged[0].ID)
}

func TestService_Transition_CustomMessage(t *testing.T) {
	svc, _, _ := newTestService()
	incident := createTestIncident(t, svc, domain.SeveritySEV3, true)

	_, update, err := svc.Transition(context.Background(), incident.ID, domain.StatusResolved, "bob", "Root cause fixed")
	require.NoError(t, err)
	assert.Equal(t, "Root cause fixed", update.Message)
}

func TestService_Transition_ResolvedTimestampLifecycle(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	incident := createTestIncident(t, svc, domain.SeveritySEV1, true)

	resolved, _, err := svc.Transition(ctx, incident.ID, domain.StatusResolved, "bob", "")
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt, "entering RESOLVED sets resolved_at")
	firstResolved := *resolved.ResolvedAt

	reopened, _, err := svc.Transition(ctx, incident.ID, domain.StatusInvestigating, "bob", "")
	require.NoError(t, err)
	assert.Nil(t, reopened.ResolvedAt, "re-opening clears resolved_at")

	resolvedAgain, _, err := svc.Transition(ctx, incident.ID, domain.StatusResolved, "bob", "")
	require.NoError(t, err)
	require.NotNil(t, resolvedAgain.ResolvedAt)
	assert.False(t, resolvedAgain.ResolvedAt.Before(firstResolved))
}

func TestApplyResolvedRule_RetainsExistingTimestamp(t *testing.T) {
	earlier := time.Now().Add(-time.Hour)
	incident := &domain.Incident{Status: domain.StatusResolved, ResolvedAt: &earlier}

	applyResolvedRule(incident, time.Now())

	require.NotNil(t, incident.ResolvedAt)
	assert.Equal(t, earlier, *incident.ResolvedAt, "resolved_at is set once, not refreshed")
}

func TestService_PostUpdate(t *testing.T) {
	svc, repo, sink := newTestService()
	incident := createTestIncident(t, svc, domain.SeveritySEV2, true)

	update, err := svc.PostUpdate(context.Background(), incident.ID, PostUpdateInput{
		Message: "Mitigation in progress",
		Author:  "carol",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusInvestigating, update.StatusAtTime, "defaults to current incident status")
	assert.Equal(t, "carol", update.CreatedBy)

	require.Len(t, repo.audits, 2)
	assert.Equal(t, domain.AuditIncidentUpdatePosted, repo.audits[1].Action)

	require.Len(t, sink.updatePosted, 1)
	assert.Empty(t, sink.statusChanged)
}

func TestService_PostUpdate_Rejections(t *testing.T) {
	svc, _, _ := newTestService()
	incident := createTestIncident(t, svc, domain.SeveritySEV2, true)
	ctx := context.Background()

	_, err := svc.PostUpdate(ctx, incident.ID, PostUpdateInput{Message: "hi"})
	assert.ErrorIs(t, err, ErrInvalidActor)

	_, err = svc.PostUpdate(ctx, incident.ID, PostUpdateInput{Author: "carol"})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	bad := domain.Status("NOPE")
	_, err = svc.PostUpdate(ctx, incident.ID, PostUpdateInput{Message: "hi", Author: "carol", StatusAtTime: &bad})
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestService_UpdateIncident_PatchBypassesTransitionGraph(t *testing.T) {
	svc, repo, sink := newTestService()
	incident := createTestIncident(t, svc, domain.SeveritySEV3, true)
	ctx := context.Background()

	// INVESTIGATING -> MONITORING via the normal path first.
	_, _, err := svc.Transition(ctx, incident.ID, domain.StatusMonitoring, "bob", "")
	require.NoError(t, err)

	// MONITORING -> IDENTIFIED is not a legal edge, but a direct field
	// edit is the documented correction path.
	status := domain.StatusIdentified
	title := "API latency (corrected)"
	patched, err := svc.UpdateIncident(ctx, incident.ID, UpdateIncidentPatch{
		Status: &status,
		Title:  &title,
	}, "admin")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusIdentified, patched.Status)
	assert.Equal(t, title, patched.Title)

	audit := repo.audits[len(repo.audits)-1]
	assert.Equal(t, domain.AuditIncidentUpdated, audit.Action)
	assert.Equal(t, "IDENTIFIED", audit.Metadata["status"])
	assert.Equal(t, title, audit.Metadata["title"])

	require.Len(t, sink.updated, 1)
	assert.Empty(t, sink.updatePosted, "field edits do not email subscribers")
}

func TestService_UpdateIncident_ResolvedRule(t *testing.T) {
	svc, _, _ := newTestService()
	incident := createTestIncident(t, svc, domain.SeveritySEV4, false)
	ctx := context.Background()

	status := domain.StatusResolved
	patched, err := svc.UpdateIncident(ctx, incident.ID, UpdateIncidentPatch{Status: &status}, "admin")
	require.NoError(t, err)
	require.NotNil(t, patched.ResolvedAt)

	status = domain.StatusMonitoring
	patched, err = svc.UpdateIncident(ctx, incident.ID, UpdateIncidentPatch{Status: &status}, "admin")
	require.NoError(t, err)
	assert.Nil(t, patched.ResolvedAt)
}

func TestService_UpdateIncident_Rejections(t *testing.T) {
	svc, _, _ := newTestService()
	incident := createTestIncident(t, svc, domain.SeveritySEV4, false)
	ctx := context.Background()

	_, err := svc.UpdateIncident(ctx, incident.ID, UpdateIncidentPatch{}, "")
	assert.ErrorIs(t, err, ErrInvalidActor)

	bad := domain.Status("NOPE")
	_, err = svc.UpdateIncident(ctx, incident.ID, UpdateIncidentPatch{Status: &bad}, "admin")
	assert.ErrorIs(t, err, ErrUnknownStatus)

	_, err = svc.UpdateIncident(ctx, "missing", UpdateIncidentPatch{}, "admin")
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestService_Lifecycle_EndToEnd(t *testing.T) {
	svc, repo, sink := newTestService()
	ctx := context.Background()

	incident := createTestIncident(t, svc, domain.SeveritySEV1, true)

	_, _, err := svc.Transition(ctx, incident.ID, domain.StatusIdentified, "bob", "")
	require.NoError(t, err)
	final, _, err := svc.Transition(ctx, incident.ID, domain.StatusResolved, "bob", "")
	require.NoError(t, err)

	updates, err := svc.ListUpdates(ctx, incident.ID)
	require.NoError(t, err)
	assert.Len(t, updates, 2, "one timeline update per transition")

	assert.Len(t, repo.audits, 3, "created + two status changes")
	assert.Equal(t, domain.AuditIncidentCreated, repo.audits[0].Action)
	assert.Equal(t, domain.AuditStatusChanged, repo.audits[1].Action)
	assert.Equal(t, domain.AuditStatusChanged, repo.audits[2].Action)

	require.NotNil(t, final.ResolvedAt)
	assert.Len(t, sink.created, 1)
	assert.Len(t, sink.statusChanged, 2)

	active, err := repo.CountActive(ctx)
	require.NoError(t, err)
	assert.Zero(t, active)
}

func TestService_Analytics_FillsAllSeverities(t *testing.T) {
	svc, _, _ := newTestService()
	createTestIncident(t, svc, domain.SeveritySEV1, true)

	summary, err := svc.Analytics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.IncidentsPerSeverity[domain.SeveritySEV1])
	for _, sev := range domain.Severities[1:] {
		assert.Zero(t, summary.IncidentsPerSeverity[sev])
	}
	assert.Equal(t, 1, summary.ActiveIncidents)
}
