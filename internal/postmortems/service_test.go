package postmortems

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/statusbeacon/statusbeacon/internal/domain"
	"github.com/statusbeacon/statusbeacon/internal/incidents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTx struct {
	committed bool
}

func (t *mockTx) Commit(_ context.Context) error {
	t.committed = true
	return nil
}

func (t *mockTx) Rollback(_ context.Context) error {
	if t.committed {
		return incidents.ErrTxClosed
	}
	return nil
}

// mockRepository implements Repository in memory for testing.
type mockRepository struct {
	postmortems map[string]*domain.Postmortem
	actionItems map[string]*domain.ActionItem
	audits      []*domain.AuditEvent
	seq         int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		postmortems: make(map[string]*domain.Postmortem),
		actionItems: make(map[string]*domain.ActionItem),
	}
}

func (m *mockRepository) BeginTx(_ context.Context) (incidents.Tx, error) {
	return &mockTx{}, nil
}

func (m *mockRepository) CreatePostmortem(_ context.Context, postmortem *domain.Postmortem) error {
	if _, ok := m.postmortems[postmortem.IncidentID]; ok {
		return ErrPostmortemExists
	}
	m.seq++
	postmortem.ID = fmt.Sprintf("pm-%d", m.seq)
	postmortem.CreatedAt = time.Now()
	postmortem.UpdatedAt = postmortem.CreatedAt
	m.postmortems[postmortem.IncidentID] = postmortem
	return nil
}

func (m *mockRepository) GetByIncident(_ context.Context, incidentID string) (*domain.Postmortem, error) {
	postmortem, ok := m.postmortems[incidentID]
	if !ok {
		return nil, ErrPostmortemNotFound
	}
	return postmortem, nil
}

func (m *mockRepository) UpdatePostmortem(_ context.Context, postmortem *domain.Postmortem) error {
	m.postmortems[postmortem.IncidentID] = postmortem
	return nil
}

func (m *mockRepository) PublishTx(_ context.Context, _ incidents.Tx, postmortem *domain.Postmortem) error {
	m.postmortems[postmortem.IncidentID] = postmortem
	return nil
}

func (m *mockRepository) CreateAuditEventTx(_ context.Context, _ incidents.Tx, event *domain.AuditEvent) error {
	m.seq++
	event.ID = fmt.Sprintf("aud-%d", m.seq)
	event.CreatedAt = time.Now()
	m.audits = append(m.audits, event)
	return nil
}

func (m *mockRepository) CreateActionItem(_ context.Context, item *domain.ActionItem) error {
	m.seq++
	item.ID = fmt.Sprintf("ai-%d", m.seq)
	m.actionItems[item.ID] = item
	return nil
}

func (m *mockRepository) ListActionItems(_ context.Context, postmortemID string) ([]*domain.ActionItem, error) {
	items := make([]*domain.ActionItem, 0)
	for _, item := range m.actionItems {
		if item.PostmortemID == postmortemID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (m *mockRepository) GetActionItem(_ context.Context, postmortemID, id string) (*domain.ActionItem, error) {
	item, ok := m.actionItems[id]
	if !ok || item.PostmortemID != postmortemID {
		return nil, ErrActionItemNotFound
	}
	return item, nil
}

func (m *mockRepository) UpdateActionItem(_ context.Context, item *domain.ActionItem) error {
	m.actionItems[item.ID] = item
	return nil
}

// mockIncidents implements IncidentSource.
type mockIncidents struct {
	incidents map[string]*domain.Incident
}

func (m *mockIncidents) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	incident, ok := m.incidents[id]
	if !ok {
		return nil, incidents.ErrIncidentNotFound
	}
	return incident, nil
}

// mockSink records publish fanout calls.
type mockSink struct {
	published []*domain.Postmortem
}

func (s *mockSink) PostmortemPublished(_ context.Context, _ *domain.Incident, postmortem *domain.Postmortem) {
	s.published = append(s.published, postmortem)
}

func newTestService(public bool) (*Service, *mockRepository, *mockSink) {
	repo := newMockRepository()
	sink := &mockSink{}
	source := &mockIncidents{incidents: map[string]*domain.Incident{
		"inc-1": {
			ID:       "inc-1",
			Title:    "API latency",
			Severity: domain.SeveritySEV2,
			Status:   domain.StatusResolved,
			IsPublic: public,
		},
	}}
	return NewService(repo, source, sink), repo, sink
}

func TestService_Create(t *testing.T) {
	svc, _, _ := newTestService(true)
	ctx := context.Background()

	postmortem, err := svc.Create(ctx, "inc-1", PostmortemInput{Summary: "We broke DNS."})
	require.NoError(t, err)
	assert.Equal(t, "inc-1", postmortem.IncidentID)
	assert.False(t, postmortem.Published)
	assert.Nil(t, postmortem.PublishedAt)

	_, err = svc.Create(ctx, "inc-1", PostmortemInput{})
	assert.ErrorIs(t, err, ErrPostmortemExists, "one postmortem per incident")

	_, err = svc.Create(ctx, "missing", PostmortemInput{})
	assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)
}

func TestService_Update(t *testing.T) {
	svc, _, _ := newTestService(true)
	ctx := context.Background()

	_, err := svc.Create(ctx, "inc-1", PostmortemInput{Summary: "draft"})
	require.NoError(t, err)

	rootCause := "expired certificate"
	updated, err := svc.Update(ctx, "inc-1", PostmortemPatch{RootCause: &rootCause})
	require.NoError(t, err)
	assert.Equal(t, "draft", updated.Summary, "unpatched fields untouched")
	assert.Equal(t, rootCause, updated.RootCause)

	_, err = svc.Update(ctx, "missing", PostmortemPatch{})
	assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)
}

func TestService_Publish(t *testing.T) {
	svc, repo, sink := newTestService(true)
	ctx := context.Background()

	_, err := svc.Create(ctx, "inc-1", PostmortemInput{Summary: "We broke DNS."})
	require.NoError(t, err)

	published, err := svc.Publish(ctx, "inc-1", "alice")
	require.NoError(t, err)
	assert.True(t, published.Published)
	require.NotNil(t, published.PublishedAt)

	require.Len(t, repo.audits, 1)
	assert.Equal(t, domain.AuditPostmortemPublished, repo.audits[0].Action)
	assert.Equal(t, "alice", repo.audits[0].ActorName)
	assert.Empty(t, repo.audits[0].Metadata)

	require.Len(t, sink.published, 1)
}

func TestService_Publish_Idempotent(t *testing.T) {
	svc, repo, sink := newTestService(true)
	ctx := context.Background()

	_, err := svc.Create(ctx, "inc-1", PostmortemInput{})
	require.NoError(t, err)

	first, err := svc.Publish(ctx, "inc-1", "alice")
	require.NoError(t, err)
	firstPublishedAt := *first.PublishedAt

	second, err := svc.Publish(ctx, "inc-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, firstPublishedAt, *second.PublishedAt, "timestamp not refreshed")

	assert.Len(t, repo.audits, 1, "no second audit entry")
	assert.Len(t, sink.published, 1, "no second fanout")
}

func TestService_Publish_DefaultsActorToSystem(t *testing.T) {
	svc, repo, _ := newTestService(true)
	ctx := context.Background()

	_, err := svc.Create(ctx, "inc-1", PostmortemInput{})
	require.NoError(t, err)

	_, err = svc.Publish(ctx, "inc-1", "")
	require.NoError(t, err)

	require.Len(t, repo.audits, 1)
	assert.Equal(t, "system", repo.audits[0].ActorName)
}

func TestService_Publish_WithoutPostmortem(t *testing.T) {
	svc, _, _ := newTestService(true)
	_, err := svc.Publish(context.Background(), "inc-1", "alice")
	assert.ErrorIs(t, err, ErrPostmortemNotFound)
}

func TestService_PublicPostmortem(t *testing.T) {
	t.Run("published on public incident", func(t *testing.T) {
		svc, _, _ := newTestService(true)
		ctx := context.Background()

		_, err := svc.Create(ctx, "inc-1", PostmortemInput{})
		require.NoError(t, err)
		_, err = svc.Publish(ctx, "inc-1", "alice")
		require.NoError(t, err)

		postmortem, err := svc.PublicPostmortem(ctx, "inc-1")
		require.NoError(t, err)
		assert.True(t, postmortem.Published)
	})

	t.Run("unpublished is hidden", func(t *testing.T) {
		svc, _, _ := newTestService(true)
		ctx := context.Background()

		_, err := svc.Create(ctx, "inc-1", PostmortemInput{})
		require.NoError(t, err)

		_, err = svc.PublicPostmortem(ctx, "inc-1")
		assert.ErrorIs(t, err, ErrPostmortemNotFound)
	})

	t.Run("private incident is hidden", func(t *testing.T) {
		svc, _, _ := newTestService(false)
		ctx := context.Background()

		_, err := svc.Create(ctx, "inc-1", PostmortemInput{})
		require.NoError(t, err)
		_, err = svc.Publish(ctx, "inc-1", "alice")
		require.NoError(t, err)

		_, err = svc.PublicPostmortem(ctx, "inc-1")
		assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)
	})
}

func TestService_ExportMarkdown(t *testing.T) {
	svc, _, _ := newTestService(true)
	ctx := context.Background()

	_, err := svc.Create(ctx, "inc-1", PostmortemInput{
		Summary:   "We broke DNS.",
		RootCause: "expired certificate",
	})
	require.NoError(t, err)

	filename, content, err := svc.ExportMarkdown(ctx, "inc-1")
	require.NoError(t, err)

	assert.Equal(t, "postmortem-inc-1.md", filename)
	assert.Contains(t, content, "# Postmortem: API latency")
	assert.Contains(t, content, "**Summary:** We broke DNS.")
	assert.Contains(t, content, "**Root Cause:** expired certificate")
	assert.Contains(t, content, "**Impact:** N/A", "empty sections render as N/A")
	assert.Contains(t, content, "**Lessons Learned:** N/A")
}

func TestService_ActionItems(t *testing.T) {
	svc, _, _ := newTestService(true)
	ctx := context.Background()

	_, err := svc.Create(ctx, "inc-1", PostmortemInput{})
	require.NoError(t, err)

	item, err := svc.AddActionItem(ctx, "inc-1", ActionItemInput{
		Title:     "Add certificate expiry alert",
		OwnerName: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionItemOpen, item.Status, "status defaults to open")

	_, err = svc.AddActionItem(ctx, "inc-1", ActionItemInput{
		Title:     "x",
		OwnerName: "y",
		Status:    domain.ActionItemStatus("BLOCKED"),
	})
	assert.ErrorIs(t, err, ErrUnknownActionStatus)

	items, err := svc.ListActionItems(ctx, "inc-1")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	done := domain.ActionItemDone
	updated, err := svc.UpdateActionItem(ctx, "inc-1", item.ID, ActionItemPatch{Status: &done})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionItemDone, updated.Status)
	assert.Equal(t, "Add certificate expiry alert", updated.Title)

	_, err = svc.UpdateActionItem(ctx, "inc-1", "missing", ActionItemPatch{})
	assert.ErrorIs(t, err, ErrActionItemNotFound)
}
