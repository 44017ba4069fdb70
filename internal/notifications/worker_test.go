package notifications

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

// mockRepository implements Repository in memory for testing.
type mockRepository struct {
	subscribers []*domain.Subscriber
	deliveries  map[string]*domain.EmailDelivery
	seq         int

	recipients    []string
	recipientsErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{deliveries: make(map[string]*domain.EmailDelivery)}
}

func (m *mockRepository) CreateSubscriber(_ context.Context, subscriber *domain.Subscriber) error {
	for _, existing := range m.subscribers {
		if existing.Email == subscriber.Email && existing.Scope == subscriber.Scope {
			return ErrDuplicateSubscriber
		}
	}
	m.seq++
	subscriber.ID = fmt.Sprintf("sub-%d", m.seq)
	subscriber.CreatedAt = time.Now()
	m.subscribers = append(m.subscribers, subscriber)
	return nil
}

func (m *mockRepository) ListSubscribers(_ context.Context) ([]*domain.Subscriber, error) {
	return m.subscribers, nil
}

func (m *mockRepository) DeactivateSubscriber(_ context.Context, id string) error {
	for _, subscriber := range m.subscribers {
		if subscriber.ID == id {
			subscriber.IsActive = false
			return nil
		}
	}
	return ErrSubscriberNotFound
}

func (m *mockRepository) ActiveRecipients(_ context.Context, _ string) ([]string, error) {
	if m.recipientsErr != nil {
		return nil, m.recipientsErr
	}
	return m.recipients, nil
}

func (m *mockRepository) CreateDeliveries(_ context.Context, deliveries []*domain.EmailDelivery) error {
	for _, delivery := range deliveries {
		m.seq++
		delivery.ID = fmt.Sprintf("del-%d", m.seq)
		delivery.CreatedAt = time.Now()
		m.deliveries[delivery.ID] = delivery
	}
	return nil
}

func (m *mockRepository) FetchDueDeliveries(_ context.Context, limit int) ([]*domain.EmailDelivery, error) {
	now := time.Now()
	due := make([]*domain.EmailDelivery, 0)
	for _, delivery := range m.deliveries {
		if delivery.Status == domain.DeliveryStatusPending && !delivery.NextAttemptAt.After(now) {
			delivery.Attempts++
			delivery.LastAttemptAt = &now
			due = append(due, delivery)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (m *mockRepository) MarkSent(_ context.Context, id string) error {
	delivery, ok := m.deliveries[id]
	if !ok {
		return nil
	}
	now := time.Now()
	delivery.Status = domain.DeliveryStatusSent
	delivery.SentAt = &now
	delivery.LastError = ""
	return nil
}

func (m *mockRepository) MarkRetry(_ context.Context, id string, lastError string, nextAttemptAt time.Time) error {
	delivery, ok := m.deliveries[id]
	if !ok {
		return nil
	}
	delivery.LastError = lastError
	delivery.NextAttemptAt = nextAttemptAt
	return nil
}

func (m *mockRepository) MarkFailed(_ context.Context, id string, lastError string) error {
	delivery, ok := m.deliveries[id]
	if !ok {
		return nil
	}
	delivery.Status = domain.DeliveryStatusFailed
	delivery.LastError = lastError
	return nil
}

func (m *mockRepository) QueueStats(_ context.Context) (*QueueStats, error) {
	stats := &QueueStats{}
	for _, delivery := range m.deliveries {
		switch delivery.Status {
		case domain.DeliveryStatusPending:
			stats.Pending++
		case domain.DeliveryStatusSent:
			stats.Sent++
		case domain.DeliveryStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// mockSender records sends and optionally fails.
type mockSender struct {
	sent    []string
	sendErr error
}

func (s *mockSender) Send(_ context.Context, to, _, _ string) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, to)
	return nil
}

func enqueueTestDelivery(t *testing.T, repo *mockRepository) *domain.EmailDelivery {
	t.Helper()
	incidentID := "inc-1"
	delivery := &domain.EmailDelivery{
		IncidentID:      &incidentID,
		SubscriberEmail: "user@example.com",
		Subject:         "[Incident] API latency created",
		Body:            "body",
		Status:          domain.DeliveryStatusPending,
		NextAttemptAt:   time.Now().Add(-time.Second),
	}
	require.NoError(t, repo.CreateDeliveries(context.Background(), []*domain.EmailDelivery{delivery}))
	return delivery
}

func TestWorker_Backoff(t *testing.T) {
	worker := &Worker{config: DefaultWorkerConfig()}

	tests := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{"first attempt", 1, time.Minute},
		{"second attempt", 2, 2 * time.Minute},
		{"third attempt", 3, 4 * time.Minute},
		{"fourth attempt", 4, 8 * time.Minute},
		{"fifth attempt capped", 5, 15 * time.Minute},
		{"far past the cap", 20, 15 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, worker.backoff(tt.attempt))
		})
	}
}

func TestWorker_ProcessBatch_Success(t *testing.T) {
	repo := newMockRepository()
	sender := &mockSender{}
	worker := NewWorker(DefaultWorkerConfig(), repo, sender)

	delivery := enqueueTestDelivery(t, repo)
	worker.processBatch(context.Background(), 0)

	assert.Equal(t, []string{"user@example.com"}, sender.sent)
	assert.Equal(t, domain.DeliveryStatusSent, delivery.Status)
	assert.Equal(t, 1, delivery.Attempts)
	require.NotNil(t, delivery.SentAt)
	assert.Empty(t, delivery.LastError)
}

func TestWorker_ProcessBatch_RetrySchedulesBackoff(t *testing.T) {
	repo := newMockRepository()
	sender := &mockSender{sendErr: errors.New("421 service not available")}
	worker := NewWorker(DefaultWorkerConfig(), repo, sender)

	delivery := enqueueTestDelivery(t, repo)
	before := time.Now()
	worker.processBatch(context.Background(), 0)

	assert.Equal(t, domain.DeliveryStatusPending, delivery.Status, "stays pending for retry")
	assert.Equal(t, 1, delivery.Attempts)
	assert.Equal(t, "421 service not available", delivery.LastError)
	assert.False(t, delivery.NextAttemptAt.Before(before.Add(time.Minute)),
		"first retry is at least one minute out")
}

func TestWorker_ProcessBatch_FailsAfterMaxAttempts(t *testing.T) {
	repo := newMockRepository()
	sender := &mockSender{sendErr: errors.New("550 mailbox not found")}
	config := DefaultWorkerConfig()
	worker := NewWorker(config, repo, sender)

	delivery := enqueueTestDelivery(t, repo)

	for i := 0; i < config.MaxAttempts; i++ {
		delivery.NextAttemptAt = time.Now().Add(-time.Second)
		worker.processBatch(context.Background(), 0)
	}

	assert.Equal(t, domain.DeliveryStatusFailed, delivery.Status)
	assert.Equal(t, config.MaxAttempts, delivery.Attempts)
	assert.Equal(t, "550 mailbox not found", delivery.LastError)

	// A further poll must not touch the terminal row.
	worker.processBatch(context.Background(), 0)
	assert.Equal(t, config.MaxAttempts, delivery.Attempts)
}

func TestWorker_ProcessBatch_SentRowsAreNotRevisited(t *testing.T) {
	repo := newMockRepository()
	sender := &mockSender{}
	worker := NewWorker(DefaultWorkerConfig(), repo, sender)

	enqueueTestDelivery(t, repo)
	worker.processBatch(context.Background(), 0)
	worker.processBatch(context.Background(), 0)

	assert.Len(t, sender.sent, 1)
}

func TestWorker_StartStop(t *testing.T) {
	repo := newMockRepository()
	config := DefaultWorkerConfig()
	config.PollInterval = 10 * time.Millisecond
	config.NumWorkers = 1
	worker := NewWorker(config, repo, &mockSender{})

	enqueueTestDelivery(t, repo)

	worker.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	worker.Stop()

	stats, err := repo.QueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	assert.Zero(t, stats.Pending)
}
