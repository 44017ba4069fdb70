package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/statusbeacon/statusbeacon/internal/domain"
)

// WorkerConfig contains delivery worker configuration.
type WorkerConfig struct {
	BatchSize         int
	PollInterval      time.Duration
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	NumWorkers        int
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:         50,
		PollInterval:      5 * time.Second,
		MaxAttempts:       5,
		InitialBackoff:    time.Minute,
		MaxBackoff:        15 * time.Minute,
		BackoffMultiplier: 2.0,
		NumWorkers:        2,
	}
}

// Worker drains the email delivery queue. Each claimed delivery has its
// attempt counter already incremented, so the retry ceiling and backoff
// are computed from the claimed row alone.
type Worker struct {
	config WorkerConfig
	repo   Repository
	sender Sender

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a new delivery worker.
func NewWorker(config WorkerConfig, repo Repository, sender Sender) *Worker {
	return &Worker{
		config: config,
		repo:   repo,
		sender: sender,
		stopCh: make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting delivery worker",
		"workers", w.config.NumWorkers,
		"batch_size", w.config.BatchSize,
		"poll_interval", w.config.PollInterval,
		"max_attempts", w.config.MaxAttempts,
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	slog.Info("delivery worker stopped")
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.processBatch(ctx, workerID)
			if workerID == 0 {
				w.refreshQueueStats(ctx)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context, workerID int) {
	deliveries, err := w.repo.FetchDueDeliveries(ctx, w.config.BatchSize)
	if err != nil {
		slog.Error("failed to fetch due deliveries", "worker", workerID, "error", err)
		return
	}

	if len(deliveries) == 0 {
		return
	}

	slog.Debug("processing deliveries", "worker", workerID, "count", len(deliveries))

	for _, delivery := range deliveries {
		w.processDelivery(ctx, delivery)
	}
}

func (w *Worker) processDelivery(ctx context.Context, delivery *domain.EmailDelivery) {
	start := time.Now()

	err := w.sender.Send(ctx, delivery.SubscriberEmail, delivery.Subject, delivery.Body)
	duration := time.Since(start)

	if err != nil {
		w.handleSendError(ctx, delivery, err)
		return
	}

	if err := w.repo.MarkSent(ctx, delivery.ID); err != nil {
		slog.Error("failed to mark delivery sent", "delivery_id", delivery.ID, "error", err)
		return
	}

	recordDeliveryProcessed("sent")
	recordDeliveryDuration(duration)

	slog.Debug("email delivered",
		"delivery_id", delivery.ID,
		"attempt", delivery.Attempts,
		"duration", duration,
	)
}

func (w *Worker) handleSendError(ctx context.Context, delivery *domain.EmailDelivery, err error) {
	slog.Warn("email send failed",
		"delivery_id", delivery.ID,
		"attempt", delivery.Attempts,
		"max_attempts", w.config.MaxAttempts,
		"error", err,
	)

	if delivery.Attempts >= w.config.MaxAttempts {
		if markErr := w.repo.MarkFailed(ctx, delivery.ID, err.Error()); markErr != nil {
			slog.Error("failed to mark delivery failed", "delivery_id", delivery.ID, "error", markErr)
		}
		recordDeliveryProcessed("failed")
		return
	}

	nextAttempt := time.Now().Add(w.backoff(delivery.Attempts))
	if markErr := w.repo.MarkRetry(ctx, delivery.ID, err.Error(), nextAttempt); markErr != nil {
		slog.Error("failed to mark delivery for retry", "delivery_id", delivery.ID, "error", markErr)
	}
	recordDeliveryProcessed("retry")

	slog.Info("delivery scheduled for retry",
		"delivery_id", delivery.ID,
		"next_attempt", nextAttempt,
	)
}

// backoff computes the delay before the next attempt, doubling from the
// initial backoff and capped at the maximum.
func (w *Worker) backoff(attempt int) time.Duration {
	delay := float64(w.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		delay *= w.config.BackoffMultiplier
	}

	if delay > float64(w.config.MaxBackoff) {
		delay = float64(w.config.MaxBackoff)
	}

	return time.Duration(delay)
}

func (w *Worker) refreshQueueStats(ctx context.Context) {
	stats, err := w.repo.QueueStats(ctx)
	if err != nil {
		slog.Error("failed to read queue stats", "error", err)
		return
	}
	recordQueueStats(stats)
}
