package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "statusbeacon"

var (
	deliveryQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_size",
			Help:      "Number of email deliveries in queue by status",
		},
		[]string{"status"},
	)

	deliveriesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "deliveries_processed_total",
			Help:      "Delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	deliveriesEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "deliveries_enqueued_total",
			Help:      "Email deliveries added to the queue",
		},
	)

	deliverySendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to send a single email",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

func recordEnqueued(count int) {
	deliveriesEnqueued.Add(float64(count))
}

func recordDeliveryProcessed(outcome string) {
	deliveriesProcessed.WithLabelValues(outcome).Inc()
}

func recordDeliveryDuration(duration time.Duration) {
	deliverySendDuration.Observe(duration.Seconds())
}

func recordQueueStats(stats *QueueStats) {
	deliveryQueueSize.WithLabelValues("pending").Set(float64(stats.Pending))
	deliveryQueueSize.WithLabelValues("sent").Set(float64(stats.Sent))
	deliveryQueueSize.WithLabelValues("failed").Set(float64(stats.Failed))
}
