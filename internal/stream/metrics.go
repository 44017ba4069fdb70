package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statusbeacon",
			Subsystem: "stream",
			Name:      "events_published_total",
			Help:      "Broadcast events published per channel and type",
		},
		[]string{"channel", "type"},
	)

	eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statusbeacon",
			Subsystem: "stream",
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber queue was full",
		},
		[]string{"channel"},
	)

	subscribersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "statusbeacon",
			Subsystem: "stream",
			Name:      "subscribers_active",
			Help:      "Currently connected stream subscribers per channel",
		},
		[]string{"channel"},
	)
)
