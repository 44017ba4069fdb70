package domain

import "time"

type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "PENDING"
	DeliveryStatusSent    DeliveryStatus = "SENT"
	DeliveryStatusFailed  DeliveryStatus = "FAILED"
)

// EmailDelivery is one queued email for one recipient. Created by the
// dispatcher in PENDING, mutated only by the delivery worker. SENT and
// FAILED are terminal; FAILED is reached only after the retry budget is
// exhausted.
type EmailDelivery struct {
	ID              string
	IncidentID      *string
	SubscriberEmail string
	Subject         string
	Body            string
	Status          DeliveryStatus
	Attempts        int
	LastError       string
	LastAttemptAt   *time.Time
	SentAt          *time.Time
	NextAttemptAt   time.Time
	CreatedAt       time.Time
}
