package notifications

import "errors"

var (
	ErrSubscriberNotFound  = errors.New("subscriber not found")
	ErrDuplicateSubscriber = errors.New("subscriber already exists for this scope")
	ErrIncidentRequired    = errors.New("incident id is required for incident-scoped subscribers")
	ErrUnknownScope        = errors.New("unsupported subscriber scope")
)
