package incidents

import "errors"

// Lifecycle errors returned to callers. Messages are stable: clients and
// tests match on them.
var (
	ErrIncidentNotFound  = errors.New("incident not found")
	ErrInvalidActor      = errors.New("actor name is required")
	ErrUnknownStatus     = errors.New("unsupported status")
	ErrUnknownSeverity   = errors.New("unsupported severity")
	ErrNoOpTransition    = errors.New("incident is already in the requested status")
	ErrIllegalTransition = errors.New("transition is not allowed from the current status")
	ErrEmptyMessage      = errors.New("message is required")
)

// ErrTxClosed is returned by Tx.Rollback after a successful Commit. The
// postgres implementation translates pgx.ErrTxClosed to it so services can
// pair a deferred rollback with an explicit commit.
var ErrTxClosed = errors.New("transaction already closed")
