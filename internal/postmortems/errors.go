package postmortems

import "errors"

var (
	ErrPostmortemNotFound  = errors.New("postmortem not found")
	ErrPostmortemExists    = errors.New("postmortem already exists for this incident")
	ErrActionItemNotFound  = errors.New("action item not found")
	ErrUnknownActionStatus = errors.New("unsupported action item status")
)
