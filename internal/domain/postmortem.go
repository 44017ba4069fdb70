package domain

import "time"

// Postmortem is the retrospective attached to one incident. It starts as
// a draft and becomes publicly visible once published.
type Postmortem struct {
	ID             string
	IncidentID     string
	Summary        string
	Impact         string
	RootCause      string
	Detection      string
	Resolution     string
	LessonsLearned string
	Published      bool
	PublishedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ActionItemStatus tracks followup progress.
type ActionItemStatus string

const (
	ActionItemOpen       ActionItemStatus = "OPEN"
	ActionItemInProgress ActionItemStatus = "IN_PROGRESS"
	ActionItemDone       ActionItemStatus = "DONE"
)

func (s ActionItemStatus) IsValid() bool {
	switch s {
	case ActionItemOpen, ActionItemInProgress, ActionItemDone:
		return true
	}
	return false
}

// ActionItem is a followup task attached to a postmortem.
type ActionItem struct {
	ID           string
	PostmortemID string
	Title        string
	OwnerName    string
	DueDate      *time.Time
	Status       ActionItemStatus
}
