package models

import (
	"time"
)

// PendingActionTTL bounds how long a staged upload waits for a Save/Discard
// click before the expiry sweep removes it and its temp file.
const PendingActionTTL = 30 * time.Minute

// PendingAction is a classified upload staged behind a confirm/discard prompt.
// One per phone; surviving process restarts is the point of keeping it here
// instead of in memory. No soft delete: rows are hard-deleted on resolution
// or expiry, and the phone unique index stays total so the staging upsert can
// name it as the conflict target.
type PendingAction struct {
	ID             uint      `gorm:"primarykey"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Phone          string    `gorm:"uniqueIndex;not null"`
	LocalPath      string    `gorm:"not null"`
	TargetFolderID string    `gorm:"not null"`
	SuggestedName  string    `gorm:"not null"`
	SubjectLabel   string    `gorm:"not null"`
	ExpiresAt      time.Time `gorm:"not null;index"`
}
