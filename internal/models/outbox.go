package models

import "time"

// OutboxEvent is a change event persisted in the same transaction as the
// comment write it describes. DispatchedAt stays nil until delivery succeeds.
type OutboxEvent struct {
	ID           string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Kind         string     `gorm:"type:varchar(16);not null" json:"kind"`
	CommentID    uint       `gorm:"not null;index" json:"comment_id"`
	PostID       uint       `gorm:"not null" json:"post_id"`
	Version      int64      `gorm:"not null" json:"version"`
	OccurredAt   time.Time  `gorm:"not null;index" json:"occurred_at"`
	DispatchedAt *time.Time `gorm:"index" json:"dispatched_at,omitempty"`
	Attempts     int        `gorm:"not null;default:0" json:"attempts"`
	LastError    string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TableName pins the table name.
func (OutboxEvent) TableName() string { return "comment_outbox" }
