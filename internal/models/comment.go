package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Comment constraints shared by handlers and services.
const (
	MaxCommentMessageLength = 1024
	MinCommentRating        = 1
	MaxCommentRating        = 5
)

// CommentStatus is the moderation state of a comment.
type CommentStatus string

// Comment statuses.
const (
	CommentStatusPending  CommentStatus = "pending"
	CommentStatusApproved CommentStatus = "approved"
	CommentStatusRejected CommentStatus = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s CommentStatus) Valid() bool {
	switch s {
	case CommentStatusPending, CommentStatusApproved, CommentStatusRejected:
		return true
	}
	return false
}

// ParseCommentStatus converts raw input into a CommentStatus.
func ParseCommentStatus(raw string) (CommentStatus, error) {
	s := CommentStatus(raw)
	if !s.Valid() {
		return "", NewValidationError(fmt.Sprintf("status must be one of pending, approved, rejected (got %q)", raw))
	}
	return s, nil
}

// PublishedAtFor derives published_at for a status: set to now when approved, nil otherwise.
func PublishedAtFor(status CommentStatus, now time.Time) *time.Time {
	if status != CommentStatusApproved {
		return nil
	}
	t := now
	return &t
}

// Comment is a user comment on a post.
type Comment struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Message     string         `gorm:"type:varchar(1024);not null" json:"message"`
	Rating      *int           `json:"rating"`
	Status      CommentStatus  `gorm:"type:varchar(16);not null;default:pending;index" json:"status"`
	PublishedAt *time.Time     `gorm:"index" json:"published_at"`
	UserID      uint           `gorm:"not null;index" json:"user_id"`
	User        *User          `gorm:"foreignKey:UserID" json:"author,omitempty"`
	PostID      uint           `gorm:"not null;index" json:"post_id"`
	Post        *Post          `gorm:"foreignKey:PostID" json:"post,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	// Revision is bumped by the store inside every write transaction, so it
	// orders changes by commit rather than by wall clock.
	Revision int64 `gorm:"column:version;not null;default:1" json:"version"`
}

// Version is the comment's commit-ordered version.
func (c *Comment) Version() int64 {
	return c.Revision
}

// IsPublished reports whether the comment is visible as published.
func (c *Comment) IsPublished() bool {
	return c.Status == CommentStatusApproved && c.PublishedAt != nil
}
