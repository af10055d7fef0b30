// Package events defines the change events emitted for every comment lifecycle transition.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"postscript/internal/models"

	"github.com/google/uuid"
)

// Kind is the lifecycle transition a ChangeEvent describes.
type Kind string

// Event kinds.
const (
	KindCreated  Kind = "created"
	KindUpdated  Kind = "updated"
	KindDeleted  Kind = "deleted"
	KindRestored Kind = "restored"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCreated, KindUpdated, KindDeleted, KindRestored:
		return true
	}
	return false
}

// ChangeEvent tells downstream consumers that a comment changed. Consumers
// reload state from the store; the version orders events for the same comment.
type ChangeEvent struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	CommentID  uint      `json:"comment_id"`
	PostID     uint      `json:"post_id"`
	Version    int64     `json:"version"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New builds an event for comment at the given version.
func New(kind Kind, comment *models.Comment, version int64, at time.Time) ChangeEvent {
	return ChangeEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		CommentID:  comment.ID,
		PostID:     comment.PostID,
		Version:    version,
		OccurredAt: at,
	}
}

// Validate rejects events that no consumer can act on.
func (e ChangeEvent) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.CommentID == 0 {
		return fmt.Errorf("event %s has no comment id", e.ID)
	}
	if e.Version <= 0 {
		return fmt.Errorf("event %s has no version", e.ID)
	}
	return nil
}

// Encode serializes the event for the queue.
func (e ChangeEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses and validates a queued event.
func Decode(body []byte) (ChangeEvent, error) {
	var e ChangeEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return ChangeEvent{}, fmt.Errorf("failed to decode change event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return ChangeEvent{}, err
	}
	return e, nil
}

// ToOutbox converts the event into its outbox row.
func (e ChangeEvent) ToOutbox() *models.OutboxEvent {
	return &models.OutboxEvent{
		ID:         e.ID,
		Kind:       string(e.Kind),
		CommentID:  e.CommentID,
		PostID:     e.PostID,
		Version:    e.Version,
		OccurredAt: e.OccurredAt,
		CreatedAt:  e.OccurredAt,
	}
}

// FromOutbox rebuilds the event stored in an outbox row.
func FromOutbox(row *models.OutboxEvent) ChangeEvent {
	return ChangeEvent{
		ID:         row.ID,
		Kind:       Kind(row.Kind),
		CommentID:  row.CommentID,
		PostID:     row.PostID,
		Version:    row.Version,
		OccurredAt: row.OccurredAt,
	}
}
