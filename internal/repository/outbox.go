package repository

import (
	"context"
	"time"

	"postscript/internal/models"

	"gorm.io/gorm"
)

const maxOutboxErrorLength = 1024

// OutboxRepository persists change events alongside the comment writes they describe.
type OutboxRepository interface {
	Create(ctx context.Context, event *models.OutboxEvent) error
	MarkDispatched(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*models.OutboxEvent, error)
	CountPending(ctx context.Context) (int64, error)
	PurgeDispatched(ctx context.Context, before time.Time) (int64, error)
}

type outboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository creates a new OutboxRepository
func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Create(ctx context.Context, event *models.OutboxEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *outboxRepository) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND dispatched_at IS NULL", id).
		Update("dispatched_at", at).Error
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	if len(reason) > maxOutboxErrorLength {
		reason = reason[:maxOutboxErrorLength]
	}
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
		}).Error
}

// ListPending returns undispatched events created before createdBefore, oldest first.
func (r *outboxRepository) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*models.OutboxEvent, error) {
	events := make([]*models.OutboxEvent, 0, limit)
	err := r.db.WithContext(ctx).
		Where("dispatched_at IS NULL AND created_at < ?", createdBefore).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *outboxRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("dispatched_at IS NULL").
		Count(&count).Error
	return count, err
}

// PurgeDispatched deletes rows dispatched before the cutoff.
func (r *outboxRepository) PurgeDispatched(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("dispatched_at IS NOT NULL AND dispatched_at < ?", before).
		Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}
