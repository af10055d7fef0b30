// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"fmt"
	"time"

	"postscript/internal/models"

	"gorm.io/gorm"
)

// CommentRepository defines interface for comment operations
type CommentRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Comment, error)
	GetByIDs(ctx context.Context, ids []uint) ([]*models.Comment, error)
	Create(ctx context.Context, comment *models.Comment) error
	Update(ctx context.Context, id uint, fields map[string]interface{}) (int64, error)
	Delete(ctx context.Context, id uint, at time.Time) (int64, error)
	ForceDelete(ctx context.Context, id uint) (int64, error)
	Restore(ctx context.Context, id uint, at time.Time) (bool, error)
	ListByPost(ctx context.Context, postID uint) ([]*models.Comment, error)
	GetForIndex(ctx context.Context, id uint) (*models.Comment, error)
	ListAfter(ctx context.Context, afterID uint, limit int) ([]*models.Comment, error)
}

type commentRepository struct {
	db *gorm.DB
}

// NewCommentRepository creates a new CommentRepository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) GetByID(ctx context.Context, id uint) (*models.Comment, error) {
	var comment models.Comment
	if err := r.db.WithContext(ctx).Preload("User").First(&comment, id).Error; err != nil {
		return nil, notFoundOr(err, "Comment", id)
	}
	return &comment, nil
}

// GetByIDs hydrates comments with author and post. Missing ids are skipped and
// the result is in id order; callers re-order as needed.
func (r *commentRepository) GetByIDs(ctx context.Context, ids []uint) ([]*models.Comment, error) {
	comments := make([]*models.Comment, 0, len(ids))
	if len(ids) == 0 {
		return comments, nil
	}
	err := r.db.WithContext(ctx).
		Preload("User").
		Preload("Post").
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&comments).Error
	return comments, err
}

// Create inserts a comment at version 1.
func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	comment.Revision = 1
	if err := r.db.WithContext(ctx).Omit("User", "Post").Create(comment).Error; err != nil {
		return createError(err, comment)
	}
	return nil
}

// Update writes fields to a live comment and bumps its version. It returns the
// new version, or NOT_FOUND when the comment does not exist.
func (r *commentRepository) Update(ctx context.Context, id uint, fields map[string]interface{}) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	values := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		values[k] = v
	}
	values["version"] = gorm.Expr("version + 1")

	db := r.db.WithContext(ctx)
	res := db.Model(&models.Comment{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, models.NewNotFoundError("Comment", id)
	}
	return currentVersion(db, id)
}

// Delete soft-deletes a comment and returns the version the deletion carries.
func (r *commentRepository) Delete(ctx context.Context, id uint, at time.Time) (int64, error) {
	db := r.db.WithContext(ctx)
	res := db.Model(&models.Comment{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"deleted_at": at,
			"updated_at": at,
			"version":    gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, models.NewNotFoundError("Comment", id)
	}
	return currentVersion(db.Unscoped(), id)
}

// ForceDelete removes the row. The version is bumped first so the removal
// orders after every committed write, and the bumped value is returned.
func (r *commentRepository) ForceDelete(ctx context.Context, id uint) (int64, error) {
	db := r.db.WithContext(ctx).Unscoped()
	res := db.Model(&models.Comment{}).Where("id = ?", id).
		UpdateColumn("version", gorm.Expr("version + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, models.NewNotFoundError("Comment", id)
	}
	version, err := currentVersion(db, id)
	if err != nil {
		return 0, err
	}
	if err := db.Delete(&models.Comment{}, id).Error; err != nil {
		return 0, err
	}
	return version, nil
}

// Restore clears deleted_at and bumps the version. It reports false when the
// comment exists but was not deleted.
func (r *commentRepository) Restore(ctx context.Context, id uint, at time.Time) (bool, error) {
	db := r.db.WithContext(ctx).Unscoped()
	res := db.Model(&models.Comment{}).
		Where("id = ? AND deleted_at IS NOT NULL", id).
		Updates(map[string]interface{}{
			"deleted_at": nil,
			"updated_at": at,
			"version":    gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := db.Model(&models.Comment{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check comment: %w", err)
	}
	if count == 0 {
		return false, models.NewNotFoundError("Comment", id)
	}
	return false, nil
}

// currentVersion reads the version this connection sees, which inside a
// transaction includes its own uncommitted bump.
func currentVersion(db *gorm.DB, id uint) (int64, error) {
	var versions []int64
	if err := db.Model(&models.Comment{}).Where("id = ?", id).Pluck("version", &versions).Error; err != nil {
		return 0, fmt.Errorf("failed to read comment version: %w", err)
	}
	if len(versions) == 0 {
		return 0, models.NewNotFoundError("Comment", id)
	}
	return versions[0], nil
}

// ListByPost returns a post's comments: published newest first, then unpublished newest first.
func (r *commentRepository) ListByPost(ctx context.Context, postID uint) ([]*models.Comment, error) {
	comments := make([]*models.Comment, 0)
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("post_id = ?", postID).
		Order("CASE WHEN published_at IS NULL THEN 1 ELSE 0 END").
		Order("published_at DESC").
		Order("id DESC").
		Find(&comments).Error
	return comments, err
}

// GetForIndex loads a live comment with the author and post it is denormalized from.
// An author or post that no longer exists is left nil.
func (r *commentRepository) GetForIndex(ctx context.Context, id uint) (*models.Comment, error) {
	var comment models.Comment
	err := r.db.WithContext(ctx).
		Preload("User").
		Preload("Post").
		First(&comment, id).Error
	if err != nil {
		return nil, notFoundOr(err, "Comment", id)
	}
	return &comment, nil
}

// ListAfter returns up to limit live comments with id > afterID in id order.
func (r *commentRepository) ListAfter(ctx context.Context, afterID uint, limit int) ([]*models.Comment, error) {
	comments := make([]*models.Comment, 0, limit)
	err := r.db.WithContext(ctx).
		Preload("User").
		Preload("Post").
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&comments).Error
	return comments, err
}
