// Package service holds the comment business rules and the search read path.
package service

import (
	"context"
	"time"

	"postscript/internal/events"
	"postscript/internal/models"
	"postscript/internal/observability"
	"postscript/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// Dispatcher delivers a committed change event to its consumers.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev events.ChangeEvent) error
}

// CommentService enforces comment invariants and emits one change event per
// committed mutation.
type CommentService struct {
	comments   repository.CommentRepository
	posts      repository.PostRepository
	tx         repository.Transactor
	dispatcher Dispatcher
	now        func() time.Time
}

// CreateCommentInput is the payload for a new comment. Status defaults to pending.
type CreateCommentInput struct {
	Message string
	Rating  *int
	Status  models.CommentStatus
}

// UpdateCommentInput replaces a comment's content.
type UpdateCommentInput struct {
	Message string
	Rating  *int
}

func NewCommentService(
	comments repository.CommentRepository,
	posts repository.PostRepository,
	tx repository.Transactor,
	dispatcher Dispatcher,
) *CommentService {
	return &CommentService{
		comments:   comments,
		posts:      posts,
		tx:         tx,
		dispatcher: dispatcher,
		now:        defaultClock,
	}
}

// defaultClock truncates to microseconds so versions survive a PostgreSQL round trip.
func defaultClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Show loads a live comment with its author.
func (s *CommentService) Show(ctx context.Context, id uint) (*models.Comment, error) {
	return s.comments.GetByID(ctx, id)
}

// ListByPost lists a post's comments, published first.
func (s *CommentService) ListByPost(ctx context.Context, postID uint) ([]*models.Comment, error) {
	if _, err := s.posts.GetByID(ctx, postID); err != nil {
		return nil, err
	}
	return s.comments.ListByPost(ctx, postID)
}

// Create stores a comment by actor on post and dispatches a Created event.
func (s *CommentService) Create(
	ctx context.Context, actor *models.User, post *models.Post, in CreateCommentInput,
) (comment *models.Comment, err error) {
	ctx, span := observability.StartSpan(ctx, "comment_service", "create",
		attribute.Int64("post.id", int64(post.ID)))
	defer func() { observability.EndSpan(span, err) }()

	status := in.Status
	if status == "" {
		status = models.CommentStatusPending
	}
	if !status.Valid() {
		return nil, models.NewValidationError("invalid comment status")
	}

	now := s.now()
	comment = &models.Comment{
		Message:     in.Message,
		Rating:      in.Rating,
		Status:      status,
		PublishedAt: models.PublishedAtFor(status, now),
		UserID:      actor.ID,
		PostID:      post.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var ev events.ChangeEvent
	err = s.tx.WithinTransaction(ctx, func(st repository.Stores) error {
		if err := st.Comments.Create(ctx, comment); err != nil {
			return err
		}
		ev = events.New(events.KindCreated, comment, comment.Version(), now)
		return st.Outbox.Create(ctx, ev.ToOutbox())
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, ev)
	comment.User = actor
	comment.Post = post
	return comment, nil
}

// UpdateContent replaces message and rating. It reports false, writing
// nothing, when neither changed.
func (s *CommentService) UpdateContent(
	ctx context.Context, comment *models.Comment, in UpdateCommentInput,
) (changed bool, err error) {
	ctx, span := observability.StartSpan(ctx, "comment_service", "update_content",
		attribute.Int64("comment.id", int64(comment.ID)))
	defer func() { observability.EndSpan(span, err) }()

	if comment.Message == in.Message && equalRating(comment.Rating, in.Rating) {
		return false, nil
	}

	now := s.now()
	version, err := s.write(ctx, comment, events.KindUpdated, now, map[string]interface{}{
		"message":    in.Message,
		"rating":     in.Rating,
		"updated_at": now,
	})
	if err != nil {
		return false, err
	}

	comment.Message = in.Message
	comment.Rating = in.Rating
	comment.UpdatedAt = now
	comment.Revision = version
	return true, nil
}

// UpdateStatus moves comment to status, setting published_at when approved
// and clearing it otherwise. The same status is a no-op.
func (s *CommentService) UpdateStatus(
	ctx context.Context, comment *models.Comment, status models.CommentStatus,
) (changed bool, err error) {
	ctx, span := observability.StartSpan(ctx, "comment_service", "update_status",
		attribute.Int64("comment.id", int64(comment.ID)),
		attribute.String("comment.status", string(status)))
	defer func() { observability.EndSpan(span, err) }()

	if !status.Valid() {
		return false, models.NewValidationError("invalid comment status")
	}
	if status == comment.Status {
		return false, nil
	}

	now := s.now()
	publishedAt := models.PublishedAtFor(status, now)
	version, err := s.write(ctx, comment, events.KindUpdated, now, map[string]interface{}{
		"status":       status,
		"published_at": publishedAt,
		"updated_at":   now,
	})
	if err != nil {
		return false, err
	}

	comment.Status = status
	comment.PublishedAt = publishedAt
	comment.UpdatedAt = now
	comment.Revision = version
	return true, nil
}

// Delete soft-deletes comment and dispatches a Deleted event.
func (s *CommentService) Delete(ctx context.Context, comment *models.Comment) (_ bool, err error) {
	ctx, span := observability.StartSpan(ctx, "comment_service", "delete",
		attribute.Int64("comment.id", int64(comment.ID)))
	defer func() { observability.EndSpan(span, err) }()

	now := s.now()
	var ev events.ChangeEvent
	err = s.tx.WithinTransaction(ctx, func(st repository.Stores) error {
		version, err := st.Comments.Delete(ctx, comment.ID, now)
		if err != nil {
			return err
		}
		ev = events.New(events.KindDeleted, comment, version, now)
		return st.Outbox.Create(ctx, ev.ToOutbox())
	})
	if err != nil {
		return false, err
	}

	s.dispatch(ctx, ev)
	comment.UpdatedAt = now
	comment.Revision = ev.Version
	return true, nil
}

// ForceDelete removes comment permanently and dispatches a Deleted event.
func (s *CommentService) ForceDelete(ctx context.Context, comment *models.Comment) (err error) {
	ctx, span := observability.StartSpan(ctx, "comment_service", "force_delete",
		attribute.Int64("comment.id", int64(comment.ID)))
	defer func() { observability.EndSpan(span, err) }()

	now := s.now()
	var ev events.ChangeEvent
	err = s.tx.WithinTransaction(ctx, func(st repository.Stores) error {
		version, err := st.Comments.ForceDelete(ctx, comment.ID)
		if err != nil {
			return err
		}
		ev = events.New(events.KindDeleted, comment, version, now)
		return st.Outbox.Create(ctx, ev.ToOutbox())
	})
	if err != nil {
		return err
	}

	s.dispatch(ctx, ev)
	return nil
}

// Restore brings back a soft-deleted comment and dispatches a Restored event.
// It reports false when the comment was not deleted.
func (s *CommentService) Restore(ctx context.Context, id uint) (comment *models.Comment, restored bool, err error) {
	ctx, span := observability.StartSpan(ctx, "comment_service", "restore",
		attribute.Int64("comment.id", int64(id)))
	defer func() { observability.EndSpan(span, err) }()

	now := s.now()
	var ev events.ChangeEvent
	err = s.tx.WithinTransaction(ctx, func(st repository.Stores) error {
		ok, err := st.Comments.Restore(ctx, id, now)
		if err != nil || !ok {
			return err
		}
		restored = true
		if comment, err = st.Comments.GetByID(ctx, id); err != nil {
			return err
		}
		ev = events.New(events.KindRestored, comment, comment.Version(), now)
		return st.Outbox.Create(ctx, ev.ToOutbox())
	})
	if err != nil {
		return nil, false, err
	}
	if !restored {
		comment, err = s.comments.GetByID(ctx, id)
		return comment, false, err
	}

	s.dispatch(ctx, ev)
	return comment, true, nil
}

// write applies fields and stages a change event in one transaction, then
// dispatches it. The event carries the version the store assigned.
func (s *CommentService) write(
	ctx context.Context, comment *models.Comment, kind events.Kind, now time.Time, fields map[string]interface{},
) (int64, error) {
	var ev events.ChangeEvent
	err := s.tx.WithinTransaction(ctx, func(st repository.Stores) error {
		version, err := st.Comments.Update(ctx, comment.ID, fields)
		if err != nil {
			return err
		}
		ev = events.New(kind, comment, version, now)
		return st.Outbox.Create(ctx, ev.ToOutbox())
	})
	if err != nil {
		return 0, err
	}
	s.dispatch(ctx, ev)
	return ev.Version, nil
}

// dispatch runs after commit. A failure leaves the outbox row for the relay.
func (s *CommentService) dispatch(ctx context.Context, ev events.ChangeEvent) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, ev); err != nil {
		observability.Logger.WarnContext(ctx, "change event dispatch deferred to outbox relay",
			"event_id", ev.ID, "kind", ev.Kind, "comment_id", ev.CommentID, "error", err)
	}
}

func equalRating(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
