package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"postscript/internal/models"
	"postscript/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOutboxEvent(commentID uint, created time.Time) *models.OutboxEvent {
	return &models.OutboxEvent{
		ID:         uuid.NewString(),
		Kind:       "created",
		CommentID:  commentID,
		PostID:     1,
		Version:    created.UnixNano(),
		OccurredAt: created,
		CreatedAt:  created,
	}
}

func TestOutboxRepository_PendingLifecycle(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	first := newOutboxEvent(1, base)
	second := newOutboxEvent(2, base.Add(time.Second))
	recent := newOutboxEvent(3, base.Add(time.Hour))
	for _, ev := range []*models.OutboxEvent{second, first, recent} {
		require.NoError(t, repo.Create(ctx, ev))
	}

	pending, err := repo.ListPending(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)

	require.NoError(t, repo.MarkFailed(ctx, first.ID, "queue down"))
	require.NoError(t, repo.MarkDispatched(ctx, second.ID, base.Add(2*time.Minute)))

	pending, err = repo.ListPending(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "queue down", pending[0].LastError)

	count, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	purged, err := repo.PurgeDispatched(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestTransactor_RollsBackOnError(t *testing.T) {
	db, mock := setupMockDB(t)
	tx := NewTransactor(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "comments"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectRollback()

	errOutbox := errors.New("outbox write failed")
	err := tx.WithinTransaction(context.Background(), func(s Stores) error {
		if err := s.Comments.Create(context.Background(), &models.Comment{
			Message: "hi", Status: models.CommentStatusPending, UserID: 1, PostID: 1,
		}); err != nil {
			return err
		}
		return errOutbox
	})

	assert.ErrorIs(t, err, errOutbox)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_CommitsCommentAndOutbox(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	tx := NewTransactor(db)
	ctx := context.Background()
	author := testutil.CreateUser(t, db, "ann", false)
	post := testutil.CreatePost(t, db, author, "Post")

	err := tx.WithinTransaction(ctx, func(s Stores) error {
		c := &models.Comment{Message: "hi", Status: models.CommentStatusPending, UserID: author.ID, PostID: post.ID}
		if err := s.Comments.Create(ctx, c); err != nil {
			return err
		}
		return s.Outbox.Create(ctx, newOutboxEvent(c.ID, base))
	})
	require.NoError(t, err)

	count, err := NewOutboxRepository(db).CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	err = tx.WithinTransaction(ctx, func(s Stores) error {
		c := &models.Comment{Message: "lost", Status: models.CommentStatusPending, UserID: author.ID, PostID: post.ID}
		if err := s.Comments.Create(ctx, c); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	var comments int64
	require.NoError(t, db.Model(&models.Comment{}).Count(&comments).Error)
	assert.Equal(t, int64(1), comments)
}
