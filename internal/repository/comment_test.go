package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"postscript/internal/models"
	"postscript/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCommentRepository_Create_PostgresForeignKeyViolation(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewCommentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "comments"`)).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "fk_comments_post"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.Comment{Message: "hi", Status: models.CommentStatusPending, UserID: 1, PostID: 99})
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
	assert.Contains(t, err.Error(), "Post with ID 99")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommentRepository_Create_MissingPost(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	author := testutil.CreateUser(t, db, "ann", false)

	err := repo.Create(context.Background(), &models.Comment{
		Message: "orphan",
		Status:  models.CommentStatusPending,
		UserID:  author.ID,
		PostID:  4242,
	})
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestCommentRepository_GetByID_NotFound(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)

	_, err := repo.GetByID(context.Background(), 12345)
	assert.True(t, models.IsNotFound(err))
}

func TestCommentRepository_ListByPost_PublishedFirstThenNewest(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	author := testutil.CreateUser(t, db, "ann", false)
	post := testutil.CreatePost(t, db, author, "Ordering")
	other := testutil.CreatePost(t, db, author, "Other")

	oldPending := testutil.CreateComment(t, db, post, author, "old pending", models.CommentStatusPending, base)
	olderApproved := testutil.CreateComment(t, db, post, author, "older approved", models.CommentStatusApproved, base.Add(time.Minute))
	newerApproved := testutil.CreateComment(t, db, post, author, "newer approved", models.CommentStatusApproved, base.Add(2*time.Minute))
	newRejected := testutil.CreateComment(t, db, post, author, "new rejected", models.CommentStatusRejected, base.Add(3*time.Minute))
	testutil.CreateComment(t, db, other, author, "elsewhere", models.CommentStatusApproved, base.Add(4*time.Minute))

	comments, err := repo.ListByPost(context.Background(), post.ID)
	require.NoError(t, err)

	ids := make([]uint, 0, len(comments))
	for _, c := range comments {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []uint{newerApproved.ID, olderApproved.ID, newRejected.ID, oldPending.ID}, ids)
	require.NotNil(t, comments[0].User)
	assert.Equal(t, "ann", comments[0].User.Name)
}

func TestCommentRepository_ListByPost_Empty(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)

	comments, err := repo.ListByPost(context.Background(), 77)
	require.NoError(t, err)
	assert.NotNil(t, comments)
	assert.Empty(t, comments)
}

func TestCommentRepository_Update(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()
	author := testutil.CreateUser(t, db, "ann", false)
	post := testutil.CreatePost(t, db, author, "Post")
	c := testutil.CreateComment(t, db, post, author, "before", models.CommentStatusPending, base)
	require.Equal(t, int64(1), c.Version())

	at := base.Add(time.Hour)
	fields := map[string]interface{}{"message": "after", "updated_at": at}
	version, err := repo.Update(ctx, c.ID, fields)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	assert.NotContains(t, fields, "version", "caller's map is left alone")

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Message)
	assert.Equal(t, int64(2), got.Version())

	_, err = repo.Update(ctx, 999, map[string]interface{}{"message": "x"})
	assert.True(t, models.IsNotFound(err))
}

func TestCommentRepository_Update_VersionIgnoresClock(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()
	author := testutil.CreateUser(t, db, "ann", false)
	post := testutil.CreatePost(t, db, author, "Post")
	c := testutil.CreateComment(t, db, post, author, "start", models.CommentStatusPending, base)

	first, err := repo.Update(ctx, c.ID, map[string]interface{}{"message": "bravo", "updated_at": base.Add(2 * time.Second)})
	require.NoError(t, err)
	second, err := repo.Update(ctx, c.ID, map[string]interface{}{"message": "alpha", "updated_at": base.Add(time.Second)})
	require.NoError(t, err)

	assert.Greater(t, second, first, "the later commit wins even with an earlier timestamp")
}

func TestCommentRepository_Update_RolledBackBumpIsDiscarded(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()
	author := testutil.CreateUser(t, db, "ann", false)
	post := testutil.CreatePost(t, db, author, "Post")
	c := testutil.CreateComment(t, db, post, author, "start", models.CommentStatusPending, base)

	err := db.Transaction(func(tx *gorm.DB) error {
		version, err := NewCommentRepository(tx).Update(ctx, c.ID, map[string]interface{}{"message": "lost"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), version, "the bump is visible inside the transaction")
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version())
	assert.Equal(t, "start", got.Message)
}

func TestCommentRepository_DeleteAndRestore(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()
	author := testutil.CreateUser(t, db, "ann", false)
	post := testutil.CreatePost(t, db, author, "Post")
	c := testutil.CreateComment(t, db, post, author, "bye", models.CommentStatusApproved, base)

	restored, err := repo.Restore(ctx, c.ID, base.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, restored, "a live comment is not restored")

	version, err := repo.Delete(ctx, c.ID, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	_, err = repo.GetByID(ctx, c.ID)
	assert.True(t, models.IsNotFound(err))
	_, err = repo.Delete(ctx, c.ID, base.Add(2*time.Minute))
	assert.True(t, models.IsNotFound(err))

	restored, err = repo.Restore(ctx, c.ID, base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.True(t, restored)

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version(), "restore outranks the deletion")

	_, err = repo.Restore(ctx, 999, base)
	assert.True(t, models.IsNotFound(err))
}

func TestCommentRepository_ForceDelete(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()
	author := testutil.CreateUser(t, db, "ann", false)
	post := testutil.CreatePost(t, db, author, "Post")
	c := testutil.CreateComment(t, db, post, author, "gone", models.CommentStatusPending, base)

	_, err := repo.Delete(ctx, c.ID, base.Add(time.Minute))
	require.NoError(t, err)

	version, err := repo.ForceDelete(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), version, "a soft-deleted row is still bumped")

	_, err = repo.Restore(ctx, c.ID, base)
	assert.True(t, models.IsNotFound(err))
	_, err = repo.ForceDelete(ctx, c.ID)
	assert.True(t, models.IsNotFound(err))
}

func TestCommentRepository_GetForIndex_MissingAuthorIsNil(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()
	author := testutil.CreateUser(t, db, "ann", false)
	post := testutil.CreatePost(t, db, author, "Indexed title")
	c := testutil.CreateComment(t, db, post, author, "indexed", models.CommentStatusPending, base)

	got, err := repo.GetForIndex(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.User)
	require.NotNil(t, got.Post)
	assert.Equal(t, "Indexed title", got.Post.Title)

	require.NoError(t, db.Delete(&models.User{}, author.ID).Error)
	got, err = repo.GetForIndex(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, got.User)
	require.NotNil(t, got.Post)
}

func TestCommentRepository_GetByIDsAndListAfter(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()
	author := testutil.CreateUser(t, db, "ann", false)
	post := testutil.CreatePost(t, db, author, "Post")

	var ids []uint
	for i := 0; i < 5; i++ {
		c := testutil.CreateComment(t, db, post, author, "c", models.CommentStatusPending, base.Add(time.Duration(i)*time.Second))
		ids = append(ids, c.ID)
	}
	_, err := repo.Delete(ctx, ids[1], base.Add(time.Hour))
	require.NoError(t, err)

	got, err := repo.GetByIDs(ctx, []uint{ids[4], ids[1], ids[0], 9999})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[0], got[0].ID)
	assert.Equal(t, ids[4], got[1].ID)
	assert.NotNil(t, got[0].Post)

	empty, err := repo.GetByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	page, err := repo.ListAfter(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, []uint{ids[0], ids[2]}, []uint{page[0].ID, page[1].ID})

	page, err = repo.ListAfter(ctx, ids[2], 10)
	require.NoError(t, err)
	assert.Len(t, page, 2)
}
