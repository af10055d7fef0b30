package repository

import (
	"context"
	"testing"

	"postscript/internal/cache"
	"postscript/internal/models"
	"postscript/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostRepository_GetByID_UsesCache(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := NewPostRepository(db, cache.New(rdb))
	author := testutil.CreateUser(t, db, "ann", false)
	post := testutil.CreatePost(t, db, author, "Cached title")
	ctx := context.Background()

	got, err := repo.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cached title", got.Title)
	assert.True(t, mr.Exists(cache.PostKey(post.ID)))

	// A second read is served from Redis even after the row changes underneath.
	require.NoError(t, db.Model(&models.Post{}).Where("id = ?", post.ID).Update("title", "Changed").Error)
	got, err = repo.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cached title", got.Title)
}

func TestPostRepository_GetByID_NotFound(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewPostRepository(db, nil)

	_, err := repo.GetByID(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestPostRepository_Create_MissingAuthor(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewPostRepository(db, nil)

	err := repo.Create(context.Background(), &models.Post{Title: "orphan", UserID: 77})
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}
