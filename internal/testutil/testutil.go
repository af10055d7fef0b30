// Package testutil provides shared fixtures for tests that need a real store.
package testutil

import (
	"testing"
	"time"

	"postscript/internal/database"
	"postscript/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewSQLiteDB opens a migrated in-memory SQLite database that is closed when t ends.
func NewSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// CreateUser inserts a user with a placeholder password hash.
func CreateUser(t *testing.T, db *gorm.DB, name string, admin bool) *models.User {
	t.Helper()
	u := &models.User{
		Name:     name,
		Email:    name + "@example.test",
		Password: "x",
		IsAdmin:  admin,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

// CreatePost inserts a post owned by author.
func CreatePost(t *testing.T, db *gorm.DB, author *models.User, title string) *models.Post {
	t.Helper()
	p := &models.Post{Title: title, Content: title + " body", UserID: author.ID}
	require.NoError(t, db.Create(p).Error)
	return p
}

// CreateComment inserts a comment directly, bypassing the service and its events.
func CreateComment(
	t *testing.T,
	db *gorm.DB,
	post *models.Post,
	author *models.User,
	message string,
	status models.CommentStatus,
	at time.Time,
) *models.Comment {
	t.Helper()
	at = at.UTC().Truncate(time.Microsecond)
	c := &models.Comment{
		Message:     message,
		Status:      status,
		PublishedAt: models.PublishedAtFor(status, at),
		UserID:      author.ID,
		PostID:      post.ID,
		CreatedAt:   at,
		UpdatedAt:   at,
		Revision:    1,
	}
	require.NoError(t, db.Create(c).Error)
	return c
}
