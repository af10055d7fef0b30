package seed

import (
	"testing"
	"unicode/utf8"

	"postscript/internal/models"
	"postscript/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestSeed_CreatesConsistentData(t *testing.T) {
	db := testutil.NewSQLiteDB(t)

	result, err := Seed(db, Options{NumUsers: 3, NumPosts: 4, CommentsPerPost: 5, SkipBcrypt: true, Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, &Result{Users: 3, Posts: 4, Comments: 20}, result)

	var comments []models.Comment
	require.NoError(t, db.Find(&comments).Error)
	require.Len(t, comments, 20)
	for _, c := range comments {
		assert.True(t, c.Status.Valid())
		assert.Equal(t, c.Status == models.CommentStatusApproved, c.PublishedAt != nil, "comment %d", c.ID)
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Message), models.MaxCommentMessageLength)
		if c.Rating != nil {
			assert.GreaterOrEqual(t, *c.Rating, models.MinCommentRating)
			assert.LessOrEqual(t, *c.Rating, models.MaxCommentRating)
		}
	}
}

func TestSeed_CleanReplacesData(t *testing.T) {
	db := testutil.NewSQLiteDB(t)

	_, err := Seed(db, Options{NumUsers: 2, NumPosts: 2, CommentsPerPost: 2, SkipBcrypt: true, Seed: 1})
	require.NoError(t, err)
	_, err = Seed(db, Options{NumUsers: 1, NumPosts: 1, CommentsPerPost: 1, SkipBcrypt: true, Seed: 2, ShouldClean: true})
	require.NoError(t, err)

	var users, comments int64
	require.NoError(t, db.Unscoped().Model(&models.User{}).Count(&users).Error)
	require.NoError(t, db.Unscoped().Model(&models.Comment{}).Count(&comments).Error)
	assert.Equal(t, int64(1), users)
	assert.Equal(t, int64(1), comments)
}

func TestSeed_RejectsEmptyRun(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	_, err := Seed(db, Options{})
	assert.Error(t, err)
}

func TestFactory_HashesPassword(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	f, err := NewFactory(db, 7, false)
	require.NoError(t, err)

	u, err := f.CreateUser()
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(DefaultPassword)))
}
