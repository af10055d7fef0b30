package seed

import (
	"fmt"

	"postscript/internal/models"
	"postscript/internal/observability"

	"gorm.io/gorm"
)

// Options sizes a seeding run.
type Options struct {
	NumUsers        int
	NumPosts        int
	CommentsPerPost int
	ShouldClean     bool
	SkipBcrypt      bool
	// Seed makes the generated data reproducible when non-zero.
	Seed int64
}

// Result counts what a run created.
type Result struct {
	Users    int
	Posts    int
	Comments int
}

// Seed populates db with fake users, posts and comments.
func Seed(db *gorm.DB, opts Options) (*Result, error) {
	if opts.NumUsers <= 0 || opts.NumPosts <= 0 {
		return nil, fmt.Errorf("seed needs at least one user and one post")
	}

	if opts.ShouldClean {
		if err := ClearData(db); err != nil {
			return nil, fmt.Errorf("failed to clear existing data: %w", err)
		}
	}

	f, err := NewFactory(db, opts.Seed, opts.SkipBcrypt)
	if err != nil {
		return nil, err
	}

	users := make([]*models.User, 0, opts.NumUsers)
	for i := 0; i < opts.NumUsers; i++ {
		u, err := f.CreateUser()
		if err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		users = append(users, u)
	}
	observability.Logger.Info("seeded users", "count", len(users))

	result := &Result{Users: len(users)}
	for i := 0; i < opts.NumPosts; i++ {
		post, err := f.CreatePost(Pick(f, users))
		if err != nil {
			return nil, fmt.Errorf("failed to create post: %w", err)
		}
		result.Posts++

		comments := make([]*models.Comment, 0, opts.CommentsPerPost)
		for j := 0; j < opts.CommentsPerPost; j++ {
			comments = append(comments, f.BuildComment(Pick(f, users), post))
		}
		if err := f.CreateCommentsBatch(comments); err != nil {
			return nil, fmt.Errorf("failed to create comments for post %d: %w", post.ID, err)
		}
		result.Comments += len(comments)
	}
	observability.Logger.Info("seeded posts and comments", "posts", result.Posts, "comments", result.Comments)

	return result, nil
}

// ClearData removes every comment, outbox row, post and user.
func ClearData(db *gorm.DB) error {
	if db.Dialector.Name() == "postgres" {
		return db.Exec(`TRUNCATE TABLE comment_outbox, comments, posts, users RESTART IDENTITY CASCADE`).Error
	}
	return db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&models.OutboxEvent{}, &models.Comment{}, &models.Post{}, &models.User{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
