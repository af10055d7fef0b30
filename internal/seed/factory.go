// Package seed creates demo users, posts and comments for development
// databases. Comments are written straight to the store, so run a reindex
// afterwards to make them searchable.
package seed

import (
	"fmt"
	"time"

	"postscript/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DefaultPassword is the password every seeded user can log in with.
const DefaultPassword = "password123"

// Factory builds domain entities and persists them to the database.
type Factory struct {
	db       *gorm.DB
	faker    *gofakeit.Faker
	password string
}

// NewFactory creates a Factory. A zero seed draws one from the clock.
// skipBcrypt stores the plain password, for fast local runs only.
func NewFactory(db *gorm.DB, seed int64, skipBcrypt bool) (*Factory, error) {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	password := DefaultPassword
	if !skipBcrypt {
		hashed, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password: %w", err)
		}
		password = string(hashed)
	}
	return &Factory{db: db, faker: gofakeit.New(seed), password: password}, nil
}

// CreateUser constructs and persists a sample user.
func (f *Factory) CreateUser(overrides ...func(*models.User)) (*models.User, error) {
	user := &models.User{
		Name:     f.faker.Name(),
		Email:    fmt.Sprintf("%s%d@%s", f.faker.Username(), f.faker.Number(100, 99999), f.faker.DomainName()),
		Password: f.password,
	}
	for _, override := range overrides {
		override(user)
	}
	if err := f.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// CreatePost constructs and persists a sample post by user.
func (f *Factory) CreatePost(user *models.User, overrides ...func(*models.Post)) (*models.Post, error) {
	post := &models.Post{
		Title:   f.faker.Sentence(5),
		Content: f.faker.Paragraph(1, 3, 5, "\n"),
		UserID:  user.ID,
	}
	for _, override := range overrides {
		override(post)
	}
	if err := f.db.Create(post).Error; err != nil {
		return nil, err
	}
	return post, nil
}

// BuildComment constructs, without saving, a comment by user on post with a
// random status, rating and timestamp in the last 30 days.
func (f *Factory) BuildComment(user *models.User, post *models.Post) *models.Comment {
	at := time.Now().UTC().Add(-time.Duration(f.faker.Number(0, 30*24*60)) * time.Minute).Truncate(time.Microsecond)

	statuses := []models.CommentStatus{
		models.CommentStatusApproved, models.CommentStatusApproved,
		models.CommentStatusPending, models.CommentStatusRejected,
	}
	status := statuses[f.faker.Number(0, len(statuses)-1)]

	var rating *int
	if f.faker.Bool() {
		r := f.faker.Number(models.MinCommentRating, models.MaxCommentRating)
		rating = &r
	}

	return &models.Comment{
		Message:     f.faker.Sentence(f.faker.Number(4, 20)),
		Rating:      rating,
		Status:      status,
		PublishedAt: models.PublishedAtFor(status, at),
		UserID:      user.ID,
		PostID:      post.ID,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

// CreateCommentsBatch persists comments in batches of 100.
func (f *Factory) CreateCommentsBatch(comments []*models.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	return f.db.CreateInBatches(comments, 100).Error
}

// Pick returns a random element of items.
func Pick[T any](f *Factory, items []T) T {
	return items[f.faker.Number(0, len(items)-1)]
}
