// Package search is the secondary full-text index over comments. It is never
// authoritative: everything in it can be rebuilt from the primary store.
package search

import (
	"context"
	"errors"
	"time"

	"postscript/internal/models"
)

// IndexName is the fixed name of the comment index.
const IndexName = "comments"

// Indexed field names.
const (
	FieldMessage   = "message"
	FieldRating    = "rating"
	FieldStatus    = "status"
	FieldUserID    = "user_id"
	FieldUserName  = "user_name"
	FieldPostID    = "post_id"
	FieldPostTitle = "post_title"
	FieldCreatedAt = "created_at"
	FieldVersion   = "version"
)

// ErrMalformedDocument is returned for documents that can never be indexed.
var ErrMalformedDocument = errors.New("malformed search document")

// Document is the denormalized copy of a comment kept in the index.
type Document struct {
	ID        uint
	Message   string
	Rating    *int
	Status    string
	UserID    uint
	UserName  *string
	PostID    uint
	PostTitle *string
	CreatedAt time.Time
	Version   int64
}

// FromComment builds the index document for c. Author and post are optional.
func FromComment(c *models.Comment) Document {
	doc := Document{
		ID:        c.ID,
		Message:   c.Message,
		Rating:    c.Rating,
		Status:    string(c.Status),
		UserID:    c.UserID,
		PostID:    c.PostID,
		CreatedAt: c.CreatedAt,
		Version:   c.Version(),
	}
	if c.User != nil {
		name := c.User.Name
		doc.UserName = &name
	}
	if c.Post != nil {
		title := c.Post.Title
		doc.PostTitle = &title
	}
	return doc
}

// WeightedField is a field to match with a relative boost.
type WeightedField struct {
	Name  string
	Boost float64
}

// CommentFields are the fields comment search matches on, most important first.
var CommentFields = []WeightedField{
	{Name: FieldMessage, Boost: 3},
	{Name: FieldUserName, Boost: 2},
	{Name: FieldPostTitle, Boost: 1},
}

// Query is a ranked multi-field text query.
type Query struct {
	Text   string
	Fields []WeightedField
	// Conjunctive requires every term to match within a single field.
	Conjunctive bool
	Limit       int
}

// ErrDocumentGone is returned by a Replace loader when the source row no
// longer exists.
var ErrDocumentGone = errors.New("search document source is gone")

// Loader reads the current source state of one document.
type Loader func(ctx context.Context) (Document, error)

// Index is a versioned document index. Writes older than what the index has
// seen for the same id are skipped. Upsert reports whether it wrote; Delete
// reports whether a live document was removed. Replace calls load while no
// other write to id can run and writes the result over any live version,
// yielding only to a tombstone newer than the loaded document.
type Index interface {
	Upsert(ctx context.Context, doc Document) (bool, error)
	Replace(ctx context.Context, id uint, load Loader) (bool, error)
	Delete(ctx context.Context, id uint, version int64) (bool, error)
	Query(ctx context.Context, q Query) ([]uint, error)
	Refresh(ctx context.Context) error
	Count(ctx context.Context) (uint64, error)
	Close() error
}
