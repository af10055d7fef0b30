package repository

import (
	"context"

	"gorm.io/gorm"
)

// Stores are the repositories bound to one transaction.
type Stores struct {
	Comments CommentRepository
	Outbox   OutboxRepository
}

// Transactor runs a unit of work over the comment and outbox tables.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(stores Stores) error) error
}

type gormTransactor struct {
	db *gorm.DB
}

// NewTransactor creates a Transactor backed by db.
func NewTransactor(db *gorm.DB) Transactor {
	return &gormTransactor{db: db}
}

// WithinTransaction commits when fn returns nil and rolls back otherwise.
func (t *gormTransactor) WithinTransaction(ctx context.Context, fn func(stores Stores) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(Stores{
			Comments: NewCommentRepository(tx),
			Outbox:   NewOutboxRepository(tx),
		})
	})
}
