package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"postscript/internal/events"
	"postscript/internal/models"
	"postscript/internal/repository"
	"postscript/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var base = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// recordingDispatcher captures dispatched events.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []events.ChangeEvent
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev events.ChangeEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return d.err
}

func (d *recordingDispatcher) kinds() []events.Kind {
	d.mu.Lock()
	defer d.mu.Unlock()
	kinds := make([]events.Kind, 0, len(d.events))
	for _, ev := range d.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

// tickingClock advances one second per call.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type serviceFixture struct {
	db         *gorm.DB
	svc        *CommentService
	dispatcher *recordingDispatcher
	outbox     repository.OutboxRepository
	author     *models.User
	admin      *models.User
	post       *models.Post
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	dispatcher := &recordingDispatcher{}
	svc := NewCommentService(
		repository.NewCommentRepository(db),
		repository.NewPostRepository(db, nil),
		repository.NewTransactor(db),
		dispatcher,
	)
	svc.now = tickingClock(base)

	author := testutil.CreateUser(t, db, "ann", false)
	return &serviceFixture{
		db:         db,
		svc:        svc,
		dispatcher: dispatcher,
		outbox:     repository.NewOutboxRepository(db),
		author:     author,
		admin:      testutil.CreateUser(t, db, "root", true),
		post:       testutil.CreatePost(t, db, author, "Release notes"),
	}
}

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

func intPtr(v int) *int { return &v }
