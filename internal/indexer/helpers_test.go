package indexer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"postscript/internal/events"
	"postscript/internal/models"
	"postscript/internal/queue"
	"postscript/internal/search"
	"postscript/internal/worker"

	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// indexStub is a search.Index whose behavior is set per test.
type indexStub struct {
	mu        sync.Mutex
	upserts   atomic.Int32
	deletes   atomic.Int32
	replaces  atomic.Int32
	upsertFn  func(doc search.Document) (bool, error)
	deleteFn  func(id uint, version int64) (bool, error)
	refreshFn func(ctx context.Context) error
	docs      map[uint]search.Document
}

func newIndexStub() *indexStub {
	return &indexStub{docs: make(map[uint]search.Document)}
}

func (s *indexStub) Upsert(_ context.Context, doc search.Document) (bool, error) {
	s.upserts.Add(1)
	if s.upsertFn != nil {
		if written, err := s.upsertFn(doc); err != nil || !written {
			return written, err
		}
	}
	s.mu.Lock()
	s.docs[doc.ID] = doc
	s.mu.Unlock()
	return true, nil
}

func (s *indexStub) Replace(ctx context.Context, _ uint, load search.Loader) (bool, error) {
	s.replaces.Add(1)
	doc, err := load(ctx)
	if errors.Is(err, search.ErrDocumentGone) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	s.docs[doc.ID] = doc
	s.mu.Unlock()
	return true, nil
}

func (s *indexStub) Delete(_ context.Context, id uint, version int64) (bool, error) {
	s.deletes.Add(1)
	if s.deleteFn != nil {
		return s.deleteFn(id, version)
	}
	s.mu.Lock()
	delete(s.docs, id)
	s.mu.Unlock()
	return true, nil
}

func (s *indexStub) Query(context.Context, search.Query) ([]uint, error) { return nil, nil }

func (s *indexStub) Refresh(ctx context.Context) error {
	if s.refreshFn != nil {
		return s.refreshFn(ctx)
	}
	return nil
}

func (s *indexStub) Count(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.docs)), nil
}

func (s *indexStub) Close() error { return nil }

// sourceStub serves comments from a map.
type sourceStub struct {
	comments map[uint]*models.Comment
	err      error
}

func (s *sourceStub) GetForIndex(_ context.Context, id uint) (*models.Comment, error) {
	if s.err != nil {
		return nil, s.err
	}
	c, ok := s.comments[id]
	if !ok {
		return nil, models.NewNotFoundError("Comment", id)
	}
	return c, nil
}

func (s *sourceStub) ListAfter(_ context.Context, afterID uint, limit int) ([]*models.Comment, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*models.Comment
	for id := afterID + 1; len(out) < limit && id <= afterID+1000; id++ {
		if c, ok := s.comments[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func newPool(t *testing.T) *worker.Pool {
	t.Helper()
	pool, err := worker.NewPool("index-test", 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Release(time.Second) })
	return pool
}

func fastConfig() Config {
	return Config{
		Batch:          8,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		ReceiveBackoff: 5 * time.Millisecond,
	}
}

// deliver enqueues ev and receives it back so acks are tracked by q.
func deliver(t *testing.T, q *queue.MemoryQueue, body []byte) queue.Delivery {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, body))
	got, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	return got[0]
}

func encode(t *testing.T, kind events.Kind, c *models.Comment, version int64) []byte {
	t.Helper()
	body, err := events.New(kind, c, version, time.Unix(0, version).UTC()).Encode()
	require.NoError(t, err)
	return body
}
