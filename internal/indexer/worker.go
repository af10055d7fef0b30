// Package indexer keeps the search index in step with the primary store.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"postscript/internal/events"
	"postscript/internal/models"
	"postscript/internal/observability"
	"postscript/internal/queue"
	"postscript/internal/search"
	"postscript/internal/worker"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
)

// Event outcomes recorded in metrics.
const (
	outcomeCommitted  = "committed"
	outcomeSuperseded = "superseded"
	outcomeDeadLetter = "dead_letter"
	outcomeAbandoned  = "abandoned"
)

// CommentSource is the read side of the primary store the index is built from.
type CommentSource interface {
	GetForIndex(ctx context.Context, id uint) (*models.Comment, error)
	ListAfter(ctx context.Context, afterID uint, limit int) ([]*models.Comment, error)
}

// Config tunes the worker loop and its retry policy.
type Config struct {
	Batch          int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// ReceiveBackoff is the pause after a failed queue read.
	ReceiveBackoff time.Duration
}

func (c *Config) withDefaults() {
	if c.Batch <= 0 {
		c.Batch = 32
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.ReceiveBackoff <= 0 {
		c.ReceiveBackoff = time.Second
	}
}

// Worker consumes change events and reconciles each one with the index.
// Delivery is at-least-once and events for one comment may arrive in any
// order; the index's version records make the outcome converge.
type Worker struct {
	queue    queue.Queue
	source   CommentSource
	index    search.Index
	pool     *worker.Pool
	cfg      Config
	versions *versionTracker
}

// NewWorker creates a Worker that runs event handling on pool.
func NewWorker(q queue.Queue, source CommentSource, index search.Index, pool *worker.Pool, cfg Config) *Worker {
	cfg.withDefaults()
	return &Worker{
		queue:    q,
		source:   source,
		index:    index,
		pool:     pool,
		cfg:      cfg,
		versions: newVersionTracker(100_000),
	}
}

// Run receives and dispatches events until ctx is cancelled. Deliveries that
// were not acknowledged by then are redelivered by the queue.
func (w *Worker) Run(ctx context.Context) error {
	observability.Logger.InfoContext(ctx, "index sync worker started",
		"batch", w.cfg.Batch, "max_attempts", w.cfg.MaxAttempts)

	for {
		if ctx.Err() != nil {
			observability.Logger.Info("index sync worker stopped")
			return nil
		}

		deliveries, err := w.queue.Receive(ctx, w.cfg.Batch)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			observability.Logger.WarnContext(ctx, "failed to receive change events", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(w.cfg.ReceiveBackoff):
			}
			continue
		}

		// Record every version in the batch first so older events in the
		// same batch are recognized as superseded.
		for _, d := range deliveries {
			if ev, err := events.Decode(d.Body); err == nil {
				w.versions.observe(ev.CommentID, ev.Version)
			}
		}

		for _, d := range deliveries {
			if err := w.pool.Submit(ctx, func(taskCtx context.Context) {
				w.Handle(taskCtx, d)
			}); err != nil && ctx.Err() == nil {
				observability.Logger.ErrorContext(ctx, "failed to submit change event", "delivery", d.ID, "error", err)
			}
		}
	}
}

// Handle processes one delivery to completion: it is acknowledged on
// success, when superseded, and after being dead-lettered.
func (w *Worker) Handle(ctx context.Context, d queue.Delivery) {
	ev, err := events.Decode(d.Body)
	if err != nil {
		observability.Logger.ErrorContext(ctx, "dropping malformed change event", "delivery", d.ID, "error", err)
		w.deadLetter(ctx, d, "malformed_event", err)
		observability.IndexEventsTotal.WithLabelValues("unknown", outcomeDeadLetter).Inc()
		return
	}

	if w.versions.observe(ev.CommentID, ev.Version) {
		observability.Logger.DebugContext(ctx, "dropping superseded change event",
			"comment_id", ev.CommentID, "version", ev.Version)
		w.ack(ctx, d)
		observability.IndexEventsTotal.WithLabelValues(string(ev.Kind), outcomeSuperseded).Inc()
		return
	}

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "indexer", "handle",
		attribute.String("event.kind", string(ev.Kind)),
		attribute.Int64("comment.id", int64(ev.CommentID)),
		attribute.Int64("comment.version", ev.Version),
		attribute.Bool("event.redelivered", d.Redelivered),
	)

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if err := w.apply(ctx, ev); err != nil {
			if isTerminal(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(w.newBackOff()),
		backoff.WithMaxTries(uint(w.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			observability.IndexRetriesTotal.Inc()
			observability.Logger.WarnContext(ctx, "retrying index sync",
				"comment_id", ev.CommentID, "kind", ev.Kind, "retry_in", next, "error", err)
		}),
	)
	observability.EndSpan(span, err)
	observability.IndexEventDuration.WithLabelValues(string(ev.Kind)).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		w.ack(ctx, d)
		observability.IndexEventsTotal.WithLabelValues(string(ev.Kind), outcomeCommitted).Inc()
	case ctx.Err() != nil:
		observability.Logger.WarnContext(ctx, "index sync interrupted, leaving event for redelivery",
			"comment_id", ev.CommentID, "kind", ev.Kind)
		observability.IndexEventsTotal.WithLabelValues(string(ev.Kind), outcomeAbandoned).Inc()
	default:
		reason := "retries_exhausted"
		if isTerminal(err) {
			reason = "terminal"
		}
		observability.Logger.ErrorContext(ctx, "index sync failed",
			"comment_id", ev.CommentID, "kind", ev.Kind, "version", ev.Version, "reason", reason, "error", err)
		w.deadLetter(ctx, d, reason, err)
		observability.IndexEventsTotal.WithLabelValues(string(ev.Kind), outcomeDeadLetter).Inc()
	}
}

// apply reconciles the index with the store's current state of the comment.
func (w *Worker) apply(ctx context.Context, ev events.ChangeEvent) error {
	comment, err := w.source.GetForIndex(ctx, ev.CommentID)
	switch {
	case models.IsNotFound(err):
		comment = nil
	case err != nil:
		return models.NewTransientError("failed to load comment for indexing", err)
	}

	switch ev.Kind {
	case events.KindCreated, events.KindUpdated, events.KindRestored:
		if comment == nil {
			return w.remove(ctx, ev.CommentID, ev.Version)
		}
		return w.upsert(ctx, comment)
	case events.KindDeleted:
		// restored after this delete
		if comment != nil && comment.Version() > ev.Version {
			return w.upsert(ctx, comment)
		}
		return w.remove(ctx, ev.CommentID, ev.Version)
	default:
		return models.NewTerminalError("unknown event kind", fmt.Errorf("%q", ev.Kind))
	}
}

func (w *Worker) upsert(ctx context.Context, comment *models.Comment) error {
	if _, err := w.index.Upsert(ctx, search.FromComment(comment)); err != nil {
		return classify(err)
	}
	return nil
}

func (w *Worker) remove(ctx context.Context, id uint, version int64) error {
	if _, err := w.index.Delete(ctx, id, version); err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	if errors.Is(err, search.ErrMalformedDocument) {
		return models.NewTerminalError("index rejected document", err)
	}
	return models.NewTransientError("search index unavailable", err)
}

func isTerminal(err error) bool {
	return models.IsTerminal(err) || errors.Is(err, search.ErrMalformedDocument)
}

func (w *Worker) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialBackoff
	b.MaxInterval = w.cfg.MaxBackoff
	return b
}

func (w *Worker) ack(ctx context.Context, d queue.Delivery) {
	if err := w.queue.Ack(ctx, d); err != nil {
		observability.Logger.ErrorContext(ctx, "failed to ack change event", "delivery", d.ID, "error", err)
	}
}

func (w *Worker) deadLetter(ctx context.Context, d queue.Delivery, reason string, cause error) {
	observability.DeadLettersTotal.WithLabelValues(reason).Inc()
	if err := w.queue.DeadLetter(ctx, d, reason+": "+cause.Error()); err != nil {
		observability.Logger.ErrorContext(ctx, "failed to dead-letter change event", "delivery", d.ID, "error", err)
	}
}

// versionTracker remembers the newest version received per comment.
type versionTracker struct {
	mu     sync.Mutex
	latest map[uint]int64
	max    int
}

func newVersionTracker(max int) *versionTracker {
	return &versionTracker{latest: make(map[uint]int64), max: max}
}

// observe records version and reports whether a newer one was already seen.
func (t *versionTracker) observe(id uint, version int64) (superseded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if seen, ok := t.latest[id]; ok {
		if version < seen {
			return true
		}
		if version == seen {
			return false
		}
	}
	if len(t.latest) >= t.max {
		// forgetting only costs redundant index work
		t.latest = make(map[uint]int64)
	}
	t.latest[id] = version
	return false
}
