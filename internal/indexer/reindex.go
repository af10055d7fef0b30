package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"postscript/internal/models"
	"postscript/internal/observability"
	"postscript/internal/search"
)

// ErrReindexRunning is returned when a bulk reindex is already in progress.
var ErrReindexRunning = errors.New("a reindex is already running")

// Report summarizes one bulk reindex run.
type Report struct {
	Indexed          int           `json:"indexed" yaml:"indexed"`
	Skipped          int           `json:"skipped" yaml:"skipped"`
	Failed           int           `json:"failed" yaml:"failed"`
	Batches          int           `json:"batches" yaml:"batches"`
	LastID           uint          `json:"last_id" yaml:"last_id"`
	Duration         time.Duration `json:"duration" yaml:"duration"`
	RefreshError     string        `json:"refresh_error,omitempty" yaml:"refresh_error,omitempty"`
	RefreshRetryable bool          `json:"refresh_retryable,omitempty" yaml:"refresh_retryable,omitempty"`
}

// Reindexer rebuilds the index from every live comment in the store.
type Reindexer struct {
	source         CommentSource
	index          search.Index
	batchSize      int
	refreshTimeout time.Duration
	running        atomic.Bool
}

// NewReindexer creates a Reindexer reading batchSize comments per page.
func NewReindexer(source CommentSource, index search.Index, batchSize int, refreshTimeout time.Duration) *Reindexer {
	if batchSize <= 0 {
		batchSize = 100
	}
	if refreshTimeout <= 0 {
		refreshTimeout = 30 * time.Second
	}
	return &Reindexer{
		source:         source,
		index:          index,
		batchSize:      batchSize,
		refreshTimeout: refreshTimeout,
	}
}

// Running reports whether a run is in progress.
func (r *Reindexer) Running() bool { return r.running.Load() }

// Run upserts every live comment page by page, replacing index entries that
// disagree with the store. Individual upsert failures are counted and
// skipped; only a store failure aborts the run. Running it twice leaves the
// index unchanged.
func (r *Reindexer) Run(ctx context.Context) (*Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrReindexRunning
	}
	defer r.running.Store(false)

	ctx, span := observability.StartSpan(ctx, "indexer", "reindex")
	var runErr error
	defer func() { observability.EndSpan(span, runErr) }()

	start := time.Now()
	report := &Report{}
	observability.Logger.InfoContext(ctx, "bulk reindex started", "batch_size", r.batchSize)

	for {
		page, err := r.source.ListAfter(ctx, report.LastID, r.batchSize)
		if err != nil {
			runErr = fmt.Errorf("failed to read comments after %d: %w", report.LastID, err)
			report.Duration = time.Since(start)
			return report, runErr
		}
		if len(page) == 0 {
			break
		}
		report.Batches++

		for _, c := range page {
			written, err := r.index.Upsert(ctx, search.FromComment(c))
			if err == nil && !written {
				// The index is ahead of the page: either a newer write landed
				// since the page was read, or the entry is stale.
				written, err = r.index.Replace(ctx, c.ID, r.reload(c.ID))
			}
			switch {
			case err != nil:
				report.Failed++
				observability.ReindexDocumentsTotal.WithLabelValues("failed").Inc()
				observability.Logger.WarnContext(ctx, "failed to reindex comment", "comment_id", c.ID, "error", err)
			case written:
				report.Indexed++
				observability.ReindexDocumentsTotal.WithLabelValues("indexed").Inc()
			default:
				report.Skipped++
				observability.ReindexDocumentsTotal.WithLabelValues("skipped").Inc()
			}
			report.LastID = c.ID
		}

		if len(page) < r.batchSize {
			break
		}
	}

	refreshCtx, cancel := context.WithTimeout(ctx, r.refreshTimeout)
	defer cancel()
	if err := r.index.Refresh(refreshCtx); err != nil {
		report.RefreshError = models.NewTransientError("index refresh did not complete", err).Error()
		report.RefreshRetryable = errors.Is(err, context.DeadlineExceeded)
		observability.Logger.WarnContext(ctx, "index refresh failed after reindex",
			"retryable", report.RefreshRetryable, "error", err)
	}

	report.Duration = time.Since(start)
	observability.Logger.InfoContext(ctx, "bulk reindex finished",
		"indexed", report.Indexed,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"batches", report.Batches,
		"duration", report.Duration,
	)
	return report, nil
}

// reload reads id's current row for Replace.
func (r *Reindexer) reload(id uint) search.Loader {
	return func(ctx context.Context) (search.Document, error) {
		c, err := r.source.GetForIndex(ctx, id)
		if models.IsNotFound(err) {
			return search.Document{}, search.ErrDocumentGone
		}
		if err != nil {
			return search.Document{}, err
		}
		return search.FromComment(c), nil
	}
}
