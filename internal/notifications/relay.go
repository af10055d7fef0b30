package notifications

import (
	"context"
	"time"

	"postscript/internal/events"
	"postscript/internal/observability"
	"postscript/internal/repository"
)

// RelayConfig tunes the outbox sweep.
type RelayConfig struct {
	Interval time.Duration
	Batch    int
	// Grace keeps the relay off rows the write path is still dispatching.
	Grace time.Duration
	// Retention is how long dispatched rows are kept.
	Retention time.Duration
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.Batch <= 0 {
		c.Batch = 100
	}
	if c.Grace <= 0 {
		c.Grace = 2 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	return c
}

// OutboxRelay redelivers change events whose inline dispatch failed.
type OutboxRelay struct {
	outbox   repository.OutboxRepository
	notifier *ChangeNotifier
	cfg      RelayConfig
	now      func() time.Time
}

// NewOutboxRelay creates an OutboxRelay.
func NewOutboxRelay(outbox repository.OutboxRepository, notifier *ChangeNotifier, cfg RelayConfig) *OutboxRelay {
	return &OutboxRelay{outbox: outbox, notifier: notifier, cfg: cfg.withDefaults(), now: utcNow}
}

// Run sweeps on every interval until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			observability.Logger.WarnContext(ctx, "outbox sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep dispatches one batch of pending events and returns how many were
// delivered. Dispatch stops at the first failure so order is kept.
func (r *OutboxRelay) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	rows, err := r.outbox.ListPending(ctx, now.Add(-r.cfg.Grace), r.cfg.Batch)
	if err != nil {
		return 0, err
	}

	delivered := 0
	var dispatchErr error
	for _, row := range rows {
		if err := r.notifier.dispatch(ctx, events.FromOutbox(row), SourceRelay); err != nil {
			dispatchErr = err
			break
		}
		delivered++
	}

	if pending, err := r.outbox.CountPending(ctx); err == nil {
		observability.OutboxBacklog.Set(float64(pending))
	}
	if purged, err := r.outbox.PurgeDispatched(ctx, now.Add(-r.cfg.Retention)); err != nil {
		observability.Logger.WarnContext(ctx, "failed to purge dispatched outbox rows", "error", err)
	} else if purged > 0 {
		observability.Logger.DebugContext(ctx, "purged dispatched outbox rows", "count", purged)
	}

	if delivered > 0 {
		observability.Logger.InfoContext(ctx, "outbox relay redelivered events", "count", delivered)
	}
	return delivered, dispatchErr
}
