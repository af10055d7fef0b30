package notifications

import (
	"context"
	"fmt"
	"time"

	"postscript/internal/events"
	"postscript/internal/observability"
	"postscript/internal/queue"
	"postscript/internal/repository"
)

// Dispatch sources, used as the metric label.
const (
	SourceInline = "inline"
	SourceRelay  = "relay"
)

// RealtimePublisher fans a change event out to live subscribers.
type RealtimePublisher interface {
	PublishCommentEvent(ctx context.Context, ev events.ChangeEvent) error
}

// ChangeNotifier hands committed change events to the index queue and to
// realtime subscribers, then marks their outbox rows dispatched.
type ChangeNotifier struct {
	queue    queue.Queue
	realtime RealtimePublisher
	outbox   repository.OutboxRepository
	now      func() time.Time
}

// NewChangeNotifier creates a ChangeNotifier. realtime may be nil.
func NewChangeNotifier(q queue.Queue, realtime RealtimePublisher, outbox repository.OutboxRepository) *ChangeNotifier {
	return &ChangeNotifier{queue: q, realtime: realtime, outbox: outbox, now: utcNow}
}

// Dispatch delivers an event whose transaction has just committed. A failure
// leaves the outbox row pending for the relay.
func (n *ChangeNotifier) Dispatch(ctx context.Context, ev events.ChangeEvent) error {
	return n.dispatch(ctx, ev, SourceInline)
}

func (n *ChangeNotifier) dispatch(ctx context.Context, ev events.ChangeEvent, source string) error {
	body, err := ev.Encode()
	if err != nil {
		observability.OutboxDispatchTotal.WithLabelValues(source, "failed").Inc()
		return fmt.Errorf("failed to encode change event %s: %w", ev.ID, err)
	}

	if err := n.queue.Enqueue(ctx, body); err != nil {
		observability.OutboxDispatchTotal.WithLabelValues(source, "failed").Inc()
		if markErr := n.outbox.MarkFailed(ctx, ev.ID, err.Error()); markErr != nil {
			observability.Logger.ErrorContext(ctx, "failed to record outbox failure", "event_id", ev.ID, "error", markErr)
		}
		return fmt.Errorf("failed to enqueue change event %s: %w", ev.ID, err)
	}

	// Realtime frames are at most once. A relayed row may already have been
	// published inline before its outbox mark failed, so the relay only feeds
	// the index queue.
	if n.realtime != nil && source != SourceRelay {
		if err := n.realtime.PublishCommentEvent(ctx, ev); err != nil {
			observability.Logger.WarnContext(ctx, "failed to publish realtime comment event",
				"event_id", ev.ID, "post_id", ev.PostID, "error", err)
		}
	}

	// A row left pending here is re-enqueued by the relay; consumers are idempotent.
	if err := n.outbox.MarkDispatched(ctx, ev.ID, n.now()); err != nil {
		observability.Logger.WarnContext(ctx, "failed to mark outbox event dispatched", "event_id", ev.ID, "error", err)
	}

	observability.OutboxDispatchTotal.WithLabelValues(source, "ok").Inc()
	return nil
}

func utcNow() time.Time { return time.Now().UTC() }
