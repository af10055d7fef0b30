package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"postscript/internal/events"
	"postscript/internal/queue"
	"postscript/internal/repository"
	"postscript/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventAt(kind events.Kind, commentID uint, at time.Time) events.ChangeEvent {
	ev := testEvent(kind, commentID, 1)
	ev.ID = ev.ID + "-" + at.Format(time.RFC3339Nano)
	ev.OccurredAt = at
	return ev
}

func TestOutboxRelay_SweepRedeliversPendingRows(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	outbox := repository.NewOutboxRepository(db)
	q := queue.NewMemoryQueue(10 * time.Millisecond)
	relay := NewOutboxRelay(outbox, NewChangeNotifier(q, nil, outbox), RelayConfig{Grace: time.Second})
	ctx := context.Background()

	now := time.Now().UTC()
	old := eventAt(events.KindCreated, 1, now.Add(-time.Minute))
	fresh := eventAt(events.KindCreated, 2, now)
	stageEvent(t, outbox, old)
	stageEvent(t, outbox, fresh)

	delivered, err := relay.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, q.Outstanding())

	pending, err := outbox.ListPending(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.ID, pending[0].ID)

	// Nothing old is left, so a second sweep is a no-op.
	delivered, err = relay.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

// unmarkedOutbox loses every MarkDispatched write.
type unmarkedOutbox struct {
	repository.OutboxRepository
}

func (o unmarkedOutbox) MarkDispatched(context.Context, string, time.Time) error {
	return errors.New("connection reset")
}

func TestOutboxRelay_RedeliveryDoesNotRepublishRealtime(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	outbox := repository.NewOutboxRepository(db)
	q := queue.NewMemoryQueue(10 * time.Millisecond)
	pub := &recordingPublisher{}
	ctx := context.Background()

	ev := eventAt(events.KindUpdated, 1, time.Now().UTC().Add(-time.Minute))
	stageEvent(t, outbox, ev)
	require.NoError(t, NewChangeNotifier(q, pub, unmarkedOutbox{outbox}).Dispatch(ctx, ev))
	require.Len(t, pub.events, 1)

	relay := NewOutboxRelay(outbox, NewChangeNotifier(q, pub, outbox), RelayConfig{Grace: time.Second})
	delivered, err := relay.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 2, q.Outstanding(), "the index queue gets the event again")
	assert.Len(t, pub.events, 1, "subscribers see the frame once")

	count, err := outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOutboxRelay_SweepStopsAtFirstFailure(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	outbox := repository.NewOutboxRepository(db)
	relay := NewOutboxRelay(outbox,
		NewChangeNotifier(&failingQueue{err: errors.New("queue down")}, nil, outbox),
		RelayConfig{Grace: time.Second})
	ctx := context.Background()

	now := time.Now().UTC()
	stageEvent(t, outbox, eventAt(events.KindCreated, 1, now.Add(-2*time.Minute)))
	stageEvent(t, outbox, eventAt(events.KindUpdated, 1, now.Add(-time.Minute)))

	delivered, err := relay.Sweep(ctx)
	require.Error(t, err)
	assert.Zero(t, delivered)

	rows, err := outbox.ListPending(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Attempts)
	assert.Equal(t, 0, rows[1].Attempts)
}

func TestOutboxRelay_SweepPurgesOldDispatchedRows(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	outbox := repository.NewOutboxRepository(db)
	q := queue.NewMemoryQueue(10 * time.Millisecond)
	relay := NewOutboxRelay(outbox, NewChangeNotifier(q, nil, outbox), RelayConfig{Retention: time.Hour})
	ctx := context.Background()

	now := time.Now().UTC()
	ev := eventAt(events.KindCreated, 1, now.Add(-3*time.Hour))
	stageEvent(t, outbox, ev)
	require.NoError(t, outbox.MarkDispatched(ctx, ev.ID, now.Add(-2*time.Hour)))

	_, err := relay.Sweep(ctx)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Table("comment_outbox").Count(&count).Error)
	assert.Zero(t, count)
}

func TestOutboxRelay_RunStopsOnCancel(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	outbox := repository.NewOutboxRepository(db)
	q := queue.NewMemoryQueue(10 * time.Millisecond)
	relay := NewOutboxRelay(outbox, NewChangeNotifier(q, nil, outbox),
		RelayConfig{Interval: 10 * time.Millisecond, Grace: time.Millisecond})

	stageEvent(t, outbox, eventAt(events.KindCreated, 1, time.Now().UTC().Add(-time.Second)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return q.Outstanding() == 1 }, testEventuallyTimeout, testPollInterval)
	cancel()
	select {
	case <-done:
	case <-time.After(testEventuallyTimeout):
		t.Fatal("relay did not stop")
	}
}
