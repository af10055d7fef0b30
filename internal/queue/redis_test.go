package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreamQueue(t *testing.T, rdb *redis.Client, consumer string) *RedisStreamQueue {
	t.Helper()
	q, err := NewRedisStreamQueue(context.Background(), rdb, RedisStreamConfig{
		Stream:   "comments:index",
		Group:    "indexer",
		Consumer: consumer,
		Block:    50 * time.Millisecond,
		MinIdle:  time.Minute,
	})
	require.NoError(t, err)
	return q
}

func TestRedisStreamQueue_EnqueueReceiveAck(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()
	ctx := context.Background()

	q := newStreamQueue(t, rdb, "a")
	// creating the group twice is fine
	newStreamQueue(t, rdb, "b")

	require.NoError(t, q.Enqueue(ctx, []byte(`{"kind":"created"}`)))

	got, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, `{"kind":"created"}`, string(got[0].Body))
	assert.False(t, got[0].Redelivered)

	require.NoError(t, q.Ack(ctx, got[0]))
	pending, err := rdb.XPending(ctx, "comments:index", "indexer").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)

	got, err = q.Receive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStreamQueue_DeadLetter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()
	ctx := context.Background()

	q := newStreamQueue(t, rdb, "a")
	require.NoError(t, q.Enqueue(ctx, []byte("garbage")))

	got, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, q.DeadLetter(ctx, got[0], "malformed event"))

	dead, err := rdb.XRange(ctx, q.DeadLetterStream(), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "garbage", dead[0].Values["event"])
	assert.Equal(t, "malformed event", dead[0].Values["reason"])
	assert.Equal(t, got[0].ID, dead[0].Values["source_id"])

	pending, err := rdb.XPending(ctx, "comments:index", "indexer").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func TestRedisStreamQueue_ReclaimsStaleEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()
	ctx := context.Background()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mr.SetTime(start)

	crashed := newStreamQueue(t, rdb, "crashed")
	require.NoError(t, crashed.Enqueue(ctx, []byte("orphan")))
	got, err := crashed.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	mr.SetTime(start.Add(2 * time.Minute))

	live := newStreamQueue(t, rdb, "live")
	claimed, err := live.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.True(t, claimed[0].Redelivered)
	assert.Equal(t, got[0].ID, claimed[0].ID)
	assert.Equal(t, "orphan", string(claimed[0].Body))
}
