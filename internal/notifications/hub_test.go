package notifications

import (
	"context"
	"testing"

	"postscript/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommentHub_BroadcastOnlyReachesPostSubscribers(t *testing.T) {
	hub := NewCommentHub()

	watching, err := hub.Register(1, 10, nil)
	require.NoError(t, err)
	other, err := hub.Register(2, 11, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers(1))

	hub.Broadcast(1, []byte("hello"))

	assert.Equal(t, "hello", string(<-watching.Send))
	assert.Empty(t, other.Send)

	_ = hub.Shutdown(context.Background())
}

func TestCommentHub_UnregisterClosesSendOnce(t *testing.T) {
	hub := NewCommentHub()
	client, err := hub.Register(3, 0, nil)
	require.NoError(t, err)

	hub.UnregisterClient(client)
	hub.UnregisterClient(client)

	_, open := <-client.Send
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers(3))
}

func TestCommentHub_PostLimit(t *testing.T) {
	hub := NewCommentHub()
	for i := 0; i < maxConnsPerPost; i++ {
		_, err := hub.Register(4, 0, nil)
		require.NoError(t, err)
	}

	_, err := hub.Register(4, 0, nil)
	assert.Error(t, err)

	_, err = hub.Register(5, 0, nil)
	assert.NoError(t, err)

	_ = hub.Shutdown(context.Background())
}

func TestClient_TrySendDropsWhenFull(t *testing.T) {
	hub := NewCommentHub()
	client, err := hub.Register(6, 0, nil)
	require.NoError(t, err)

	for i := 0; i < cap(client.Send); i++ {
		require.True(t, client.TrySend([]byte("x")))
	}
	assert.False(t, client.TrySend([]byte("overflow")))

	hub.UnregisterClient(client)
	assert.False(t, client.TrySend([]byte("closed")))
}

func TestCommentHub_StartWiringForwardsPublishedEvents(t *testing.T) {
	rdb := newTestRedis(t)
	n := NewNotifier(rdb)
	hub := NewCommentHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := hub.Register(12, 0, nil)
	require.NoError(t, err)
	require.NoError(t, hub.StartWiring(ctx, n))

	require.NoError(t, n.PublishCommentEvent(ctx, testEvent(events.KindRestored, 5, 12)))

	assert.Eventually(t, func() bool {
		return len(client.Send) == 1
	}, testEventuallyTimeout, testPollInterval)
	assert.Contains(t, string(<-client.Send), `"comment.restored"`)

	_ = hub.Shutdown(context.Background())
}
