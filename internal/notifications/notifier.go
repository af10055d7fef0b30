// Package notifications delivers comment change events to the index queue
// and to realtime subscribers.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"postscript/internal/events"
	"postscript/internal/observability"

	"github.com/redis/go-redis/v9"
)

const postChannelPattern = "comments:post:*"

// PostChannel is the pub/sub channel for a post's comment events.
func PostChannel(postID uint) string {
	return fmt.Sprintf("comments:post:%d", postID)
}

// RealtimeMessage is the envelope written to pub/sub and websocket clients.
type RealtimeMessage struct {
	Type    string             `json:"type"`
	Payload events.ChangeEvent `json:"payload"`
}

// Notifier provides helpers to publish notifications into Redis channels
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
// A nil client turns every publish into a no-op.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishCommentEvent sends ev to its post's channel.
func (n *Notifier) PublishCommentEvent(ctx context.Context, ev events.ChangeEvent) error {
	if n.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(RealtimeMessage{Type: "comment." + string(ev.Kind), Payload: ev})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return n.rdb.Publish(ctx, PostChannel(ev.PostID), string(payload)).Err()
}

// StartPostSubscriber subscribes to every post's comment channel and calls
// onMessage for each incoming message until ctx is cancelled.
func (n *Notifier) StartPostSubscriber(
	ctx context.Context, onMessage func(channel string, payload string),
) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, postChannelPattern)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", postChannelPattern, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							observability.Logger.Error("PANIC in PostSubscriber",
								"panic", r, "stack", string(debug.Stack()))
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}
