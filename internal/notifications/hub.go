package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"postscript/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	maxConnsPerPost = 500
	maxTotalConns   = 10000
)

// CommentHub maps postID -> connected feed clients.
type CommentHub struct {
	mu         sync.RWMutex
	conns      map[uint]map[*Client]struct{}
	totalConns int
}

// NewCommentHub creates an empty hub.
func NewCommentHub() *CommentHub {
	return &CommentHub{conns: make(map[uint]map[*Client]struct{})}
}

// Register adds a connection to a post's feed. Returns an error if limits are exceeded.
func (h *CommentHub) Register(postID, userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.totalConns >= maxTotalConns {
		return nil, errors.New("server connection limit reached")
	}
	m, ok := h.conns[postID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[postID] = m
	}
	if len(m) >= maxConnsPerPost {
		return nil, errors.New("post connection limit reached")
	}

	client := NewClient(h, conn, postID, userID)
	m[client] = struct{}{}
	h.totalConns++
	observability.ActiveWebSockets.Inc()
	return client, nil
}

// UnregisterClient removes client and closes its send channel.
func (h *CommentHub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.conns[client.PostID]
	if !ok {
		return
	}
	if _, exists := m[client]; !exists {
		return
	}
	delete(m, client)
	close(client.Send)
	h.totalConns--
	observability.ActiveWebSockets.Dec()
	if len(m) == 0 {
		delete(h.conns, client.PostID)
	}
}

// Subscribers is the number of clients watching postID.
func (h *CommentHub) Subscribers(postID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[postID])
}

// Broadcast sends message to every client watching postID.
func (h *CommentHub) Broadcast(postID uint, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[postID] {
		c.TrySend(message)
	}
}

// StartWiring forwards messages from the post channels to matching clients.
func (h *CommentHub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartPostSubscriber(ctx, func(channel, payload string) {
		var postID uint
		if _, err := fmt.Sscanf(channel, "comments:post:%d", &postID); err != nil {
			observability.Logger.Warn("invalid comment channel", "channel", channel)
			return
		}
		h.Broadcast(postID, []byte(payload))
	})
}

// Shutdown closes all websocket connections.
func (h *CommentHub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for postID, clients := range h.conns {
		for client := range clients {
			if client.Conn == nil {
				continue
			}
			if err := client.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")); err != nil {
				observability.Logger.Warn("failed to write close message", "post_id", postID, "error", err)
			}
			if err := client.Conn.Close(); err != nil {
				observability.Logger.Warn("failed to close websocket", "post_id", postID, "error", err)
			}
		}
	}
	h.conns = make(map[uint]map[*Client]struct{})
	observability.ActiveWebSockets.Set(0)
	h.totalConns = 0
	return nil
}
