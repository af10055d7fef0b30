package server

import (
	"postscript/internal/middleware"
	"postscript/internal/models"
	"postscript/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const (
	feedPostLocal = "feedPostID"
	feedUserLocal = "feedUserID"
)

// commentFeedUpgrade validates a feed request before the websocket upgrade so
// failures can still be answered with a status code.
func (s *Server) commentFeedUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if s.hub == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewTransientError("Realtime comments are unavailable", nil))
	}

	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if _, err := s.postRepo.GetByID(c.UserContext(), postID); err != nil {
		return respond(c, err)
	}

	c.Locals(feedPostLocal, postID)
	if userID, ok := middleware.UserID(c); ok {
		c.Locals(feedUserLocal, userID)
	}
	return c.Next()
}

// CommentFeedHandler streams change events for one post to a websocket
// client. Anonymous clients are allowed; the feed only carries public data.
// @Summary Realtime comment feed
// @Tags comments
// @Param id path int true "Post ID"
// @Param token query string false "JWT for authenticated subscribers"
// @Success 101 {string} string "Switching Protocols"
// @Failure 404 {object} models.ErrorResponse
// @Failure 426 {object} models.ErrorResponse
// @Router /ws/posts/{id}/comments [get]
func (s *Server) CommentFeedHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		postID, _ := conn.Locals(feedPostLocal).(uint)
		userID, _ := conn.Locals(feedUserLocal).(uint)

		client, err := s.hub.Register(postID, userID, conn)
		if err != nil {
			observability.Logger.Warn("comment feed registration rejected",
				"post_id", postID, "user_id", userID, "error", err)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		observability.Logger.Debug("comment feed connected", "post_id", postID, "user_id", userID)
		go client.WritePump()
		client.ReadPump()
	})
}
