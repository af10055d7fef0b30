package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"postscript/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextMiddleware_PropagatesRequestAndUser(t *testing.T) {
	app := fiber.New()
	app.Use(requestid.New())
	app.Use(TracingMiddleware())
	app.Use(AuthRequired(testSecret))
	app.Use(ContextMiddleware())
	app.Use(StructuredLogger())

	var gotRequestID, gotTraceID string
	var gotUserID uint
	app.Get("/", func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		gotRequestID, _ = ctx.Value(observability.RequestIDKey).(string)
		gotTraceID, _ = ctx.Value(observability.TraceIDKey).(string)
		gotUserID, _ = ctx.Value(observability.UserIDKey).(uint)
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+userToken(t, 42))
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NotEmpty(t, gotRequestID)
	assert.Equal(t, resp.Header.Get("X-Trace-ID"), gotTraceID)
	assert.Equal(t, uint(42), gotUserID)
}
