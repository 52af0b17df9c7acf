package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/telio-letalle/Pronote-sub002/internal/delivery"
	"github.com/telio-letalle/Pronote-sub002/internal/httpx"
	"github.com/telio-letalle/Pronote-sub002/internal/tokens"
)

// streamTokenTTL bounds the window between issuance and the websocket
// upgrade, not the session itself.
const streamTokenTTL = 2 * time.Minute

type StreamHandler struct {
	hub    *delivery.Hub
	secret []byte
}

func NewStreamHandler(hub *delivery.Hub, secret []byte) *StreamHandler {
	return &StreamHandler{hub: hub, secret: secret}
}

type streamTokenInput struct {
	ConversationID uint `json:"conversation_id"`
}

// IssueToken trades an authenticated session for a short-lived stream
// token bound to one scope. The websocket upgrade cannot carry the
// Authorization header from a browser, so the token rides the query
// string instead.
func (h *StreamHandler) IssueToken(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	var input streamTokenInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	token, err := tokens.Issue(h.secret, p, httpx.LocalDisplayName(c), input.ConversationID, streamTokenTTL)
	if err != nil {
		return httpx.Internal(c, "token_issue_failed")
	}

	return c.JSON(fiber.Map{
		"token":      token,
		"expires_in": int(streamTokenTTL.Seconds()),
	})
}

// ConversationStream upgrades to a websocket pushing one conversation's
// changes. The stream token must grant exactly this conversation.
func (h *StreamHandler) ConversationStream() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		conversationID, err := strconv.ParseUint(conn.Params("id"), 10, 32)
		if err != nil || conversationID == 0 {
			_ = conn.Close()
			return
		}
		claims, err := tokens.Verify(h.secret, conn.Query("token"), uint(conversationID))
		if err != nil {
			_ = conn.Close()
			return
		}

		var sinceID uint
		if sinceStr := conn.Query("since_id"); sinceStr != "" {
			if since, err := strconv.ParseUint(sinceStr, 10, 32); err == nil {
				sinceID = uint(since)
			}
		}

		h.hub.RunConversationSession(conn, claims.Principal(), uint(conversationID), sinceID)
	})
}

// NotificationStream upgrades to a websocket pushing the caller's
// notifications as they arrive.
func (h *StreamHandler) NotificationStream() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		claims, err := tokens.Verify(h.secret, conn.Query("token"), 0)
		if err != nil {
			_ = conn.Close()
			return
		}

		var sinceID uint
		if sinceStr := conn.Query("since_id"); sinceStr != "" {
			if since, err := strconv.ParseUint(sinceStr, 10, 32); err == nil {
				sinceID = uint(since)
			}
		}

		h.hub.RunNotificationSession(conn, claims.Principal(), sinceID)
	})
}
