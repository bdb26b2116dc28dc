package server

import (
	"context"
	"encoding/json"
	"time"

	"quill/internal/identity"
	"quill/internal/notifications"
	"quill/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// UnreadCountFrame is sent to a websocket client right after it connects.
const UnreadCountFrame = "unread_count"

var wsLog = observability.NewWSLogger("notification hub")

// ListNotifications handles GET /api/notifications?unread=true
func (s *Server) ListNotifications(c *fiber.Ctx) error {
	limit, cursor := page(c)
	result, err := s.notifications.List(c.UserContext(), c.QueryBool("unread", false), limit, cursor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// UnreadCount handles GET /api/notifications/unread-count
func (s *Server) UnreadCount(c *fiber.Ctx) error {
	n, err := s.notifications.UnreadCount(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"count": n})
}

// MarkNotificationRead handles POST /api/notifications/:id/read
func (s *Server) MarkNotificationRead(c *fiber.Ctx) error {
	if err := s.notifications.MarkAsRead(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MarkAllNotificationsRead handles POST /api/notifications/read-all
func (s *Server) MarkAllNotificationsRead(c *fiber.Ctx) error {
	n, err := s.notifications.MarkAllAsRead(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"updated": n})
}

func (s *Server) upgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// NotificationSocket streams notification frames to the signed-in user.
// Browsers pass the session token as ?token= since they cannot set headers
// on the upgrade request.
func (s *Server) NotificationSocket() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		uid, _ := conn.Locals("userID").(string)
		username, _ := conn.Locals("username").(string)
		if uid == "" {
			_ = conn.Close()
			return
		}

		ctx := identity.WithPrincipal(context.Background(), identity.Principal{UID: uid, Username: username})
		client, err := s.hub.Register(uid, conn)
		if err != nil {
			wsLog.LogError(ctx, uid, err, "register")
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}
		wsLog.LogConnect(ctx, uid)
		defer func() {
			s.hub.UnregisterClient(client)
			wsLog.LogDisconnect(ctx, uid, "closed")
		}()

		if err := s.users.TouchActivity(ctx); err != nil {
			wsLog.LogError(ctx, uid, err, "activity")
		}
		if n, err := s.notifications.UnreadCount(ctx); err == nil {
			if frame, err := json.Marshal(notifications.Envelope{Type: UnreadCountFrame, Payload: n}); err == nil {
				client.TrySend(frame)
			}
		}

		go client.WritePump()
		client.ReadPump()
	})
}

// recordLastSeen persists the last activity of a user whose sockets are all
// gone.
func (s *Server) recordLastSeen(uid string, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.users.RecordLastSeen(ctx, uid, at); err != nil {
		wsLog.LogError(ctx, uid, err, "last_seen")
	}
}
