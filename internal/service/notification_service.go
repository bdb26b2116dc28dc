package service

import (
	"context"
	"log/slog"
	"time"

	"quill/internal/identity"
	"quill/internal/models"
	"quill/internal/observability"
	"quill/internal/repository"

	"github.com/google/uuid"
)

// NotificationFrame is the websocket frame type carrying a new notification.
const NotificationFrame = "notification"

type NotificationService struct {
	deadline
	notifications repository.NotificationRepository
	users         repository.UserRepository
	realtime      Realtime
	presence      Presence
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	users repository.UserRepository,
	realtime Realtime,
) *NotificationService {
	return &NotificationService{
		notifications: notifications,
		users:         users,
		realtime:      realtime,
	}
}

// SetPresence skips realtime pushes to users without a live socket.
func (s *NotificationService) SetPresence(p Presence) {
	s.presence = p
}

// Create stores n and pushes it to the recipient's live connections. The
// push is best-effort and skipped when the recipient is offline.
func (s *NotificationService) Create(ctx context.Context, n *models.Notification) error {
	if n.UserID == "" {
		return models.NewValidationError("Notification recipient is required")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Metadata == nil {
		n.Metadata = models.JSONMap{}
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.notifications.Create(ctx, n); err != nil {
		return err
	}
	if s.realtime == nil {
		return nil
	}
	if s.presence != nil && !s.presence.IsOnline(ctx, n.UserID) {
		observability.RealtimePushesSkipped.Inc()
		return nil
	}
	if err := s.realtime.PushUser(ctx, n.UserID, NotificationFrame, n); err != nil {
		logSideEffect(ctx, "notification_push", err, slog.String("user_id", n.UserID))
	}
	return nil
}

// Notify is Create for callers that must not fail on notification errors.
func (s *NotificationService) Notify(ctx context.Context, n *models.Notification) {
	if err := s.Create(ctx, n); err != nil {
		logSideEffect(ctx, "notification_create", err,
			slog.String("user_id", n.UserID), slog.String("type", n.Type))
	}
}

// List returns the principal's notifications, newest first, with the actors
// resolved in one batched lookup.
func (s *NotificationService) List(ctx context.Context, unreadOnly bool, limit int, cursor string) (*models.NotificationPage, error) {
	p, err := identity.RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	c, err := repository.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, next, err := s.notifications.List(ctx, p.UID, unreadOnly, limit, c)
	if err != nil {
		return nil, err
	}

	actorIDs := make([]string, 0, len(rows))
	for _, n := range rows {
		actorIDs = append(actorIDs, n.ActorID)
	}
	actors := map[string]models.UserSummary{}
	if ids := dedupe(actorIDs); len(ids) > 0 {
		users, err := s.users.GetByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		for i := range users {
			actors[users[i].ID] = users[i].Summary()
		}
	}

	page := &models.NotificationPage{
		Notifications: make([]models.NotificationView, 0, len(rows)),
		NextCursor:    next,
		HasMore:       next != "",
	}
	for _, n := range rows {
		view := models.NotificationView{Notification: n}
		if a, ok := actors[n.ActorID]; ok {
			actor := a
			view.Actor = &actor
		}
		page.Notifications = append(page.Notifications, view)
	}
	return page, nil
}

// MarkAsRead marks one of the principal's notifications read.
func (s *NotificationService) MarkAsRead(ctx context.Context, id string) error {
	p, err := identity.RequirePrincipal(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	n, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if n.UserID != p.UID {
		return models.NewForbiddenError("Not your notification")
	}
	if n.Read {
		return nil
	}
	return s.notifications.MarkRead(ctx, id)
}

// MarkAllAsRead returns how many notifications changed.
func (s *NotificationService) MarkAllAsRead(ctx context.Context) (int64, error) {
	p, err := identity.RequirePrincipal(ctx)
	if err != nil {
		return 0, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.notifications.MarkAllRead(ctx, p.UID)
}

func (s *NotificationService) UnreadCount(ctx context.Context) (int64, error) {
	p, err := identity.RequirePrincipal(ctx)
	if err != nil {
		return 0, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.notifications.UnreadCount(ctx, p.UID)
}
