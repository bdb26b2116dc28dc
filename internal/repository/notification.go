package repository

import (
	"context"

	"quill/internal/models"
	"quill/internal/observability"

	"gorm.io/gorm"
)

// NotificationRepository persists per-recipient notifications.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	GetByID(ctx context.Context, id string) (*models.Notification, error)
	List(ctx context.Context, userID string, unreadOnly bool, limit int, cursor *Cursor) ([]models.Notification, string, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

type notificationRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db, log: observability.NewRepoLogger("notifications")}
}

func (r *notificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return models.NewPersistenceError("create notification", err)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"id": n.ID, "user_id": n.UserID, "type": n.Type})
	return nil
}

func (r *notificationRepository) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	var n models.Notification
	if err := r.db.WithContext(ctx).First(&n, "id = ?", id).Error; err != nil {
		return nil, translate(err, "load notification", "Notification", id)
	}
	return &n, nil
}

// List returns the recipient's notifications, newest first.
func (r *notificationRepository) List(ctx context.Context, userID string, unreadOnly bool, limit int, cursor *Cursor) ([]models.Notification, string, error) {
	limit = clampLimit(limit, 20, 100)
	q := readDB(r.db).WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("read = ?", false)
	}
	q, err := keyset(q, "created_at", "id", sortTime, true, cursor)
	if err != nil {
		return nil, "", err
	}

	var rows []models.Notification
	if err := q.Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, "", models.NewPersistenceError("list notifications", err)
	}
	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		next = timeCursor(rows[limit-1].CreatedAt, rows[limit-1].ID)
	}
	return rows, next, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", id).Update("read", true)
	if res.Error != nil {
		return models.NewPersistenceError("mark notification read", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Notification", id)
	}
	return nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true)
	if res.Error != nil {
		return 0, models.NewPersistenceError("mark notifications read", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *notificationRepository) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&n).Error
	if err != nil {
		return 0, models.NewPersistenceError("count notifications", err)
	}
	return n, nil
}
