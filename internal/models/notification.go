package models

import "time"

// Notification types.
const (
	NotificationFollow  = "follow"
	NotificationLike    = "like"
	NotificationComment = "comment"
	NotificationReply   = "reply"
	NotificationSystem  = "system"
)

// Notification is a message for a single recipient.
type Notification struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	UserID    string    `gorm:"size:64;not null;index:idx_notifications_user_read" json:"user_id"`
	Type      string    `gorm:"size:20;not null" json:"type"`
	Message   string    `gorm:"size:500" json:"message"`
	ActorID   string    `gorm:"size:64" json:"actor_id"`
	Metadata  JSONMap   `json:"metadata"`
	Read      bool      `gorm:"not null;default:false;index:idx_notifications_user_read" json:"read"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// NotificationView is a notification with its actor resolved.
type NotificationView struct {
	Notification
	Actor *UserSummary `json:"actor,omitempty"`
}

// NotificationPage is one page of a recipient's notifications.
type NotificationPage struct {
	Notifications []NotificationView `json:"notifications"`
	NextCursor    string             `json:"next_cursor,omitempty"`
	HasMore       bool               `json:"has_more"`
}
