package models

import "time"

// CommentStats are counters on a comment.
type CommentStats struct {
	Likes   int64 `gorm:"not null;default:0" json:"likes"`
	Replies int64 `gorm:"not null;default:0" json:"replies"`
}

// Comment is either top level (ParentID nil) or a direct reply to a top-level comment.
type Comment struct {
	ID        string         `gorm:"primaryKey;size:64" json:"id"`
	PostID    string         `gorm:"size:64;not null;index" json:"post_id"`
	ParentID  *string        `gorm:"size:64;index" json:"parent_id"`
	Content   string         `gorm:"type:text;not null" json:"content"`
	Author    AuthorSnapshot `gorm:"embedded;embeddedPrefix:author_" json:"author"`
	Stats     CommentStats   `gorm:"embedded;embeddedPrefix:stats_" json:"stats"`
	IsEdited  bool           `gorm:"not null;default:false" json:"is_edited"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CommentThread is a top-level comment with its direct replies.
type CommentThread struct {
	Comment
	Replies []Comment `json:"replies"`
}

// CommentPage is one page of top-level threads.
type CommentPage struct {
	Comments   []CommentThread `json:"comments"`
	NextCursor string          `json:"next_cursor,omitempty"`
	HasMore    bool            `json:"has_more"`
}
