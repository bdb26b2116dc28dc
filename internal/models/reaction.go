package models

import "time"

// EdgeID builds the composite key of a like, bookmark, or follow.
func EdgeID(left, right string) string {
	return left + "_" + right
}

// Like marks that a user likes a post. Existence is the only state.
type Like struct {
	ID        string    `gorm:"primaryKey;size:130" json:"id"`
	PostID    string    `gorm:"size:64;not null;index" json:"post_id"`
	UserID    string    `gorm:"size:64;not null;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Bookmark marks that a user saved a post.
type Bookmark struct {
	ID        string    `gorm:"primaryKey;size:130" json:"id"`
	PostID    string    `gorm:"size:64;not null;index" json:"post_id"`
	UserID    string    `gorm:"size:64;not null;index" json:"user_id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// Follow is a directed edge from FollowerID to FollowingID.
type Follow struct {
	ID          string    `gorm:"primaryKey;size:130" json:"id"`
	FollowerID  string    `gorm:"size:64;not null;index" json:"follower_id"`
	FollowingID string    `gorm:"size:64;not null;index" json:"following_id"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// ToggleResult reports the state after a like or bookmark toggle.
type ToggleResult struct {
	Active bool  `json:"active"`
	Count  int64 `json:"count"`
}

// UserPage is one page of a follower or following listing.
type UserPage struct {
	Users      []UserSummary `json:"users"`
	NextCursor string        `json:"next_cursor,omitempty"`
	HasMore    bool          `json:"has_more"`
}
