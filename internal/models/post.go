package models

import (
	"time"

	"gorm.io/gorm"
)

// Post statuses.
const (
	PostStatusDraft     = "draft"
	PostStatusPublished = "published"
	PostStatusArchived  = "archived"
)

// Post visibilities.
const (
	VisibilityPublic    = "public"
	VisibilityFollowers = "followers"
	VisibilityPrivate   = "private"
)

// AuthorSnapshot is a copy of the author taken at write time. It is not
// refreshed when the user later edits their profile.
type AuthorSnapshot struct {
	UID      string `gorm:"size:64;index" json:"uid"`
	Username string `gorm:"size:30" json:"username"`
	FullName string `gorm:"size:100" json:"full_name"`
	PhotoURL string `gorm:"size:1024" json:"photo_url"`
}

// PostStats are counters; views only ever increase.
type PostStats struct {
	Views     int64 `gorm:"not null;default:0" json:"views"`
	Likes     int64 `gorm:"not null;default:0" json:"likes"`
	Comments  int64 `gorm:"not null;default:0" json:"comments"`
	Shares    int64 `gorm:"not null;default:0" json:"shares"`
	Bookmarks int64 `gorm:"not null;default:0" json:"bookmarks"`
}

// SEO holds the permalink slug and meta fields.
type SEO struct {
	Slug            string `gorm:"size:255;uniqueIndex;not null" json:"slug"`
	MetaTitle       string `gorm:"size:255" json:"meta_title"`
	MetaDescription string `gorm:"size:160" json:"meta_description"`
}

// Post is a blog entry.
type Post struct {
	ID               string         `gorm:"primaryKey;size:64" json:"id"`
	Title            string         `gorm:"size:200;not null" json:"title"`
	Content          string         `gorm:"type:text;not null" json:"content"`
	Excerpt          string         `gorm:"size:200" json:"excerpt"`
	Author           AuthorSnapshot `gorm:"embedded;embeddedPrefix:author_" json:"author"`
	Tags             StringList     `json:"tags"`
	ImageURLs        StringList     `gorm:"column:image_urls" json:"image_urls"`
	Status           string         `gorm:"size:20;not null;default:published;index" json:"status"`
	Visibility       string         `gorm:"size:20;not null;default:public" json:"visibility"`
	AllowComments    bool           `gorm:"not null" json:"allow_comments"`
	ReadTime         int            `gorm:"not null;default:1" json:"read_time"`
	Stats            PostStats      `gorm:"embedded;embeddedPrefix:stats_" json:"stats"`
	SEO              SEO            `gorm:"embedded;embeddedPrefix:seo_" json:"seo"`
	ScheduledAt      *time.Time     `json:"scheduled_at,omitempty"`
	IsPromoted       bool           `gorm:"not null;default:false" json:"is_promoted"`
	ModerationStatus string         `gorm:"size:20;not null;default:approved" json:"moderation_status"`
	CreatedAt        time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

// AuthorProfile carries live author fields looked up at read time.
type AuthorProfile struct {
	Bio   string    `json:"bio"`
	Stats UserStats `json:"stats"`
}

// PostView is a post as returned by a single-post read.
type PostView struct {
	Post
	AuthorProfile *AuthorProfile `json:"author_profile,omitempty"`
	Liked         bool           `json:"liked"`
	Bookmarked    bool           `json:"bookmarked"`
}

// PostPage is one page of a post listing.
type PostPage struct {
	Posts      []Post `json:"posts"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// PostPurge queues the child cleanup of a soft-deleted post.
type PostPurge struct {
	PostID      string     `gorm:"primaryKey;size:64" json:"post_id"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	LastError   string     `gorm:"size:1024" json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `gorm:"index" json:"completed_at,omitempty"`
}

// Tag aggregates how often a tag has been used. PostCount is not
// decremented when posts are deleted.
type Tag struct {
	Name      string    `gorm:"primaryKey;size:50" json:"name"`
	PostCount int64     `gorm:"not null;default:0;index" json:"post_count"`
	LastUsed  time.Time `json:"last_used"`
	CreatedAt time.Time `json:"created_at"`
}
