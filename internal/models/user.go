// Package models contains data structures for the application's domain models.
package models

import "time"

// Auth providers a user account can be linked to.
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google"
)

// SocialLinks holds optional profile links.
type SocialLinks struct {
	Twitter  string `gorm:"size:255" json:"twitter"`
	LinkedIn string `gorm:"column:linkedin;size:255" json:"linkedin"`
	GitHub   string `gorm:"column:github;size:255" json:"github"`
}

// Preferences holds per-user settings.
type Preferences struct {
	EmailNotifications bool   `gorm:"not null" json:"email_notifications"`
	ProfileVisibility  string `gorm:"size:20;default:public" json:"profile_visibility"`
	ShowActivity       bool   `gorm:"not null" json:"show_activity"`
}

// DefaultPreferences returns the preferences assigned at registration.
func DefaultPreferences() Preferences {
	return Preferences{EmailNotifications: true, ProfileVisibility: "public", ShowActivity: true}
}

// UserStats are counters maintained by the content and follow services.
type UserStats struct {
	PostsCount     int64 `gorm:"not null;default:0" json:"posts_count"`
	FollowersCount int64 `gorm:"not null;default:0" json:"followers_count"`
	FollowingCount int64 `gorm:"not null;default:0" json:"following_count"`
	LikesReceived  int64 `gorm:"not null;default:0" json:"likes_received"`
}

// User is the profile record of a registered account.
type User struct {
	ID              string      `gorm:"primaryKey;size:64" json:"uid"`
	Username        string      `gorm:"size:30;not null" json:"username"`
	FullName        string      `gorm:"size:100" json:"full_name"`
	Email           string      `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Bio             string      `gorm:"size:500" json:"bio"`
	PhotoURL        string      `gorm:"size:1024" json:"photo_url"`
	PasswordHash    string      `gorm:"size:255" json:"-"`
	Provider        string      `gorm:"size:20;not null;default:password" json:"provider"`
	ProviderSubject string      `gorm:"size:255;index" json:"-"`
	SocialLinks     SocialLinks `gorm:"embedded;embeddedPrefix:social_" json:"social_links"`
	Preferences     Preferences `gorm:"embedded;embeddedPrefix:pref_" json:"preferences"`
	Stats           UserStats   `gorm:"embedded;embeddedPrefix:stats_" json:"stats"`
	Role            string      `gorm:"size:20;not null;default:user" json:"role"`
	IsVerified      bool        `gorm:"not null;default:false" json:"is_verified"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	LastActivity    time.Time   `json:"last_activity"`
}

// Summary returns the public fields embedded in lists and notifications.
func (u *User) Summary() UserSummary {
	return UserSummary{UID: u.ID, Username: u.Username, FullName: u.FullName, PhotoURL: u.PhotoURL}
}

// Snapshot returns the author copy embedded into posts and comments.
func (u *User) Snapshot() AuthorSnapshot {
	return AuthorSnapshot{UID: u.ID, Username: u.Username, FullName: u.FullName, PhotoURL: u.PhotoURL}
}

// UserSummary is the compact public view of a user.
type UserSummary struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	PhotoURL string `json:"photo_url"`
}

// UsernameReservation maps a lower-cased username to exactly one uid.
type UsernameReservation struct {
	Username  string    `gorm:"primaryKey;size:30" json:"username"`
	UID       string    `gorm:"size:64;uniqueIndex;not null" json:"uid"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for UsernameReservation.
func (UsernameReservation) TableName() string { return "usernames" }

// UserProfile is a user as seen by another principal.
type UserProfile struct {
	User
	Online        bool          `json:"online"`
	IsFollowing   bool          `json:"is_following"`
	MutualFollows []UserSummary `json:"mutual_follows"`
}
