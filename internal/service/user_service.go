package service

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"quill/internal/cache"
	"quill/internal/identity"
	"quill/internal/media"
	"quill/internal/models"
	"quill/internal/repository"
)

const (
	maxFullNameLen     = 100
	maxBioLen          = 500
	maxURLLen          = 1024
	userSearchSize     = 20
	suggestedUsersSize = 5
	bookmarksPageSize  = 20
)

type UserService struct {
	deadline
	gate      postGate
	users     repository.UserRepository
	follows   repository.FollowRepository
	posts     repository.PostRepository
	reactions repository.ReactionRepository
	media     MediaStore
	presence  Presence
}

// UpdateProfileInput changes only the fields that are set.
type UpdateProfileInput struct {
	FullName    *string
	Bio         *string
	PhotoURL    *string
	SocialLinks *models.SocialLinks
	Preferences *models.Preferences
}

func NewUserService(
	users repository.UserRepository,
	follows repository.FollowRepository,
	posts repository.PostRepository,
	reactions repository.ReactionRepository,
	store MediaStore,
) *UserService {
	return &UserService{
		gate:      postGate{posts: posts, follows: follows},
		users:     users,
		follows:   follows,
		posts:     posts,
		reactions: reactions,
		media:     store,
	}
}

// SetPresence lets profiles report whether the user is online.
func (s *UserService) SetPresence(p Presence) {
	s.presence = p
}

// GetProfile resolves a username. Another signed-in user also sees whether
// they follow the account and a few accounts they both follow.
func (s *UserService) GetProfile(ctx context.Context, username string) (*models.UserProfile, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	out := &models.UserProfile{User: *user, MutualFollows: []models.UserSummary{}}
	if s.presence != nil {
		out.Online = s.presence.IsOnline(ctx, user.ID)
	}

	viewer, ok := identity.PrincipalFromContext(ctx)
	if !ok || viewer.UID == user.ID {
		return out, nil
	}
	if out.IsFollowing, err = s.follows.IsFollowing(ctx, viewer.UID, user.ID); err != nil {
		return nil, err
	}
	ids, err := s.follows.Mutual(ctx, viewer.UID, user.ID, mutualFollowCap)
	if err != nil {
		return nil, err
	}
	if out.MutualFollows, err = summaries(ctx, s.users, ids); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *UserService) GetUser(ctx context.Context, uid string) (*models.User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.users.GetByID(ctx, uid)
}

// Me returns the principal's own record.
func (s *UserService) Me(ctx context.Context) (*models.User, error) {
	p, err := identity.RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, p.UID)
}

func validURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	if len(raw) > maxURLLen {
		return models.NewValidationError(fmt.Sprintf("%s too long (max %d characters)", field, maxURLLen))
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.NewValidationError(field + " must be an http(s) URL")
	}
	return nil
}

func (s *UserService) UpdateProfile(ctx context.Context, in UpdateProfileInput) (*models.User, error) {
	p, err := identity.RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if in.FullName != nil {
		name := trimmed(in.FullName)
		if name == "" {
			return nil, models.NewValidationError("Full name is required")
		}
		if runeLen(name) > maxFullNameLen {
			return nil, models.NewValidationError(fmt.Sprintf("Full name too long (max %d characters)", maxFullNameLen))
		}
		fields["full_name"] = name
	}
	if in.Bio != nil {
		bio := trimmed(in.Bio)
		if runeLen(bio) > maxBioLen {
			return nil, models.NewValidationError(fmt.Sprintf("Bio too long (max %d characters)", maxBioLen))
		}
		fields["bio"] = bio
	}
	if in.PhotoURL != nil {
		photo := trimmed(in.PhotoURL)
		if err := validURL("Photo URL", photo); err != nil {
			return nil, err
		}
		fields["photo_url"] = photo
	}
	if l := in.SocialLinks; l != nil {
		for field, v := range map[string]string{"Twitter": l.Twitter, "LinkedIn": l.LinkedIn, "GitHub": l.GitHub} {
			if err := validURL(field, strings.TrimSpace(v)); err != nil {
				return nil, err
			}
		}
		fields["social_twitter"] = strings.TrimSpace(l.Twitter)
		fields["social_linkedin"] = strings.TrimSpace(l.LinkedIn)
		fields["social_github"] = strings.TrimSpace(l.GitHub)
	}
	if pref := in.Preferences; pref != nil {
		switch pref.ProfileVisibility {
		case models.VisibilityPublic, models.VisibilityFollowers, models.VisibilityPrivate:
		default:
			return nil, models.NewValidationError("Invalid profile visibility: " + pref.ProfileVisibility)
		}
		fields["pref_email_notifications"] = pref.EmailNotifications
		fields["pref_profile_visibility"] = pref.ProfileVisibility
		fields["pref_show_activity"] = pref.ShowActivity
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if len(fields) > 0 {
		fields["updated_at"] = time.Now().UTC()
		if err := s.users.UpdateFields(ctx, p.UID, fields); err != nil {
			return nil, err
		}
		cache.InvalidateAuthorProfile(ctx, p.UID)
	}
	return s.users.GetByID(ctx, p.UID)
}

// UpdateAvatar uploads image as the principal's photo and removes the
// previous one if it lives in the media store.
func (s *UserService) UpdateAvatar(ctx context.Context, image []byte) (*models.User, error) {
	p, err := identity.RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, models.NewValidationError("Image is required")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	user, err := s.users.GetByID(ctx, p.UID)
	if err != nil {
		return nil, err
	}
	urls, err := s.media.Upload(ctx, media.DomainAvatars, p.UID, [][]byte{image})
	if err != nil {
		return nil, err
	}
	err = s.users.UpdateFields(ctx, p.UID, map[string]interface{}{
		"photo_url":  urls[0],
		"updated_at": time.Now().UTC(),
	})
	if err != nil {
		s.media.Delete(ctx, urls)
		return nil, err
	}
	if user.PhotoURL != "" {
		s.media.Delete(ctx, []string{user.PhotoURL})
	}
	user.PhotoURL = urls[0]
	return user, nil
}

// TouchActivity records that the principal was active now.
func (s *UserService) TouchActivity(ctx context.Context) error {
	p, err := identity.RequirePrincipal(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.users.UpdateFields(ctx, p.UID, map[string]interface{}{"last_activity": time.Now().UTC()})
}

// RecordLastSeen stores when uid was last heard from on a live socket.
func (s *UserService) RecordLastSeen(ctx context.Context, uid string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.users.UpdateFields(ctx, uid, map[string]interface{}{"last_activity": at.UTC()})
}

// SearchUsers matches name, username, and bio. Username matches rank ahead
// of the rest; order is otherwise kept.
func (s *UserService) SearchUsers(ctx context.Context, term string, limit int) ([]models.UserSummary, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, models.NewValidationError("Search query is required")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	users, err := s.users.Search(ctx, term, pageLimit(limit, userSearchSize))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(users, func(i, j int) bool {
		return ContainsFold(users[i].Username, term) && !ContainsFold(users[j].Username, term)
	})
	out := make([]models.UserSummary, 0, len(users))
	for i := range users {
		out = append(out, users[i].Summary())
	}
	return out, nil
}

// SuggestedUsers lists the most followed accounts the principal does not
// follow yet. Anonymous callers get the most followed accounts.
func (s *UserService) SuggestedUsers(ctx context.Context, limit int) ([]models.UserSummary, error) {
	viewer, _ := identity.PrincipalFromContext(ctx)

	ctx, cancel := s.bound(ctx)
	defer cancel()

	users, err := s.users.Suggested(ctx, viewer.UID, pageLimit(limit, suggestedUsersSize))
	if err != nil {
		return nil, err
	}
	out := make([]models.UserSummary, 0, len(users))
	for i := range users {
		out = append(out, users[i].Summary())
	}
	return out, nil
}

// Bookmarks pages the principal's bookmarked posts, latest bookmark first.
// Posts deleted or hidden from the principal since are skipped.
func (s *UserService) Bookmarks(ctx context.Context, limit int, cursor string) (*models.PostPage, error) {
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

	ids, next, err := s.reactions.BookmarkedPostIDs(ctx, p.UID, pageLimit(limit, bookmarksPageSize), c)
	if err != nil {
		return nil, err
	}
	posts, err := s.posts.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if posts, err = s.gate.visiblePosts(ctx, posts, p.UID); err != nil {
		return nil, err
	}
	return &models.PostPage{Posts: posts, NextCursor: next, HasMore: next != ""}, nil
}

// Feed pages published posts by the accounts the principal follows and by
// the principal, newest first.
func (s *UserService) Feed(ctx context.Context, limit int, cursor string) (*models.PostPage, error) {
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

	return s.posts.List(ctx, repository.PostQuery{
		Status:     models.PostStatusPublished,
		FeedOf:     p.UID,
		VisibleTo:  p.UID,
		ReleasedBy: time.Now(),
		OrderBy:    repository.PostSortCreatedAt,
		Desc:       true,
		Limit:      pageLimit(limit, defaultPageSize),
		Cursor:     c,
	})
}
