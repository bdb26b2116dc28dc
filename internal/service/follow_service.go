package service

import (
	"context"

	"quill/internal/cache"
	"quill/internal/events"
	"quill/internal/identity"
	"quill/internal/models"
	"quill/internal/repository"
)

const (
	followPageSize  = 20
	mutualFollowCap = 3
)

type FollowService struct {
	deadline
	follows  repository.FollowRepository
	users    repository.UserRepository
	notifier Notifier
	events   events.Publisher
}

func NewFollowService(
	follows repository.FollowRepository,
	users repository.UserRepository,
	notifier Notifier,
	publisher events.Publisher,
) *FollowService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &FollowService{follows: follows, users: users, notifier: notifier, events: publisher}
}

func (s *FollowService) FollowUser(ctx context.Context, targetUID string) error {
	p, err := identity.RequirePrincipal(ctx)
	if err != nil {
		return err
	}
	if targetUID == p.UID {
		return models.NewValidationError("Cannot follow yourself")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if _, err := s.users.GetByID(ctx, targetUID); err != nil {
		return err
	}
	if err := s.follows.Follow(ctx, p.UID, targetUID); err != nil {
		return err
	}
	cache.InvalidateAuthorProfile(ctx, p.UID, targetUID)

	if s.notifier != nil {
		s.notifier.Notify(ctx, &models.Notification{
			UserID:   targetUID,
			Type:     models.NotificationFollow,
			Message:  "started following you",
			ActorID:  p.UID,
			Metadata: models.JSONMap{"userId": p.UID},
		})
	}
	events.PublishBestEffort(ctx, s.events, events.Event{
		Type:      events.UserFollowed,
		ActorID:   p.UID,
		SubjectID: targetUID,
	})
	return nil
}

func (s *FollowService) UnfollowUser(ctx context.Context, targetUID string) error {
	p, err := identity.RequirePrincipal(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.follows.Unfollow(ctx, p.UID, targetUID); err != nil {
		return err
	}
	cache.InvalidateAuthorProfile(ctx, p.UID, targetUID)
	return nil
}

func (s *FollowService) IsFollowing(ctx context.Context, followerID, followingID string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.follows.IsFollowing(ctx, followerID, followingID)
}

// Followers pages the accounts following uid, newest first.
func (s *FollowService) Followers(ctx context.Context, uid string, limit int, cursor string) (*models.UserPage, error) {
	return s.page(ctx, uid, limit, cursor, s.follows.Followers)
}

// Following pages the accounts uid follows, newest first.
func (s *FollowService) Following(ctx context.Context, uid string, limit int, cursor string) (*models.UserPage, error) {
	return s.page(ctx, uid, limit, cursor, s.follows.Following)
}

type edgePager func(ctx context.Context, uid string, limit int, cursor *repository.Cursor) ([]string, string, error)

func (s *FollowService) page(ctx context.Context, uid string, limit int, cursor string, list edgePager) (*models.UserPage, error) {
	c, err := repository.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if _, err := s.users.GetByID(ctx, uid); err != nil {
		return nil, err
	}
	ids, next, err := list(ctx, uid, pageLimit(limit, followPageSize), c)
	if err != nil {
		return nil, err
	}
	users, err := summaries(ctx, s.users, ids)
	if err != nil {
		return nil, err
	}
	return &models.UserPage{Users: users, NextCursor: next, HasMore: next != ""}, nil
}

// Mutual returns accounts both a and b follow.
func (s *FollowService) Mutual(ctx context.Context, a, b string, limit int) ([]models.UserSummary, error) {
	if limit <= 0 {
		limit = mutualFollowCap
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	ids, err := s.follows.Mutual(ctx, a, b, limit)
	if err != nil {
		return nil, err
	}
	return summaries(ctx, s.users, ids)
}

// summaries loads users in one query and keeps the order of ids. Ids whose
// user is gone are dropped.
func summaries(ctx context.Context, users repository.UserRepository, ids []string) ([]models.UserSummary, error) {
	out := make([]models.UserSummary, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.UserSummary, len(rows))
	for i := range rows {
		byID[rows[i].ID] = rows[i].Summary()
	}
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}
