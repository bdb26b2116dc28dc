package repository

import (
	"context"

	"quill/internal/models"
	"quill/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FollowRepository defines the interface for follow graph operations
type FollowRepository interface {
	Follow(ctx context.Context, followerID, followingID string) error
	Unfollow(ctx context.Context, followerID, followingID string) error
	IsFollowing(ctx context.Context, followerID, followingID string) (bool, error)
	Followers(ctx context.Context, uid string, limit int, cursor *Cursor) ([]string, string, error)
	Following(ctx context.Context, uid string, limit int, cursor *Cursor) ([]string, string, error)
	Mutual(ctx context.Context, a, b string, limit int) ([]string, error)
}

// followRepository implements FollowRepository
type followRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewFollowRepository creates a new follow repository
func NewFollowRepository(db *gorm.DB) FollowRepository {
	return &followRepository{db: db, log: observability.NewRepoLogger("follows")}
}

// Follow writes the edge and both counters in one transaction. An existing
// edge is a CONFLICT and leaves the counters alone.
func (r *followRepository) Follow(ctx context.Context, followerID, followingID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		edge := models.Follow{
			ID:          models.EdgeID(followerID, followingID),
			FollowerID:  followerID,
			FollowingID: followingID,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edge)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewConflictError("Already following this user")
		}
		return adjustFollowCounters(tx, followerID, followingID, 1)
	})
	if err != nil {
		if !models.IsCode(err, models.CodeConflict) {
			r.log.LogError(ctx, err, "follow")
		}
		return translate(err, "follow user", "User", followingID)
	}
	observability.ToggleTotal.WithLabelValues("follow", "on").Inc()
	r.log.LogCreate(ctx, map[string]interface{}{"follower_id": followerID, "following_id": followingID})
	return nil
}

// Unfollow removes the edge; NOT_FOUND when there is none.
func (r *followRepository) Unfollow(ctx context.Context, followerID, followingID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", models.EdgeID(followerID, followingID)).Delete(&models.Follow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &models.AppError{Code: models.CodeNotFound, Message: "Not following this user"}
		}
		return adjustFollowCounters(tx, followerID, followingID, -1)
	})
	if err != nil {
		return translate(err, "unfollow user", "User", followingID)
	}
	observability.ToggleTotal.WithLabelValues("follow", "off").Inc()
	r.log.LogDelete(ctx, map[string]interface{}{"follower_id": followerID, "following_id": followingID})
	return nil
}

func adjustFollowCounters(tx *gorm.DB, followerID, followingID string, delta int64) error {
	if err := tx.Model(&models.User{}).Where("id = ?", followerID).
		UpdateColumn("stats_following_count", gorm.Expr("stats_following_count + ?", delta)).Error; err != nil {
		return err
	}
	return tx.Model(&models.User{}).Where("id = ?", followingID).
		UpdateColumn("stats_followers_count", gorm.Expr("stats_followers_count + ?", delta)).Error
}

func (r *followRepository) IsFollowing(ctx context.Context, followerID, followingID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Follow{}).
		Where("id = ?", models.EdgeID(followerID, followingID)).
		Count(&n).Error
	if err != nil {
		return false, models.NewPersistenceError("check follow", err)
	}
	return n > 0, nil
}

// Followers pages the accounts following uid, newest edge first.
func (r *followRepository) Followers(ctx context.Context, uid string, limit int, cursor *Cursor) ([]string, string, error) {
	return r.page(ctx, "following_id", uid, func(f models.Follow) string { return f.FollowerID }, limit, cursor)
}

// Following pages the accounts uid follows, newest edge first.
func (r *followRepository) Following(ctx context.Context, uid string, limit int, cursor *Cursor) ([]string, string, error) {
	return r.page(ctx, "follower_id", uid, func(f models.Follow) string { return f.FollowingID }, limit, cursor)
}

func (r *followRepository) page(ctx context.Context, col, uid string, other func(models.Follow) string, limit int, cursor *Cursor) ([]string, string, error) {
	limit = clampLimit(limit, 20, 100)
	q := readDB(r.db).WithContext(ctx).Model(&models.Follow{}).Where(col+" = ?", uid)
	q, err := keyset(q, "created_at", "id", sortTime, true, cursor)
	if err != nil {
		return nil, "", err
	}

	var edges []models.Follow
	if err := q.Limit(limit + 1).Find(&edges).Error; err != nil {
		return nil, "", models.NewPersistenceError("list follows", err)
	}
	next := ""
	if len(edges) > limit {
		edges = edges[:limit]
		next = timeCursor(edges[limit-1].CreatedAt, edges[limit-1].ID)
	}
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, other(e))
	}
	return ids, next, nil
}

// Mutual returns up to limit accounts that both a and b follow, computed
// with a self-join on the edge table.
func (r *followRepository) Mutual(ctx context.Context, a, b string, limit int) ([]string, error) {
	var ids []string
	err := readDB(r.db).WithContext(ctx).
		Table("follows AS fa").
		Joins("JOIN follows AS fb ON fb.following_id = fa.following_id").
		Where("fa.follower_id = ? AND fb.follower_id = ?", a, b).
		Order("fa.created_at DESC").
		Limit(clampLimit(limit, 3, 50)).
		Pluck("fa.following_id", &ids).Error
	if err != nil {
		return nil, models.NewPersistenceError("load mutual follows", err)
	}
	return ids, nil
}
