package repository

import (
	"context"

	"quill/internal/models"
	"quill/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LikeToggle is the outcome of a like toggle.
type LikeToggle struct {
	models.ToggleResult
	AuthorUID string
}

// ReactionRepository flips likes and bookmarks and reads them back.
type ReactionRepository interface {
	ToggleLike(ctx context.Context, postID, userID string) (*LikeToggle, error)
	ToggleBookmark(ctx context.Context, postID, userID string) (*models.ToggleResult, error)
	IsLiked(ctx context.Context, postID, userID string) (bool, error)
	IsBookmarked(ctx context.Context, postID, userID string) (bool, error)
	BookmarkedPostIDs(ctx context.Context, userID string, limit int, cursor *Cursor) ([]string, string, error)
}

type reactionRepository struct {
	db *gorm.DB
}

func NewReactionRepository(db *gorm.DB) ReactionRepository {
	return &reactionRepository{db: db}
}

// toggleEdge inserts the edge row or, when it already exists, deletes it.
// It returns +1, -1, or 0 for a concurrent toggle that found nothing left
// to delete.
func toggleEdge(tx *gorm.DB, row interface{}, model interface{}, id string) (int64, error) {
	ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if ins.Error != nil {
		return 0, ins.Error
	}
	if ins.RowsAffected > 0 {
		return 1, nil
	}
	del := tx.Where("id = ?", id).Delete(model)
	if del.Error != nil {
		return 0, del.Error
	}
	return -del.RowsAffected, nil
}

// ToggleLike flips the like in one transaction. Counters move by the rows
// actually written, so concurrent duplicate toggles cannot drift them.
func (r *reactionRepository) ToggleLike(ctx context.Context, postID, userID string) (*LikeToggle, error) {
	out := &LikeToggle{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := tx.Select("id", "author_uid").First(&post, "id = ?", postID).Error; err != nil {
			return err
		}
		out.AuthorUID = post.Author.UID

		id := models.EdgeID(postID, userID)
		delta, err := toggleEdge(tx, &models.Like{ID: id, PostID: postID, UserID: userID}, &models.Like{}, id)
		if err != nil {
			return err
		}
		out.Active = delta > 0

		if delta != 0 {
			if err := tx.Model(&models.Post{}).Where("id = ?", postID).
				UpdateColumn("stats_likes", gorm.Expr("stats_likes + ?", delta)).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.User{}).Where("id = ?", post.Author.UID).
				UpdateColumn("stats_likes_received", gorm.Expr("stats_likes_received + ?", delta)).Error; err != nil {
				return err
			}
		}

		var after models.Post
		if err := tx.Select("id", "stats_likes").First(&after, "id = ?", postID).Error; err != nil {
			return err
		}
		out.Count = after.Stats.Likes
		return nil
	})
	if err != nil {
		return nil, translate(err, "toggle like", "Post", postID)
	}
	observability.ToggleTotal.WithLabelValues("like", toggleState(out.Active)).Inc()
	return out, nil
}

func (r *reactionRepository) ToggleBookmark(ctx context.Context, postID, userID string) (*models.ToggleResult, error) {
	out := &models.ToggleResult{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := tx.Select("id").First(&post, "id = ?", postID).Error; err != nil {
			return err
		}

		id := models.EdgeID(postID, userID)
		delta, err := toggleEdge(tx, &models.Bookmark{ID: id, PostID: postID, UserID: userID}, &models.Bookmark{}, id)
		if err != nil {
			return err
		}
		out.Active = delta > 0

		if delta != 0 {
			if err := tx.Model(&models.Post{}).Where("id = ?", postID).
				UpdateColumn("stats_bookmarks", gorm.Expr("stats_bookmarks + ?", delta)).Error; err != nil {
				return err
			}
		}

		var after models.Post
		if err := tx.Select("id", "stats_bookmarks").First(&after, "id = ?", postID).Error; err != nil {
			return err
		}
		out.Count = after.Stats.Bookmarks
		return nil
	})
	if err != nil {
		return nil, translate(err, "toggle bookmark", "Post", postID)
	}
	observability.ToggleTotal.WithLabelValues("bookmark", toggleState(out.Active)).Inc()
	return out, nil
}

func toggleState(active bool) string {
	if active {
		return "on"
	}
	return "off"
}

func (r *reactionRepository) exists(ctx context.Context, model interface{}, id string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, models.NewPersistenceError("check reaction", err)
	}
	return n > 0, nil
}

func (r *reactionRepository) IsLiked(ctx context.Context, postID, userID string) (bool, error) {
	return r.exists(ctx, &models.Like{}, models.EdgeID(postID, userID))
}

func (r *reactionRepository) IsBookmarked(ctx context.Context, postID, userID string) (bool, error) {
	return r.exists(ctx, &models.Bookmark{}, models.EdgeID(postID, userID))
}

// BookmarkedPostIDs pages the user's bookmarks, most recent first.
func (r *reactionRepository) BookmarkedPostIDs(ctx context.Context, userID string, limit int, cursor *Cursor) ([]string, string, error) {
	limit = clampLimit(limit, 20, 50)
	q := readDB(r.db).WithContext(ctx).Model(&models.Bookmark{}).Where("user_id = ?", userID)
	q, err := keyset(q, "created_at", "id", sortTime, true, cursor)
	if err != nil {
		return nil, "", err
	}

	var rows []models.Bookmark
	if err := q.Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, "", models.NewPersistenceError("list bookmarks", err)
	}
	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		next = timeCursor(rows[limit-1].CreatedAt, rows[limit-1].ID)
	}
	ids := make([]string, 0, len(rows))
	for _, b := range rows {
		ids = append(ids, b.PostID)
	}
	return ids, next, nil
}
