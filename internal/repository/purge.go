package repository

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"quill/internal/models"
	"quill/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrphanReport counts child rows whose post row is gone.
type OrphanReport struct {
	Comments  int64 `json:"comments"`
	Likes     int64 `json:"likes"`
	Bookmarks int64 `json:"bookmarks"`
}

// Total sums all orphan kinds.
func (o OrphanReport) Total() int64 {
	return o.Comments + o.Likes + o.Bookmarks
}

// PurgeRepository drives the mark-then-sweep cleanup of deleted posts.
type PurgeRepository interface {
	Purge(ctx context.Context, postID string) error
	Pending(ctx context.Context, limit int) ([]models.PostPurge, error)
	RecordFailure(ctx context.Context, postID string, cause error) error
	FindOrphans(ctx context.Context) (OrphanReport, error)
	DeleteOrphans(ctx context.Context) (OrphanReport, error)
	RequeueStranded(ctx context.Context) (int64, error)
}

const maxPurgeErrorRunes = 1000

// truncateRunes keeps at most n runes of s and replaces invalid UTF-8.
func truncateRunes(s string, n int) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

type purgeRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

func NewPurgeRepository(db *gorm.DB) PurgeRepository {
	return &purgeRepository{db: db, log: observability.NewRepoLogger("post_purges")}
}

// Purge removes every comment, like, and bookmark of a soft-deleted post,
// hard-deletes the post row, and completes the queue entry in one
// transaction. Running it again for a finished post is a no-op.
func (r *purgeRepository) Purge(ctx context.Context, postID string) error {
	defer observability.TrackQuery("purge", "posts")()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, child := range []interface{}{&models.Comment{}, &models.Like{}, &models.Bookmark{}} {
			if err := tx.Where("post_id = ?", postID).Delete(child).Error; err != nil {
				return err
			}
		}
		if err := tx.Unscoped().Where("id = ? AND deleted_at IS NOT NULL", postID).Delete(&models.Post{}).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		return tx.Model(&models.PostPurge{}).
			Where("post_id = ? AND completed_at IS NULL", postID).
			Updates(map[string]interface{}{"completed_at": now, "last_error": ""}).Error
	})
	if err != nil {
		r.log.LogError(ctx, err, "purge")
		return models.NewPersistenceError("purge post "+postID, err)
	}
	r.log.LogDelete(ctx, map[string]interface{}{"id": postID, "mode": "purge"})
	return nil
}

// Pending returns unfinished purges, oldest first.
func (r *purgeRepository) Pending(ctx context.Context, limit int) ([]models.PostPurge, error) {
	var rows []models.PostPurge
	err := r.db.WithContext(ctx).
		Where("completed_at IS NULL").
		Order("created_at ASC").
		Limit(clampLimit(limit, 50, 500)).
		Find(&rows).Error
	if err != nil {
		return nil, models.NewPersistenceError("load pending purges", err)
	}
	return rows, nil
}

func (r *purgeRepository) RecordFailure(ctx context.Context, postID string, cause error) error {
	msg := truncateRunes(cause.Error(), maxPurgeErrorRunes)
	err := r.db.WithContext(ctx).Model(&models.PostPurge{}).
		Where("post_id = ?", postID).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": msg,
		}).Error
	if err != nil {
		return models.NewPersistenceError("record purge failure", err)
	}
	return nil
}

func orphaned(table string) string {
	return "NOT EXISTS (SELECT 1 FROM posts WHERE posts.id = " + table + ".post_id)"
}

func (r *purgeRepository) FindOrphans(ctx context.Context) (OrphanReport, error) {
	var rep OrphanReport
	db := r.db.WithContext(ctx)
	counts := []struct {
		model interface{}
		table string
		dest  *int64
	}{
		{&models.Comment{}, "comments", &rep.Comments},
		{&models.Like{}, "likes", &rep.Likes},
		{&models.Bookmark{}, "bookmarks", &rep.Bookmarks},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Where(orphaned(c.table)).Count(c.dest).Error; err != nil {
			return OrphanReport{}, models.NewPersistenceError("count orphans", err)
		}
	}
	return rep, nil
}

func (r *purgeRepository) DeleteOrphans(ctx context.Context) (OrphanReport, error) {
	var rep OrphanReport
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where(orphaned("comments")).Delete(&models.Comment{})
		if res.Error != nil {
			return res.Error
		}
		rep.Comments = res.RowsAffected
		res = tx.Where(orphaned("likes")).Delete(&models.Like{})
		if res.Error != nil {
			return res.Error
		}
		rep.Likes = res.RowsAffected
		res = tx.Where(orphaned("bookmarks")).Delete(&models.Bookmark{})
		if res.Error != nil {
			return res.Error
		}
		rep.Bookmarks = res.RowsAffected
		return nil
	})
	if err != nil {
		return OrphanReport{}, models.NewPersistenceError("delete orphans", err)
	}
	return rep, nil
}

// RequeueStranded queues soft-deleted posts that have no pending purge.
func (r *purgeRepository) RequeueStranded(ctx context.Context) (int64, error) {
	var ids []string
	err := r.db.WithContext(ctx).Unscoped().Model(&models.Post{}).
		Where("deleted_at IS NOT NULL").
		Where("NOT EXISTS (SELECT 1 FROM post_purges WHERE post_purges.post_id = posts.id AND post_purges.completed_at IS NULL)").
		Pluck("id", &ids).Error
	if err != nil {
		return 0, models.NewPersistenceError("find stranded posts", err)
	}

	var queued int64
	for _, id := range ids {
		res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "post_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"completed_at": nil}),
		}).Create(&models.PostPurge{PostID: id})
		if res.Error != nil {
			return queued, models.NewPersistenceError("requeue purge", res.Error)
		}
		queued++
	}
	return queued, nil
}
