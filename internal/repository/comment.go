package repository

import (
	"context"
	"time"

	"quill/internal/models"
	"quill/internal/observability"

	"gorm.io/gorm"
)

// CommentRepository defines interface for comment operations
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id string) (*models.Comment, error)
	ListTopLevel(ctx context.Context, postID string, desc bool, limit int, cursor *Cursor) ([]models.Comment, string, error)
	ListReplies(ctx context.Context, parentIDs []string) ([]models.Comment, error)
	UpdateContent(ctx context.Context, id, content string) (*models.Comment, error)
	Delete(ctx context.Context, comment *models.Comment) (int64, error)
}

type commentRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewCommentRepository creates a new CommentRepository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db, log: observability.NewRepoLogger("comments")}
}

// Create inserts the comment and bumps the post's comment counter and, for a
// reply, the parent's reply counter.
func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(comment).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Post{}).Where("id = ?", comment.PostID).
			UpdateColumn("stats_comments", gorm.Expr("stats_comments + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewNotFoundError("Post", comment.PostID)
		}
		if comment.ParentID != nil {
			res = tx.Model(&models.Comment{}).Where("id = ?", *comment.ParentID).
				UpdateColumn("stats_replies", gorm.Expr("stats_replies + 1"))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return models.NewNotFoundError("Comment", *comment.ParentID)
			}
		}
		return nil
	})
	if err != nil {
		r.log.LogError(ctx, err, "create")
		return translate(err, "add comment", "Comment", comment.ID)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"id": comment.ID, "post_id": comment.PostID})
	return nil
}

func (r *commentRepository) GetByID(ctx context.Context, id string) (*models.Comment, error) {
	var comment models.Comment
	if err := r.db.WithContext(ctx).First(&comment, "id = ?", id).Error; err != nil {
		return nil, translate(err, "load comment", "Comment", id)
	}
	return &comment, nil
}

// ListTopLevel returns one page of top-level comments and the cursor of the
// next page, empty when there is none.
func (r *commentRepository) ListTopLevel(ctx context.Context, postID string, desc bool, limit int, cursor *Cursor) ([]models.Comment, string, error) {
	limit = clampLimit(limit, 20, 100)
	q := readDB(r.db).WithContext(ctx).Model(&models.Comment{}).
		Where("post_id = ? AND parent_id IS NULL", postID)
	q, err := keyset(q, "created_at", "id", sortTime, desc, cursor)
	if err != nil {
		return nil, "", err
	}

	var comments []models.Comment
	if err := q.Limit(limit + 1).Find(&comments).Error; err != nil {
		return nil, "", models.NewPersistenceError("list comments", err)
	}
	next := ""
	if len(comments) > limit {
		comments = comments[:limit]
		last := comments[limit-1]
		next = timeCursor(last.CreatedAt, last.ID)
	}
	return comments, next, nil
}

// ListReplies loads the direct replies of every parent in one query, oldest first.
func (r *commentRepository) ListReplies(ctx context.Context, parentIDs []string) ([]models.Comment, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	var replies []models.Comment
	err := readDB(r.db).WithContext(ctx).
		Where("parent_id IN ?", parentIDs).
		Order("created_at ASC").Order("id ASC").
		Find(&replies).Error
	if err != nil {
		return nil, models.NewPersistenceError("list replies", err)
	}
	return replies, nil
}

func (r *commentRepository) UpdateContent(ctx context.Context, id, content string) (*models.Comment, error) {
	var comment models.Comment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Comment{}).Where("id = ?", id).
			Updates(map[string]interface{}{"content": content, "is_edited": true, "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.First(&comment, "id = ?", id).Error
	})
	if err != nil {
		return nil, translate(err, "update comment", "Comment", id)
	}
	return &comment, nil
}

// Delete removes the comment with its replies and returns how many rows went.
func (r *commentRepository) Delete(ctx context.Context, comment *models.Comment) (int64, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		replies := tx.Where("parent_id = ?", comment.ID).Delete(&models.Comment{})
		if replies.Error != nil {
			return replies.Error
		}
		self := tx.Where("id = ?", comment.ID).Delete(&models.Comment{})
		if self.Error != nil {
			return self.Error
		}
		if self.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		removed = replies.RowsAffected + self.RowsAffected

		if err := tx.Model(&models.Post{}).Where("id = ?", comment.PostID).
			UpdateColumn("stats_comments", gorm.Expr("stats_comments - ?", removed)).Error; err != nil {
			return err
		}
		if comment.ParentID != nil {
			return tx.Model(&models.Comment{}).
				Where("id = ? AND stats_replies > 0", *comment.ParentID).
				UpdateColumn("stats_replies", gorm.Expr("stats_replies - 1")).Error
		}
		return nil
	})
	if err != nil {
		r.log.LogError(ctx, err, "delete")
		return 0, translate(err, "delete comment", "Comment", comment.ID)
	}
	r.log.LogDelete(ctx, map[string]interface{}{"id": comment.ID, "removed": removed})
	return removed, nil
}
