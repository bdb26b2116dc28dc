package repository

import (
	"context"
	"time"

	"quill/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TagRepository reads tag aggregates. Writes happen inside post transactions.
type TagRepository interface {
	Trending(ctx context.Context, limit int) ([]models.Tag, error)
}

type tagRepository struct {
	db *gorm.DB
}

func NewTagRepository(db *gorm.DB) TagRepository {
	return &tagRepository{db: db}
}

func (r *tagRepository) Trending(ctx context.Context, limit int) ([]models.Tag, error) {
	var tags []models.Tag
	err := readDB(r.db).WithContext(ctx).
		Order("post_count DESC").Order("last_used DESC").Order("name ASC").
		Limit(clampLimit(limit, 10, 100)).
		Find(&tags).Error
	if err != nil {
		return nil, models.NewPersistenceError("load trending tags", err)
	}
	return tags, nil
}

// bumpTags increments each tag's post count, creating missing tags.
func bumpTags(tx *gorm.DB, names []string, now time.Time) error {
	for _, name := range names {
		for attempt := 0; attempt < 2; attempt++ {
			res := tx.Model(&models.Tag{}).Where("name = ?", name).
				UpdateColumns(map[string]interface{}{
					"post_count": gorm.Expr("post_count + 1"),
					"last_used":  now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				break
			}
			ins := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&models.Tag{Name: name, PostCount: 1, LastUsed: now})
			if ins.Error != nil {
				return ins.Error
			}
			if ins.RowsAffected > 0 {
				break
			}
		}
	}
	return nil
}
