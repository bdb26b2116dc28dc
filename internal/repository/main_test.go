package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"quill/internal/database"
	"quill/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func setupSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), database.GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	u := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		FullName:     username + " Example",
		Email:        username + "@example.com",
		Preferences:  models.DefaultPreferences(),
		LastActivity: time.Now().UTC(),
	}
	require.NoError(t, NewUserRepository(db).Register(context.Background(), u))
	return u
}

func seedPost(t *testing.T, db *gorm.DB, author *models.User, title string, tags ...string) *models.Post {
	t.Helper()
	repo := NewPostRepository(db)
	ctx := context.Background()
	slug, err := repo.NextSlug(ctx, regexp.MustCompile(`[^a-z0-9]+`).ReplaceAllString(title, "-"))
	require.NoError(t, err)
	p := &models.Post{
		ID:            uuid.NewString(),
		Title:         title,
		Content:       "content of " + title,
		Author:        author.Snapshot(),
		Tags:          tags,
		Status:        models.PostStatusPublished,
		Visibility:    models.VisibilityPublic,
		AllowComments: true,
		ReadTime:      1,
		SEO:           models.SEO{Slug: slug},
	}
	require.NoError(t, repo.Create(ctx, p))
	return p
}

func reloadUser(t *testing.T, db *gorm.DB, uid string) models.User {
	t.Helper()
	var u models.User
	require.NoError(t, db.First(&u, "id = ?", uid).Error)
	return u
}

func reloadPost(t *testing.T, db *gorm.DB, id string) models.Post {
	t.Helper()
	var p models.Post
	require.NoError(t, db.Unscoped().First(&p, "id = ?", id).Error)
	return p
}
