// Package testutil provides shared test doubles and fixtures for backend tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"quill/internal/database"
	"quill/internal/models"
	"quill/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewSQLiteDB opens a migrated in-memory database. A single connection keeps
// every statement on the same in-memory instance.
func NewSQLiteDB(t testing.TB) *gorm.DB {
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

// SeedUser registers a user with the given username and a derived email.
func SeedUser(t testing.TB, db *gorm.DB, username string) *models.User {
	t.Helper()

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		FullName:     username + " Example",
		Email:        username + "@example.com",
		Provider:     models.ProviderPassword,
		Preferences:  models.DefaultPreferences(),
		Role:         "user",
		LastActivity: time.Now().UTC(),
	}
	require.NoError(t, repository.NewUserRepository(db).Register(context.Background(), user))
	return user
}

// ReloadUser reads the user row again.
func ReloadUser(t testing.TB, db *gorm.DB, uid string) *models.User {
	t.Helper()
	var u models.User
	require.NoError(t, db.First(&u, "id = ?", uid).Error)
	return &u
}
