package database

import (
	"testing"

	"quill/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestSchemaPolicy(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		env     string
		wantSQL bool
		wantAut bool
		wantErr bool
	}{
		{"hybrid in development", "hybrid", "development", true, true, false},
		{"hybrid in production", "hybrid", "production", true, false, false},
		{"empty mode defaults to hybrid", "", "development", true, true, false},
		{"sql only", "sql", "development", true, false, false},
		{"auto in development", "auto", "development", false, true, false},
		{"auto refused in staging", "auto", "staging", false, false, true},
		{"unknown mode", "yolo", "development", false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{DBSchemaMode: tt.mode, Env: tt.env}
			runSQL, runAuto, err := schemaPolicy(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, runSQL)
			assert.Equal(t, tt.wantAut, runAuto)
		})
	}
}

func TestAutoMigrate_CreatesEveryTable(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, AutoMigrate(db))

	for _, table := range []string{
		"users", "usernames", "posts", "post_purges", "comments",
		"likes", "bookmarks", "follows", "tags", "notifications",
	} {
		assert.True(t, db.Migrator().HasTable(table), "missing table %s", table)
	}
	assert.True(t, db.Migrator().HasColumn("posts", "seo_slug"))
	assert.True(t, db.Migrator().HasColumn("posts", "stats_views"))
	assert.True(t, db.Migrator().HasColumn("users", "social_github"))
	assert.True(t, db.Migrator().HasColumn("posts", "image_urls"))
}

func TestConnectionStrings(t *testing.T) {
	cfg := &config.Config{
		DBHost:     "db",
		DBPort:     "5432",
		DBUser:     "quill",
		DBPassword: "p@ss word",
		DBName:     "quill",
	}

	assert.Equal(t, "host=db port=5432 user=quill password=p@ss word dbname=quill sslmode=disable TimeZone=UTC", DSN(cfg))
	assert.Equal(t, "pgx5://quill:p%40ss%20word@db:5432/quill?sslmode=disable", MigrationURL(cfg))
}
