// Package bootstrap connects the backing stores shared by the binaries.
package bootstrap

import (
	"fmt"

	"quill/internal/cache"
	"quill/internal/config"
	"quill/internal/database"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SkipSchema leaves the schema alone, for tools that manage it themselves.
	SkipSchema bool
}

// InitRuntime connects to the database and Redis and brings the schema up to
// date. The Redis client is nil when Redis is not configured or unreachable.
func InitRuntime(cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	if !opts.SkipSchema {
		if err := database.ApplySchema(db, cfg); err != nil {
			closeDB(db)
			return nil, nil, fmt.Errorf("schema setup failed: %w", err)
		}
	}

	var r *redis.Client
	if cfg.RedisURL != "" {
		r = cache.InitRedis(cfg.RedisURL)
	}
	return db, r, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
