// Package media stores user-uploaded images in object storage and hands out
// their public URLs.
package media

import (
	"context"
	"fmt"
	"strings"

	"quill/internal/config"
)

// Store is an object store addressed by key.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Remove(ctx context.Context, key string) error
	// BaseURL is the public prefix of every stored object, without a trailing slash.
	BaseURL() string
}

// PublicURL joins the store's base URL and key.
func PublicURL(s Store, key string) string {
	return s.BaseURL() + "/" + strings.TrimPrefix(key, "/")
}

// KeyFromURL returns the object key of a URL served by s. ok is false for
// URLs that point elsewhere.
func KeyFromURL(s Store, rawURL string) (key string, ok bool) {
	prefix := s.BaseURL() + "/"
	if !strings.HasPrefix(rawURL, prefix) {
		return "", false
	}
	key = strings.TrimPrefix(rawURL, prefix)
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	return key, key != ""
}

// NewStore builds the store selected by STORAGE_DRIVER.
func NewStore(cfg *config.Config) (Store, error) {
	switch cfg.StorageDriver {
	case "minio":
		return NewMinioStore(MinioConfig{
			Endpoint:  cfg.StorageEndpoint,
			AccessKey: cfg.StorageAccessKey,
			SecretKey: cfg.StorageSecretKey,
			Bucket:    cfg.StorageBucket,
			UseSSL:    cfg.StorageUseSSL,
			PublicURL: cfg.StoragePublicURL,
		})
	case "oss":
		return NewOSSStore(OSSConfig{
			Endpoint:        cfg.StorageEndpoint,
			AccessKeyID:     cfg.StorageAccessKey,
			AccessKeySecret: cfg.StorageSecretKey,
			Bucket:          cfg.StorageBucket,
			PublicURL:       cfg.StoragePublicURL,
		})
	case "memory":
		return NewMemoryStore(cfg.StoragePublicURL), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
