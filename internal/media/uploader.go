package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quill/internal/models"
	"quill/internal/observability"
)

// Upload domains.
const (
	DomainPosts   = "posts"
	DomainAvatars = "avatars"
)

// Options bound what Upload accepts.
type Options struct {
	MaxBytes     int64
	MaxDimension int
	WebPQuality  int
	// MaxPixels caps width*height, checked from the header before decoding.
	MaxPixels int64
}

// Uploader normalizes blobs and writes them to a Store.
type Uploader struct {
	store Store
	opts  Options
	now   func() time.Time
}

func NewUploader(store Store, opts Options) *Uploader {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 << 20
	}
	if opts.WebPQuality <= 0 {
		opts.WebPQuality = 82
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	return &Uploader{store: store, opts: opts, now: time.Now}
}

// Upload stores each blob under {domain}/{ownerID}/{unixMillis}_{index} and
// returns the public URLs in input order. Blobs already written are removed
// again when a later one fails.
func (u *Uploader) Upload(ctx context.Context, domain, ownerID string, blobs [][]byte) ([]string, error) {
	if len(blobs) == 0 {
		return nil, nil
	}
	for i, b := range blobs {
		if len(b) == 0 {
			return nil, models.NewValidationError(fmt.Sprintf("file %d is empty", i))
		}
		if int64(len(b)) > u.opts.MaxBytes {
			return nil, models.NewValidationError(fmt.Sprintf("file %d is too large (max %dMB)", i, u.opts.MaxBytes>>20))
		}
	}

	stamp := u.now().UnixMilli()
	urls := make([]string, 0, len(blobs))
	for i, b := range blobs {
		img, err := Normalize(b, NormalizeOptions{
			MaxDimension: u.opts.MaxDimension,
			MaxPixels:    u.opts.MaxPixels,
			Quality:      u.opts.WebPQuality,
		})
		if err != nil {
			u.Delete(ctx, urls)
			var bad errNotImage
			var huge errTooManyPixels
			if errors.As(err, &bad) || errors.As(err, &huge) {
				return nil, models.NewValidationError(fmt.Sprintf("file %d: %s", i, err.Error()))
			}
			return nil, models.NewPersistenceError("encode image", err)
		}

		key := fmt.Sprintf("%s/%s/%d_%d", domain, ownerID, stamp, i)
		if err := u.store.Put(ctx, key, img.ContentType, img.Data); err != nil {
			u.Delete(ctx, urls)
			return nil, models.NewPersistenceError("upload media", err)
		}
		observability.MediaUploadBytes.WithLabelValues(domain).Observe(float64(len(img.Data)))
		urls = append(urls, PublicURL(u.store, key))
	}
	return urls, nil
}

// Delete removes the objects behind urls. URLs outside the store are
// skipped and failures are only logged.
func (u *Uploader) Delete(ctx context.Context, urls []string) {
	for _, raw := range urls {
		key, ok := KeyFromURL(u.store, raw)
		if !ok {
			continue
		}
		if err := u.store.Remove(ctx, key); err != nil {
			observability.RecordSideEffectFailure("media_delete")
			observability.GlobalLogger.WarnContext(ctx, "failed to delete media object",
				slog.String("key", key), slog.String("error", err.Error()))
		}
	}
}
