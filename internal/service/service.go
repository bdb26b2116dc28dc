// Package service holds the business operations behind the HTTP API. Each
// service resolves the principal from the context, validates input, and
// delegates persistence to the repository layer.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"quill/internal/models"
	"quill/internal/observability"
)

// DefaultOperationTimeout bounds a service call when none is configured.
const DefaultOperationTimeout = 10 * time.Second

// MediaStore uploads and removes user media.
type MediaStore interface {
	Upload(ctx context.Context, domain, ownerID string, blobs [][]byte) ([]string, error)
	Delete(ctx context.Context, urls []string)
}

// Realtime pushes frames to a user's live connections.
type Realtime interface {
	PushUser(ctx context.Context, userID, kind string, payload interface{}) error
}

// Presence reports whether a user holds a live notification socket.
type Presence interface {
	IsOnline(ctx context.Context, userID string) bool
}

// Notifier records notifications on behalf of other services. Failures are
// swallowed by the implementation.
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification)
}

type deadline struct {
	timeout time.Duration
}

// SetTimeout overrides the per-operation timeout.
func (d *deadline) SetTimeout(timeout time.Duration) {
	d.timeout = timeout
}

func (d *deadline) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithTimeout(ctx, DefaultOperationTimeout)
	}
	return context.WithTimeout(ctx, d.timeout)
}

func logSideEffect(ctx context.Context, effect string, err error, attrs ...any) {
	observability.RecordSideEffectFailure(effect)
	attrs = append(attrs, slog.String("effect", effect), slog.String("error", err.Error()))
	observability.GlobalLogger.WarnContext(ctx, "side effect failed", attrs...)
}

func runeLen(s string) int {
	return len([]rune(s))
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
