package identity

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"quill/internal/observability"
)

// Mailer delivers account emails.
type Mailer interface {
	SendVerification(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// LogMailer writes the links it would send to the log.
type LogMailer struct {
	BaseURL string
}

func (m LogMailer) link(path, token string) string {
	return strings.TrimRight(m.BaseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

func (m LogMailer) SendVerification(ctx context.Context, email, token string) error {
	observability.GlobalLogger.InfoContext(ctx, "verification email",
		slog.String("to", email),
		slog.String("link", m.link("/verify-email", token)),
	)
	return nil
}

func (m LogMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	observability.GlobalLogger.InfoContext(ctx, "password reset email",
		slog.String("to", email),
		slog.String("link", m.link("/reset-password", token)),
	)
	return nil
}
