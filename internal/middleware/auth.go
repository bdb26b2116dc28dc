// Package middleware provides authentication, logging, tracing, and rate
// limiting for the HTTP layer.
package middleware

import (
	"context"
	"strings"

	"quill/internal/identity"
	"quill/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Authenticator resolves a bearer token into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (identity.Principal, error)
}

// bearerToken reads "Authorization: Bearer <token>", falling back to the
// token query parameter used by websocket clients.
func bearerToken(c *fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
		Error: message,
		Code:  models.CodeUnauthenticated,
	})
}

// attach stores p in the fiber locals and in the request context.
func attach(c *fiber.Ctx, p identity.Principal) {
	c.Locals("userID", p.UID)
	c.Locals("username", p.Username)
	ctx := identity.WithPrincipal(c.UserContext(), p)
	c.SetUserContext(WithUserID(ctx, p.UID))
}

// AuthRequired rejects requests without a valid token.
func AuthRequired(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return unauthorized(c, "Authorization required")
		}
		p, err := auth.Authenticate(c.UserContext(), token)
		if err != nil {
			msg := "Invalid or expired token"
			if models.IsCode(err, models.CodeUnauthenticated) {
				msg = err.Error()
			}
			return unauthorized(c, msg)
		}
		c.Locals("token", token)
		attach(c, p)
		return c.Next()
	}
}

// OptionalAuth attaches the principal when a valid token is present and
// otherwise lets the request through anonymously.
func OptionalAuth(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token := bearerToken(c); token != "" {
			if p, err := auth.Authenticate(c.UserContext(), token); err == nil {
				attach(c, p)
			}
		}
		return c.Next()
	}
}
