package server

import (
	"strings"

	"quill/internal/identity"
	"quill/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Register handles POST /api/auth/register
func (s *Server) Register(c *fiber.Ctx) error {
	var req identity.RegisterInput
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	session, err := s.identity.Register(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

// Login handles POST /api/auth/login
func (s *Server) Login(c *fiber.Ctx) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	session, err := s.identity.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(session)
}

// Logout handles POST /api/auth/logout
func (s *Server) Logout(c *fiber.Ctx) error {
	token, _ := c.Locals("token").(string)
	if err := s.identity.Logout(c.UserContext(), token); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UsernameAvailable handles GET /api/auth/username-available?username=
func (s *Server) UsernameAvailable(c *fiber.Ctx) error {
	username := strings.TrimSpace(c.Query("username"))
	if username == "" {
		return respondError(c, models.NewValidationError("username is required"))
	}
	ok, err := s.identity.UsernameAvailable(c.UserContext(), username)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"username": username, "available": ok})
}

// BeginOAuth handles GET /api/auth/oauth/:provider and returns the provider's
// authorization URL.
func (s *Server) BeginOAuth(c *fiber.Ctx) error {
	url, err := s.identity.BeginOAuth(c.UserContext(), c.Params("provider"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"url": url})
}

// CompleteOAuth handles GET /api/auth/oauth/:provider/callback
func (s *Server) CompleteOAuth(c *fiber.Ctx) error {
	if msg := c.Query("error"); msg != "" {
		return respondError(c, models.NewUnauthenticatedError("Sign-in was cancelled: "+msg))
	}
	session, err := s.identity.CompleteOAuth(c.UserContext(), c.Params("provider"), c.Query("state"), c.Query("code"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(session)
}

// ForgotPassword handles POST /api/auth/password/forgot. It answers the
// same way whether or not the email is registered.
func (s *Server) ForgotPassword(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := s.identity.RequestPasswordReset(c.UserContext(), req.Email); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "If the address is registered, a reset link is on its way",
	})
}

// ResetPassword handles POST /api/auth/password/reset
func (s *Server) ResetPassword(c *fiber.Ctx) error {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := s.identity.ResetPassword(c.UserContext(), req.Token, req.Password); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ChangePassword handles PUT /api/auth/password
func (s *Server) ChangePassword(c *fiber.Ctx) error {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := s.identity.ChangePassword(c.UserContext(), req.CurrentPassword, req.NewPassword); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RequestEmailVerification handles POST /api/auth/verify-email/request
func (s *Server) RequestEmailVerification(c *fiber.Ctx) error {
	if err := s.identity.RequestEmailVerification(c.UserContext()); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// VerifyEmail handles POST /api/auth/verify-email
func (s *Server) VerifyEmail(c *fiber.Ctx) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := s.identity.VerifyEmail(c.UserContext(), req.Token); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetFeatureFlags returns configured feature flags and their state for the caller.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"raw":       s.featureFlags.Raw(),
		"evaluated": s.featureFlags.Snapshot(principalID(c)),
	})
}
