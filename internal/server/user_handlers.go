package server

import (
	"encoding/base64"
	"strings"

	"quill/internal/models"
	"quill/internal/service"

	"github.com/gofiber/fiber/v2"
)

type profileRequest struct {
	FullName    *string             `json:"full_name"`
	Bio         *string             `json:"bio"`
	PhotoURL    *string             `json:"photo_url"`
	SocialLinks *models.SocialLinks `json:"social_links"`
	Preferences *models.Preferences `json:"preferences"`
}

// GetMe handles GET /api/users/me
func (s *Server) GetMe(c *fiber.Ctx) error {
	user, err := s.users.Me(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}

// UpdateMe handles PUT /api/users/me
func (s *Server) UpdateMe(c *fiber.Ctx) error {
	var req profileRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	user, err := s.users.UpdateProfile(c.UserContext(), service.UpdateProfileInput{
		FullName:    req.FullName,
		Bio:         req.Bio,
		PhotoURL:    req.PhotoURL,
		SocialLinks: req.SocialLinks,
		Preferences: req.Preferences,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}

// UpdateAvatar handles PUT /api/users/me/avatar with either a multipart
// "avatar" file or a JSON body {"image": "<base64>"}.
func (s *Server) UpdateAvatar(c *fiber.Ctx) error {
	var image []byte
	if isMultipart(c) {
		files, err := formFiles(c, "avatar")
		if err != nil {
			return respondError(c, err)
		}
		if len(files) > 0 {
			image = files[0]
		}
	} else {
		var req struct {
			Image string `json:"image"`
		}
		if err := bind(c, &req); err != nil {
			return respondError(c, err)
		}
		raw := req.Image
		if i := strings.Index(raw, ";base64,"); i >= 0 {
			raw = raw[i+len(";base64,"):]
		}
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return respondError(c, models.NewValidationError("image must be base64 encoded"))
		}
		image = decoded
	}

	user, err := s.users.UpdateAvatar(c.UserContext(), image)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}

// TouchActivity handles POST /api/users/me/activity
func (s *Server) TouchActivity(c *fiber.Ctx) error {
	if err := s.users.TouchActivity(c.UserContext()); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetBookmarks handles GET /api/users/me/bookmarks
func (s *Server) GetBookmarks(c *fiber.Ctx) error {
	limit, cursor := page(c)
	result, err := s.users.Bookmarks(c.UserContext(), limit, cursor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// GetFeed handles GET /api/users/me/feed
func (s *Server) GetFeed(c *fiber.Ctx) error {
	limit, cursor := page(c)
	result, err := s.users.Feed(c.UserContext(), limit, cursor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// GetProfile handles GET /api/users/by-username/:username
func (s *Server) GetProfile(c *fiber.Ctx) error {
	profile, err := s.users.GetProfile(c.UserContext(), c.Params("username"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(profile)
}

// GetUser handles GET /api/users/:uid
func (s *Server) GetUser(c *fiber.Ctx) error {
	user, err := s.users.GetUser(c.UserContext(), c.Params("uid"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}

// SearchUsers handles GET /api/users/search?q=
func (s *Server) SearchUsers(c *fiber.Ctx) error {
	users, err := s.users.SearchUsers(c.UserContext(), c.Query("q"), c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"users": users})
}

// SuggestedUsers handles GET /api/users/suggested
func (s *Server) SuggestedUsers(c *fiber.Ctx) error {
	users, err := s.users.SuggestedUsers(c.UserContext(), c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"users": users})
}

// FollowUser handles POST /api/users/:uid/follow
func (s *Server) FollowUser(c *fiber.Ctx) error {
	if err := s.follows.FollowUser(c.UserContext(), c.Params("uid")); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"following": true})
}

// UnfollowUser handles DELETE /api/users/:uid/follow
func (s *Server) UnfollowUser(c *fiber.Ctx) error {
	if err := s.follows.UnfollowUser(c.UserContext(), c.Params("uid")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"following": false})
}

// GetFollowers handles GET /api/users/:uid/followers
func (s *Server) GetFollowers(c *fiber.Ctx) error {
	limit, cursor := page(c)
	result, err := s.follows.Followers(c.UserContext(), c.Params("uid"), limit, cursor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// GetFollowing handles GET /api/users/:uid/following
func (s *Server) GetFollowing(c *fiber.Ctx) error {
	limit, cursor := page(c)
	result, err := s.follows.Following(c.UserContext(), c.Params("uid"), limit, cursor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// GetMutual handles GET /api/users/:uid/mutual: accounts both the caller
// and :uid follow.
func (s *Server) GetMutual(c *fiber.Ctx) error {
	users, err := s.follows.Mutual(c.UserContext(), principalID(c), c.Params("uid"), c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"users": users})
}
