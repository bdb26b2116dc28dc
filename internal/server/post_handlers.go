package server

import (
	"strconv"
	"strings"
	"time"

	"quill/internal/models"
	"quill/internal/service"

	"github.com/gofiber/fiber/v2"
)

// createPostRequest accepts JSON, where images are base64 strings, or a
// multipart form with files under "images".
type createPostRequest struct {
	Title         string     `json:"title" form:"title"`
	Content       string     `json:"content" form:"content"`
	Tags          []string   `json:"tags" form:"tags"`
	Status        string     `json:"status" form:"status"`
	Visibility    string     `json:"visibility" form:"visibility"`
	AllowComments *bool      `json:"allow_comments" form:"allow_comments"`
	ScheduledAt   *time.Time `json:"scheduled_at" form:"-"`
	Images        [][]byte   `json:"images" form:"-"`
}

type updatePostRequest struct {
	Title         *string   `json:"title"`
	Content       *string   `json:"content"`
	Tags          *[]string `json:"tags"`
	Status        *string   `json:"status"`
	Visibility    *string   `json:"visibility"`
	AllowComments *bool     `json:"allow_comments"`
	Images        [][]byte  `json:"images"`
	ImageMode     string    `json:"image_mode"`
}

// CreatePost handles POST /api/posts
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req createPostRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	files, err := formFiles(c, "images")
	if err != nil {
		return respondError(c, err)
	}

	post, err := s.posts.CreatePost(c.UserContext(), service.CreatePostInput{
		Title:         req.Title,
		Content:       req.Content,
		Tags:          req.Tags,
		Images:        append(req.Images, files...),
		Status:        req.Status,
		Visibility:    req.Visibility,
		AllowComments: req.AllowComments,
		ScheduledAt:   req.ScheduledAt,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// updateFromForm reads a multipart update. Only the keys present are changed.
func updateFromForm(c *fiber.Ctx) (service.UpdatePostInput, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return service.UpdatePostInput{}, models.NewValidationError("Invalid multipart form")
	}
	in := service.UpdatePostInput{
		Title:      formValue(form, "title"),
		Content:    formValue(form, "content"),
		Status:     formValue(form, "status"),
		Visibility: formValue(form, "visibility"),
	}
	if tags, ok := form.Value["tags"]; ok {
		in.Tags = &tags
	}
	if raw := formValue(form, "allow_comments"); raw != nil {
		allow, err := strconv.ParseBool(*raw)
		if err != nil {
			return in, models.NewValidationError("allow_comments must be a boolean")
		}
		in.AllowComments = &allow
	}
	if mode := formValue(form, "image_mode"); mode != nil {
		in.ImageMode = *mode
	}
	if in.Images, err = formFiles(c, "images"); err != nil {
		return in, err
	}
	return in, nil
}

// UpdatePost handles PUT /api/posts/:id
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	var in service.UpdatePostInput
	if isMultipart(c) {
		var err error
		if in, err = updateFromForm(c); err != nil {
			return respondError(c, err)
		}
	} else {
		var req updatePostRequest
		if err := bind(c, &req); err != nil {
			return respondError(c, err)
		}
		in = service.UpdatePostInput{
			Title:         req.Title,
			Content:       req.Content,
			Tags:          req.Tags,
			Status:        req.Status,
			Visibility:    req.Visibility,
			AllowComments: req.AllowComments,
			Images:        req.Images,
			ImageMode:     req.ImageMode,
		}
	}

	post, err := s.posts.UpdatePost(c.UserContext(), c.Params("id"), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// DeletePost handles DELETE /api/posts/:id
func (s *Server) DeletePost(c *fiber.Ctx) error {
	if err := s.posts.DeletePost(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetPost handles GET /api/posts/:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	post, err := s.posts.GetPost(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// GetPostBySlug handles GET /api/posts/slug/:slug
func (s *Server) GetPostBySlug(c *fiber.Ctx) error {
	post, err := s.posts.GetPostBySlug(c.UserContext(), c.Params("slug"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// ListPosts handles GET /api/posts
func (s *Server) ListPosts(c *fiber.Ctx) error {
	limit, cursor := page(c)
	result, err := s.posts.ListPosts(c.UserContext(), service.ListPostsInput{
		Status:  c.Query("status"),
		Author:  c.Query("author"),
		Tag:     c.Query("tag"),
		Search:  c.Query("q"),
		OrderBy: c.Query("order_by"),
		Order:   c.Query("order"),
		Limit:   limit,
		Cursor:  cursor,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// SearchPosts handles GET /api/posts/search?q=...&tags=a,b
func (s *Server) SearchPosts(c *fiber.Ctx) error {
	limit, cursor := page(c)
	result, err := s.posts.SearchPosts(c.UserContext(), service.SearchPostsInput{
		Term:   strings.TrimSpace(c.Query("q")),
		Tags:   splitList(c.Query("tags")),
		Limit:  limit,
		Cursor: cursor,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// ToggleLike handles POST /api/posts/:id/like
func (s *Server) ToggleLike(c *fiber.Ctx) error {
	res, err := s.posts.ToggleLike(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"liked": res.Active, "likes": res.Count})
}

// ToggleBookmark handles POST /api/posts/:id/bookmark
func (s *Server) ToggleBookmark(c *fiber.Ctx) error {
	res, err := s.posts.ToggleBookmark(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"bookmarked": res.Active, "bookmarks": res.Count})
}

// SharePost handles POST /api/posts/:id/share
func (s *Server) SharePost(c *fiber.Ctx) error {
	shares, err := s.posts.SharePost(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"shares": shares})
}

// TrendingTags handles GET /api/tags/trending
func (s *Server) TrendingTags(c *fiber.Ctx) error {
	tags, err := s.posts.TrendingTags(c.UserContext(), c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"tags": tags})
}
