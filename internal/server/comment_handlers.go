package server

import (
	"quill/internal/service"

	"github.com/gofiber/fiber/v2"
)

type commentRequest struct {
	Content  string `json:"content"`
	ParentID string `json:"parent_id"`
}

// AddComment handles POST /api/posts/:id/comments
func (s *Server) AddComment(c *fiber.Ctx) error {
	var req commentRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	comment, err := s.comments.AddComment(c.UserContext(), service.CreateCommentInput{
		PostID:   c.Params("id"),
		Content:  req.Content,
		ParentID: req.ParentID,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(comment)
}

// GetComments handles GET /api/posts/:id/comments
func (s *Server) GetComments(c *fiber.Ctx) error {
	limit, cursor := page(c)
	result, err := s.comments.GetComments(c.UserContext(), service.ListCommentsInput{
		PostID: c.Params("id"),
		Order:  c.Query("order"),
		Limit:  limit,
		Cursor: cursor,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// UpdateComment handles PUT /api/comments/:id
func (s *Server) UpdateComment(c *fiber.Ctx) error {
	var req commentRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	comment, err := s.comments.UpdateComment(c.UserContext(), c.Params("id"), req.Content)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(comment)
}

// DeleteComment handles DELETE /api/comments/:id
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	if err := s.comments.DeleteComment(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
