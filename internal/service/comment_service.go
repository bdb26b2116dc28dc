package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quill/internal/events"
	"quill/internal/identity"
	"quill/internal/models"
	"quill/internal/repository"

	"github.com/google/uuid"
)

const (
	maxCommentLen    = 2000
	commentsPageSize = 20
)

type CommentService struct {
	deadline
	gate     postGate
	comments repository.CommentRepository
	posts    repository.PostRepository
	users    repository.UserRepository
	notifier Notifier
	events   events.Publisher
}

type CreateCommentInput struct {
	PostID   string
	Content  string
	ParentID string
}

type ListCommentsInput struct {
	PostID string
	Order  string
	Limit  int
	Cursor string
}

func NewCommentService(
	comments repository.CommentRepository,
	posts repository.PostRepository,
	follows repository.FollowRepository,
	users repository.UserRepository,
	notifier Notifier,
	publisher events.Publisher,
) *CommentService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &CommentService{
		gate:     postGate{posts: posts, follows: follows},
		comments: comments,
		posts:    posts,
		users:    users,
		notifier: notifier,
		events:   publisher,
	}
}

func validateComment(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", models.NewValidationError("Content is required")
	}
	if runeLen(content) > maxCommentLen {
		return "", models.NewValidationError(fmt.Sprintf("Comment too long (max %d characters)", maxCommentLen))
	}
	return content, nil
}

// AddComment comments on a post. A reply to a reply is attached to the
// top-level comment, so threads are one level deep.
func (s *CommentService) AddComment(ctx context.Context, in CreateCommentInput) (*models.Comment, error) {
	p, err := identity.RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	content, err := validateComment(in.Content)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	author, err := profile(ctx, s.users, p)
	if err != nil {
		return nil, err
	}
	post, err := s.gate.visiblePost(ctx, in.PostID)
	if err != nil {
		return nil, err
	}
	if !post.AllowComments {
		return nil, models.NewForbiddenError("Comments are disabled for this post")
	}

	var parent *models.Comment
	if in.ParentID != "" {
		parent, err = s.comments.GetByID(ctx, in.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.PostID != post.ID {
			return nil, models.NewValidationError("Parent comment belongs to another post")
		}
		if parent.ParentID != nil {
			parent, err = s.comments.GetByID(ctx, *parent.ParentID)
			if err != nil {
				return nil, err
			}
		}
	}

	now := time.Now().UTC()
	comment := &models.Comment{
		ID:        uuid.NewString(),
		PostID:    post.ID,
		Content:   content,
		Author:    author.Snapshot(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if parent != nil {
		comment.ParentID = &parent.ID
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, err
	}

	s.notifyComment(ctx, p, post, parent, comment)
	events.PublishBestEffort(ctx, s.events, events.Event{
		Type:      events.CommentCreated,
		ActorID:   p.UID,
		SubjectID: post.ID,
		Data:      map[string]interface{}{"commentId": comment.ID},
	})
	return comment, nil
}

func (s *CommentService) notifyComment(ctx context.Context, p identity.Principal, post *models.Post, parent *models.Comment, c *models.Comment) {
	if s.notifier == nil {
		return
	}
	n := &models.Notification{
		UserID:   post.Author.UID,
		Type:     models.NotificationComment,
		Message:  "commented on your post",
		ActorID:  p.UID,
		Metadata: models.JSONMap{"postId": post.ID, "commentId": c.ID},
	}
	if parent != nil {
		n.UserID = parent.Author.UID
		n.Type = models.NotificationReply
		n.Message = "replied to your comment"
	}
	if n.UserID == p.UID {
		return
	}
	s.notifier.Notify(ctx, n)
}

// GetComments pages top-level comments and loads the replies of the page in
// one query, oldest reply first.
func (s *CommentService) GetComments(ctx context.Context, in ListCommentsInput) (*models.CommentPage, error) {
	desc := true
	switch strings.ToLower(in.Order) {
	case "", "desc":
	case "asc":
		desc = false
	default:
		return nil, models.NewValidationError("Invalid order direction: " + in.Order)
	}
	cursor, err := repository.DecodeCursor(in.Cursor)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if _, err := s.gate.visiblePost(ctx, in.PostID); err != nil {
		return nil, err
	}

	top, next, err := s.comments.ListTopLevel(ctx, in.PostID, desc, pageLimit(in.Limit, commentsPageSize), cursor)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(top))
	for _, c := range top {
		ids = append(ids, c.ID)
	}
	replies, err := s.comments.ListReplies(ctx, ids)
	if err != nil {
		return nil, err
	}
	byParent := make(map[string][]models.Comment, len(top))
	for _, r := range replies {
		if r.ParentID != nil {
			byParent[*r.ParentID] = append(byParent[*r.ParentID], r)
		}
	}

	page := &models.CommentPage{
		Comments:   make([]models.CommentThread, 0, len(top)),
		NextCursor: next,
		HasMore:    next != "",
	}
	for _, c := range top {
		thread := models.CommentThread{Comment: c, Replies: byParent[c.ID]}
		if thread.Replies == nil {
			thread.Replies = []models.Comment{}
		}
		page.Comments = append(page.Comments, thread)
	}
	return page, nil
}

func (s *CommentService) UpdateComment(ctx context.Context, id, content string) (*models.Comment, error) {
	p, err := identity.RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	content, err = validateComment(content)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	comment, err := s.comments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if comment.Author.UID != p.UID {
		return nil, models.NewForbiddenError("You can only edit your own comments")
	}
	return s.comments.UpdateContent(ctx, id, content)
}

// DeleteComment removes a comment and its replies. The comment author and
// the post author may delete.
func (s *CommentService) DeleteComment(ctx context.Context, id string) error {
	p, err := identity.RequirePrincipal(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	comment, err := s.comments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if comment.Author.UID != p.UID {
		post, err := s.posts.GetByID(ctx, comment.PostID)
		if err != nil {
			return err
		}
		if post.Author.UID != p.UID {
			return models.NewForbiddenError("You can only delete your own comments")
		}
	}
	_, err = s.comments.Delete(ctx, comment)
	return err
}
