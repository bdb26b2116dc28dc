package service

import (
	"context"
	"time"

	"quill/internal/identity"
	"quill/internal/models"
	"quill/internal/repository"
)

// postGate decides which posts a viewer may read. A post the viewer may not
// see answers NOT_FOUND everywhere it is addressed by id.
type postGate struct {
	posts   repository.PostRepository
	follows repository.FollowRepository
}

// canView hides drafts, private posts, and posts scheduled for later from
// everyone but the author, and followers-only posts from accounts that do
// not follow the author.
func (g postGate) canView(ctx context.Context, post *models.Post, viewerUID string) (bool, error) {
	if viewerUID != "" && post.Author.UID == viewerUID {
		return true, nil
	}
	if post.Status == models.PostStatusDraft {
		return false, nil
	}
	if post.ScheduledAt != nil && post.ScheduledAt.After(time.Now()) {
		return false, nil
	}
	switch post.Visibility {
	case models.VisibilityPrivate:
		return false, nil
	case models.VisibilityFollowers:
		if viewerUID == "" {
			return false, nil
		}
		return g.follows.IsFollowing(ctx, viewerUID, post.Author.UID)
	}
	return true, nil
}

// visiblePost loads a live post the context's principal may read.
func (g postGate) visiblePost(ctx context.Context, id string) (*models.Post, error) {
	post, err := g.posts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	viewer, _ := identity.PrincipalFromContext(ctx)
	ok, err := g.canView(ctx, post, viewer.UID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewNotFoundError("Post", id)
	}
	return post, nil
}

// visiblePosts drops the posts viewerUID may not read, keeping order.
func (g postGate) visiblePosts(ctx context.Context, posts []models.Post, viewerUID string) ([]models.Post, error) {
	out := make([]models.Post, 0, len(posts))
	for i := range posts {
		ok, err := g.canView(ctx, &posts[i], viewerUID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, posts[i])
		}
	}
	return out, nil
}
