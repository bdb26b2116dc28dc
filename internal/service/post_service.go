package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quill/internal/cache"
	"quill/internal/events"
	"quill/internal/featureflags"
	"quill/internal/identity"
	"quill/internal/media"
	"quill/internal/models"
	"quill/internal/observability"
	"quill/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	maxTitleLen      = 200
	defaultMaxImages = 10
	slugAttempts     = 5
	defaultPageSize  = 10
	maxPageSize      = 50
	searchPageSize   = 20
	trendingTagsSize = 10
)

// Image modes for UpdatePostInput.
const (
	ImageModeAppend  = "append"
	ImageModeReplace = "replace"
)

var postOrderColumns = map[string]string{
	"createdAt":  repository.PostSortCreatedAt,
	"created_at": repository.PostSortCreatedAt,
	"updatedAt":  repository.PostSortUpdatedAt,
	"updated_at": repository.PostSortUpdatedAt,
	"views":      repository.PostSortViews,
	"likes":      repository.PostSortLikes,
	"comments":   repository.PostSortComments,
}

// PostServiceDeps wires a PostService.
type PostServiceDeps struct {
	Posts     repository.PostRepository
	Reactions repository.ReactionRepository
	Follows   repository.FollowRepository
	Users     repository.UserRepository
	Tags      repository.TagRepository
	Purger    *PurgeService
	Media     MediaStore
	Notifier  Notifier
	Events    events.Publisher
	Flags     *featureflags.Manager
	MaxImages int
}

type PostService struct {
	deadline
	gate      postGate
	posts     repository.PostRepository
	reactions repository.ReactionRepository
	users     repository.UserRepository
	tags      repository.TagRepository
	purger    *PurgeService
	media     MediaStore
	notifier  Notifier
	events    events.Publisher
	flags     *featureflags.Manager
	maxImages int
}

type CreatePostInput struct {
	Title         string
	Content       string
	Tags          []string
	Images        [][]byte
	Status        string
	Visibility    string
	AllowComments *bool
	ScheduledAt   *time.Time
}

// UpdatePostInput changes only the fields that are set. Images are appended
// unless ImageMode is replace; replace with no images clears them.
type UpdatePostInput struct {
	Title         *string
	Content       *string
	Tags          *[]string
	Status        *string
	Visibility    *string
	AllowComments *bool
	Images        [][]byte
	ImageMode     string
}

type ListPostsInput struct {
	Status  string
	Author  string
	Tag     string
	Search  string
	OrderBy string
	Order   string
	Limit   int
	Cursor  string
}

type SearchPostsInput struct {
	Term   string
	Tags   []string
	Limit  int
	Cursor string
}

func NewPostService(deps PostServiceDeps) *PostService {
	if deps.MaxImages <= 0 {
		deps.MaxImages = defaultMaxImages
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	return &PostService{
		gate:      postGate{posts: deps.Posts, follows: deps.Follows},
		posts:     deps.Posts,
		reactions: deps.Reactions,
		users:     deps.Users,
		tags:      deps.Tags,
		purger:    deps.Purger,
		media:     deps.Media,
		notifier:  deps.Notifier,
		events:    deps.Events,
		flags:     deps.Flags,
		maxImages: deps.MaxImages,
	}
}

func utcTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func validateTitle(title string) error {
	if title == "" {
		return models.NewValidationError("Title is required")
	}
	if runeLen(title) > maxTitleLen {
		return models.NewValidationError(fmt.Sprintf("Title too long (max %d characters)", maxTitleLen))
	}
	return nil
}

func validateStatus(status string) error {
	switch status {
	case models.PostStatusDraft, models.PostStatusPublished, models.PostStatusArchived:
		return nil
	}
	return models.NewValidationError("Invalid status: " + status)
}

func validateVisibility(visibility string) error {
	switch visibility {
	case models.VisibilityPublic, models.VisibilityFollowers, models.VisibilityPrivate:
		return nil
	}
	return models.NewValidationError("Invalid visibility: " + visibility)
}

// profile loads the principal's user row. A principal without a profile is
// treated as signed out.
func profile(ctx context.Context, users repository.UserRepository, p identity.Principal) (*models.User, error) {
	user, err := users.GetByID(ctx, p.UID)
	if models.IsCode(err, models.CodeNotFound) {
		return nil, models.NewUnauthenticatedError("User profile not found")
	}
	return user, err
}

func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (post *models.Post, err error) {
	span, ctx := observability.StartSpan(ctx, "posts", "create")
	defer span.Finish(&err)

	p, err := identity.RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, models.NewValidationError("Content is required")
	}
	status := in.Status
	if status == "" {
		status = models.PostStatusPublished
	}
	if err := validateStatus(status); err != nil {
		return nil, err
	}
	visibility := in.Visibility
	if visibility == "" {
		visibility = models.VisibilityPublic
	}
	if err := validateVisibility(visibility); err != nil {
		return nil, err
	}
	if len(in.Images) > s.maxImages {
		return nil, models.NewValidationError(fmt.Sprintf("Too many images (max %d)", s.maxImages))
	}
	allowComments := true
	if in.AllowComments != nil {
		allowComments = *in.AllowComments
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	author, err := profile(ctx, s.users, p)
	if err != nil {
		return nil, err
	}

	urls, err := s.media.Upload(ctx, media.DomainPosts, p.UID, in.Images)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	post = &models.Post{
		ID:            uuid.NewString(),
		Title:         title,
		Content:       content,
		Excerpt:       GenerateExcerpt(content, excerptLen),
		Author:        author.Snapshot(),
		Tags:          models.StringList(ExtractTags(in.Tags)),
		ImageURLs:     models.StringList(urls),
		Status:        status,
		Visibility:    visibility,
		AllowComments: allowComments,
		ReadTime:      CalculateReadTime(content),
		SEO: models.SEO{
			MetaTitle:       title,
			MetaDescription: GenerateExcerpt(content, metaDescLen),
		},
		ScheduledAt:      utcTime(in.ScheduledAt),
		ModerationStatus: "approved",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if post.ImageURLs == nil {
		post.ImageURLs = models.StringList{}
	}

	if err := s.insertWithSlug(ctx, post, Slugify(title)); err != nil {
		s.media.Delete(ctx, urls)
		return nil, err
	}
	span.AddAttributes(attribute.String("post.id", post.ID), attribute.String("post.slug", post.SEO.Slug))

	cache.InvalidateAuthorProfile(ctx, p.UID)
	events.PublishBestEffort(ctx, s.events, events.Event{
		Type:      events.PostCreated,
		ActorID:   p.UID,
		SubjectID: post.ID,
		Data:      map[string]interface{}{"slug": post.SEO.Slug, "status": post.Status},
	})
	return post, nil
}

// insertWithSlug picks the next free slug and inserts. A concurrent writer
// taking the same slug makes Create report CONFLICT, and selection runs again.
func (s *PostService) insertWithSlug(ctx context.Context, post *models.Post, base string) error {
	for attempt := 0; attempt < slugAttempts; attempt++ {
		slug, err := s.posts.NextSlug(ctx, base)
		if err != nil {
			return err
		}
		post.SEO.Slug = slug
		err = s.posts.Create(ctx, post)
		if err == nil {
			return nil
		}
		if !models.IsCode(err, models.CodeConflict) {
			return err
		}
	}
	return models.NewPersistenceError("allocate slug", fmt.Errorf("slug %q still taken after %d attempts", base, slugAttempts))
}

// GetPost returns the post and counts the read, including the author's own.
func (s *PostService) GetPost(ctx context.Context, id string) (*models.PostView, error) {
	return s.read(ctx, func(ctx context.Context) (*models.Post, error) {
		return s.posts.GetByID(ctx, id)
	})
}

// GetPostBySlug is GetPost addressed by permalink.
func (s *PostService) GetPostBySlug(ctx context.Context, slug string) (*models.PostView, error) {
	return s.read(ctx, func(ctx context.Context) (*models.Post, error) {
		return s.posts.GetBySlug(ctx, slug)
	})
}

func (s *PostService) read(ctx context.Context, load func(context.Context) (*models.Post, error)) (*models.PostView, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	viewer, _ := identity.PrincipalFromContext(ctx)
	post, err := load(ctx)
	if err != nil {
		return nil, err
	}
	ok, err := s.gate.canView(ctx, post, viewer.UID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewNotFoundError("Post", post.ID)
	}

	post, err = s.posts.IncrementViews(ctx, post.ID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, post, viewer.UID), nil
}

func (s *PostService) view(ctx context.Context, post *models.Post, viewerUID string) *models.PostView {
	v := &models.PostView{Post: *post}

	if s.flags.Enabled(featureflags.LiveAuthorStats, viewerUID) {
		prof, err := s.authorProfile(ctx, post.Author.UID)
		if err != nil {
			logSideEffect(ctx, "author_profile", err, slog.String("uid", post.Author.UID))
		} else {
			v.AuthorProfile = prof
		}
	}

	if viewerUID != "" {
		liked, err := s.reactions.IsLiked(ctx, post.ID, viewerUID)
		if err != nil {
			logSideEffect(ctx, "liked_lookup", err, slog.String("post_id", post.ID))
		}
		bookmarked, err := s.reactions.IsBookmarked(ctx, post.ID, viewerUID)
		if err != nil {
			logSideEffect(ctx, "bookmarked_lookup", err, slog.String("post_id", post.ID))
		}
		v.Liked, v.Bookmarked = liked, bookmarked
	}
	return v
}

func (s *PostService) authorProfile(ctx context.Context, uid string) (*models.AuthorProfile, error) {
	var prof models.AuthorProfile
	err := cache.Aside(ctx, cache.KeyspaceAuthorProfile, cache.AuthorProfileKey(uid), &prof, cache.AuthorProfileTTL, func() error {
		p, err := s.users.AuthorProfile(ctx, uid)
		if err != nil {
			return err
		}
		prof = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &prof, nil
}

// scope restricts a listing to what the caller may see.
func scope(ctx context.Context, q *repository.PostQuery) {
	q.ReleasedBy = time.Now()
	if p, ok := identity.PrincipalFromContext(ctx); ok {
		q.VisibleTo = p.UID
		return
	}
	q.Visibility = models.VisibilityPublic
}

func pageLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// ListPosts pages posts by status, author, tag, and search term. Listing
// drafts or archived posts is limited to the principal's own.
func (s *PostService) ListPosts(ctx context.Context, in ListPostsInput) (*models.PostPage, error) {
	status := in.Status
	if status == "" {
		status = models.PostStatusPublished
	}
	if err := validateStatus(status); err != nil {
		return nil, err
	}

	orderBy := repository.PostSortCreatedAt
	if in.OrderBy != "" {
		col, ok := postOrderColumns[in.OrderBy]
		if !ok {
			return nil, models.NewValidationError("Invalid order field: " + in.OrderBy)
		}
		orderBy = col
	}
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

	q := repository.PostQuery{
		Status:  status,
		Tag:     strings.ToLower(strings.TrimSpace(in.Tag)),
		Search:  in.Search,
		OrderBy: orderBy,
		Desc:    desc,
		Limit:   pageLimit(in.Limit, defaultPageSize),
		Cursor:  cursor,
	}
	scope(ctx, &q)

	if in.Author != "" {
		author, err := s.users.GetByUsername(ctx, in.Author)
		if models.IsCode(err, models.CodeNotFound) {
			return &models.PostPage{Posts: []models.Post{}}, nil
		}
		if err != nil {
			return nil, err
		}
		q.AuthorUID = author.ID
	}

	if status != models.PostStatusPublished {
		p, err := identity.RequirePrincipal(ctx)
		if err != nil {
			return nil, err
		}
		if q.AuthorUID != "" && q.AuthorUID != p.UID {
			return nil, models.NewForbiddenError("Only your own " + status + " posts can be listed")
		}
		q.AuthorUID = p.UID
	}

	return s.posts.List(ctx, q)
}

// SearchPosts matches published posts on title, content, author name, and
// tags. Tags filter any-of.
func (s *PostService) SearchPosts(ctx context.Context, in SearchPostsInput) (*models.PostPage, error) {
	term := strings.TrimSpace(in.Term)
	tags := ExtractTags(in.Tags)
	if term == "" && len(tags) == 0 {
		return nil, models.NewValidationError("Search query is required")
	}
	cursor, err := repository.DecodeCursor(in.Cursor)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	q := repository.PostQuery{
		Status:  models.PostStatusPublished,
		AnyTags: tags,
		Search:  term,
		OrderBy: repository.PostSortCreatedAt,
		Desc:    true,
		Limit:   pageLimit(in.Limit, searchPageSize),
		Cursor:  cursor,
	}
	scope(ctx, &q)
	return s.posts.List(ctx, q)
}

func (s *PostService) ownedPost(ctx context.Context, id string) (*models.Post, identity.Principal, error) {
	p, err := identity.RequirePrincipal(ctx)
	if err != nil {
		return nil, p, err
	}
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, p, err
	}
	if post.Author.UID != p.UID {
		return nil, p, models.NewForbiddenError("You can only modify your own posts")
	}
	return post, p, nil
}

func (s *PostService) UpdatePost(ctx context.Context, id string, in UpdatePostInput) (updated *models.Post, err error) {
	span, ctx := observability.StartSpan(ctx, "posts", "update", attribute.String("post.id", id))
	defer span.Finish(&err)

	ctx, cancel := s.bound(ctx)
	defer cancel()

	post, p, err := s.ownedPost(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if in.Title != nil {
		title := trimmed(in.Title)
		if err := validateTitle(title); err != nil {
			return nil, err
		}
		fields["title"] = title
		fields["seo_meta_title"] = title
	}
	if in.Content != nil {
		content := trimmed(in.Content)
		if content == "" {
			return nil, models.NewValidationError("Content is required")
		}
		fields["content"] = content
		fields["excerpt"] = GenerateExcerpt(content, excerptLen)
		fields["seo_meta_description"] = GenerateExcerpt(content, metaDescLen)
		fields["read_time"] = CalculateReadTime(content)
	}
	var added []string
	if in.Tags != nil {
		tags := ExtractTags(*in.Tags)
		for _, t := range tags {
			if !post.Tags.Contains(t) {
				added = append(added, t)
			}
		}
		fields["tags"] = models.StringList(tags)
	}
	if in.Status != nil {
		if err := validateStatus(*in.Status); err != nil {
			return nil, err
		}
		fields["status"] = *in.Status
	}
	if in.Visibility != nil {
		if err := validateVisibility(*in.Visibility); err != nil {
			return nil, err
		}
		fields["visibility"] = *in.Visibility
	}
	if in.AllowComments != nil {
		fields["allow_comments"] = *in.AllowComments
	}

	mode := in.ImageMode
	if mode == "" {
		mode = ImageModeAppend
	}
	if mode != ImageModeAppend && mode != ImageModeReplace {
		return nil, models.NewValidationError("Invalid image mode: " + in.ImageMode)
	}
	var fresh, stale []string
	if len(in.Images) > 0 || mode == ImageModeReplace {
		total := len(in.Images)
		if mode == ImageModeAppend {
			total += len(post.ImageURLs)
		}
		if total > s.maxImages {
			return nil, models.NewValidationError(fmt.Sprintf("Too many images (max %d)", s.maxImages))
		}
		fresh, err = s.media.Upload(ctx, media.DomainPosts, p.UID, in.Images)
		if err != nil {
			return nil, err
		}
		urls := make(models.StringList, 0, total)
		if mode == ImageModeReplace {
			stale = post.ImageURLs
		} else {
			urls = append(urls, post.ImageURLs...)
		}
		fields["image_urls"] = append(urls, fresh...)
	}

	if len(fields) == 0 {
		return post, nil
	}
	fields["updated_at"] = time.Now().UTC()

	updated, err = s.posts.Update(ctx, id, fields, added)
	if err != nil {
		s.media.Delete(ctx, fresh)
		return nil, err
	}
	s.media.Delete(ctx, stale)

	events.PublishBestEffort(ctx, s.events, events.Event{
		Type:      events.PostUpdated,
		ActorID:   p.UID,
		SubjectID: id,
	})
	return updated, nil
}

// DeletePost soft-deletes the post and purges its children right away. A
// failed purge stays queued for the sweeper.
func (s *PostService) DeletePost(ctx context.Context, id string) (err error) {
	span, ctx := observability.StartSpan(ctx, "posts", "delete", attribute.String("post.id", id))
	defer span.Finish(&err)

	ctx, cancel := s.bound(ctx)
	defer cancel()

	post, p, err := s.ownedPost(ctx, id)
	if err != nil {
		return err
	}
	if err := s.posts.SoftDelete(ctx, post); err != nil {
		return err
	}

	if s.purger != nil {
		if err := s.purger.PurgeNow(ctx, post.ID); err != nil {
			logSideEffect(ctx, "post_purge", err, slog.String("post_id", post.ID))
		}
	}
	s.media.Delete(ctx, post.ImageURLs)
	cache.InvalidateAuthorProfile(ctx, p.UID)

	events.PublishBestEffort(ctx, s.events, events.Event{
		Type:      events.PostDeleted,
		ActorID:   p.UID,
		SubjectID: post.ID,
	})
	return nil
}

// ToggleLike flips the principal's like. A new like notifies the author
// unless it is their own post.
func (s *PostService) ToggleLike(ctx context.Context, postID string) (*models.ToggleResult, error) {
	p, err := identity.RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.reactions.ToggleLike(ctx, postID, p.UID)
	if err != nil {
		return nil, err
	}
	cache.InvalidateAuthorProfile(ctx, res.AuthorUID)

	if res.Active && res.AuthorUID != p.UID {
		if s.notifier != nil {
			s.notifier.Notify(ctx, &models.Notification{
				UserID:   res.AuthorUID,
				Type:     models.NotificationLike,
				Message:  "liked your post",
				ActorID:  p.UID,
				Metadata: models.JSONMap{"postId": postID},
			})
		}
		events.PublishBestEffort(ctx, s.events, events.Event{
			Type:      events.PostLiked,
			ActorID:   p.UID,
			SubjectID: postID,
		})
	}
	return &res.ToggleResult, nil
}

func (s *PostService) ToggleBookmark(ctx context.Context, postID string) (*models.ToggleResult, error) {
	p, err := identity.RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.reactions.ToggleBookmark(ctx, postID, p.UID)
}

// SharePost counts a share and returns the new total.
func (s *PostService) SharePost(ctx context.Context, postID string) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.posts.IncrementShares(ctx, postID)
}

// TrendingTags returns the most used tags, cached for a few minutes.
func (s *PostService) TrendingTags(ctx context.Context, limit int) ([]models.Tag, error) {
	limit = pageLimit(limit, trendingTagsSize)

	ctx, cancel := s.bound(ctx)
	defer cancel()

	var tags []models.Tag
	err := cache.Aside(ctx, cache.KeyspaceTrendingTags, cache.TrendingTagsKey(limit), &tags, cache.TrendingTagsTTL, func() error {
		var err error
		tags, err = s.tags.Trending(ctx, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []models.Tag{}
	}
	return tags, nil
}
