package repository

import (
	"context"
	"strconv"
	"strings"
	"time"

	"quill/internal/models"
	"quill/internal/observability"

	"gorm.io/gorm"
)

// Sortable post columns.
const (
	PostSortCreatedAt = "created_at"
	PostSortUpdatedAt = "updated_at"
	PostSortViews     = "stats_views"
	PostSortLikes     = "stats_likes"
	PostSortComments  = "stats_comments"
)

var postSortKinds = map[string]sortKind{
	PostSortCreatedAt: sortTime,
	PostSortUpdatedAt: sortTime,
	PostSortViews:     sortInt,
	PostSortLikes:     sortInt,
	PostSortComments:  sortInt,
}

// PostQuery filters and orders a post listing.
type PostQuery struct {
	Status     string
	Visibility string
	AuthorUID  string
	// FeedOf lists posts by the accounts uid follows and by uid itself.
	FeedOf string
	// VisibleTo restricts private posts to their author and followers-only
	// posts to the author and their followers.
	VisibleTo string
	// ReleasedBy, when set, hides posts scheduled after it unless VisibleTo
	// wrote them.
	ReleasedBy time.Time
	Tag        string
	AnyTags    []string
	Search     string
	OrderBy    string
	Desc       bool
	Limit      int
	Cursor     *Cursor
}

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	NextSlug(ctx context.Context, base string) (string, error)
	GetByID(ctx context.Context, id string) (*models.Post, error)
	GetByIDs(ctx context.Context, ids []string) ([]models.Post, error)
	GetBySlug(ctx context.Context, slug string) (*models.Post, error)
	IncrementViews(ctx context.Context, id string) (*models.Post, error)
	IncrementShares(ctx context.Context, id string) (int64, error)
	List(ctx context.Context, q PostQuery) (*models.PostPage, error)
	Update(ctx context.Context, id string, fields map[string]interface{}, addedTags []string) (*models.Post, error)
	SoftDelete(ctx context.Context, post *models.Post) error
}

// postRepository implements PostRepository
type postRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db, log: observability.NewRepoLogger("posts")}
}

// Create inserts the post, bumps the author's post count, and aggregates its
// tags in one transaction. A taken slug surfaces as CONFLICT.
func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	defer observability.TrackQuery("create", "posts")()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(post).Error; err != nil {
			if isUniqueConstraintError(err) {
				return models.NewConflictError("slug " + post.SEO.Slug + " is taken")
			}
			return err
		}
		if err := tx.Model(&models.User{}).Where("id = ?", post.Author.UID).
			UpdateColumn("stats_posts_count", gorm.Expr("stats_posts_count + 1")).Error; err != nil {
			return err
		}
		return bumpTags(tx, post.Tags, post.CreatedAt)
	})
	if err != nil {
		if !models.IsCode(err, models.CodeConflict) {
			r.log.LogError(ctx, err, "create")
		}
		return translate(err, "create post", "Post", post.ID)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"id": post.ID, "slug": post.SEO.Slug})
	return nil
}

// NextSlug returns base, or base-N with the smallest free N. Soft-deleted
// posts still hold their slugs.
func (r *postRepository) NextSlug(ctx context.Context, base string) (string, error) {
	var taken []string
	err := r.db.WithContext(ctx).Unscoped().Model(&models.Post{}).
		Where("seo_slug = ? OR seo_slug LIKE ? ESCAPE ?", base, strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(base)+"-%", likeEscape).
		Pluck("seo_slug", &taken).Error
	if err != nil {
		return "", models.NewPersistenceError("check slug", err)
	}

	used := make(map[string]struct{}, len(taken))
	for _, s := range taken {
		used[s] = struct{}{}
	}
	candidate := base
	for i := 1; ; i++ {
		if _, ok := used[candidate]; !ok {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(i)
	}
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		return nil, translate(err, "load post", "Post", id)
	}
	return &post, nil
}

// GetByIDs returns live posts in the order of ids. Missing ids are skipped.
func (r *postRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Post, error) {
	if len(ids) == 0 {
		return []models.Post{}, nil
	}
	var posts []models.Post
	if err := readDB(r.db).WithContext(ctx).Where("id IN ?", ids).Find(&posts).Error; err != nil {
		return nil, models.NewPersistenceError("load posts", err)
	}
	byID := make(map[string]models.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}
	out := make([]models.Post, 0, len(posts))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *postRepository) GetBySlug(ctx context.Context, slug string) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).First(&post, "seo_slug = ?", slug).Error; err != nil {
		return nil, translate(err, "load post", "Post", slug)
	}
	return &post, nil
}

// IncrementViews bumps the view counter and returns the post as stored
// afterwards.
func (r *postRepository) IncrementViews(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Post{}).Where("id = ?", id).
			UpdateColumn("stats_views", gorm.Expr("stats_views + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.First(&post, "id = ?", id).Error
	})
	if err != nil {
		return nil, translate(err, "increment views", "Post", id)
	}
	return &post, nil
}

func (r *postRepository) IncrementShares(ctx context.Context, id string) (int64, error) {
	var post models.Post
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Post{}).Where("id = ?", id).
			UpdateColumn("stats_shares", gorm.Expr("stats_shares + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Select("id", "stats_shares").First(&post, "id = ?", id).Error
	})
	if err != nil {
		return 0, translate(err, "share post", "Post", id)
	}
	return post.Stats.Shares, nil
}

// List runs a keyset-paginated listing. One extra row is fetched to tell
// whether another page exists.
func (r *postRepository) List(ctx context.Context, pq PostQuery) (*models.PostPage, error) {
	defer observability.TrackQuery("list", "posts")()

	kind, ok := postSortKinds[pq.OrderBy]
	if !ok {
		pq.OrderBy, kind = PostSortCreatedAt, sortTime
	}
	limit := clampLimit(pq.Limit, 10, 50)

	db := readDB(r.db).WithContext(ctx)
	q := db.Model(&models.Post{})
	if pq.Status != "" {
		q = q.Where("status = ?", pq.Status)
	}
	if pq.Visibility != "" {
		q = q.Where("visibility = ?", pq.Visibility)
	}
	if pq.AuthorUID != "" {
		q = q.Where("author_uid = ?", pq.AuthorUID)
	}
	if pq.FeedOf != "" {
		following := db.Model(&models.Follow{}).Select("following_id").Where("follower_id = ?", pq.FeedOf)
		q = q.Where("(author_uid IN (?) OR author_uid = ?)", following, pq.FeedOf)
	}
	if pq.VisibleTo != "" {
		following := db.Model(&models.Follow{}).Select("following_id").Where("follower_id = ?", pq.VisibleTo)
		q = q.Where("(visibility = ? OR author_uid = ? OR (visibility = ? AND author_uid IN (?)))",
			models.VisibilityPublic, pq.VisibleTo, models.VisibilityFollowers, following)
	}
	if !pq.ReleasedBy.IsZero() {
		q = q.Where("(scheduled_at IS NULL OR scheduled_at <= ? OR author_uid = ?)", pq.ReleasedBy.UTC(), pq.VisibleTo)
	}
	if pq.Tag != "" {
		q = q.Where("tags LIKE ? ESCAPE ?", tagPattern(pq.Tag), likeEscape)
	}
	if len(pq.AnyTags) > 0 {
		clauses := make([]string, 0, len(pq.AnyTags))
		args := make([]interface{}, 0, 2*len(pq.AnyTags))
		for _, t := range pq.AnyTags {
			clauses = append(clauses, "tags LIKE ? ESCAPE ?")
			args = append(args, tagPattern(t), likeEscape)
		}
		q = q.Where("("+strings.Join(clauses, " OR ")+")", args...)
	}
	if term := strings.TrimSpace(pq.Search); term != "" {
		p := likePattern(term)
		q = q.Where("(LOWER(title) LIKE ? ESCAPE ? OR LOWER(content) LIKE ? ESCAPE ? OR LOWER(author_full_name) LIKE ? ESCAPE ? OR LOWER(tags) LIKE ? ESCAPE ?)",
			p, likeEscape, p, likeEscape, p, likeEscape, p, likeEscape)
	}

	q, err := keyset(q, pq.OrderBy, "id", kind, pq.Desc, pq.Cursor)
	if err != nil {
		return nil, err
	}

	var posts []models.Post
	if err := q.Limit(limit + 1).Find(&posts).Error; err != nil {
		return nil, models.NewPersistenceError("list posts", err)
	}

	page := &models.PostPage{Posts: posts}
	if len(posts) > limit {
		page.Posts = posts[:limit]
		page.HasMore = true
		last := page.Posts[limit-1]
		page.NextCursor = postCursor(&last, pq.OrderBy)
	}
	if page.Posts == nil {
		page.Posts = []models.Post{}
	}
	return page, nil
}

// tagPattern matches one element of the JSON tag array.
func tagPattern(tag string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `"`, ``)
	return `%"` + r.Replace(strings.ToLower(tag)) + `"%`
}

func postCursor(p *models.Post, col string) string {
	switch col {
	case PostSortUpdatedAt:
		return timeCursor(p.UpdatedAt, p.ID)
	case PostSortViews:
		return EncodeCursor(strconv.FormatInt(p.Stats.Views, 10), p.ID)
	case PostSortLikes:
		return EncodeCursor(strconv.FormatInt(p.Stats.Likes, 10), p.ID)
	case PostSortComments:
		return EncodeCursor(strconv.FormatInt(p.Stats.Comments, 10), p.ID)
	default:
		return timeCursor(p.CreatedAt, p.ID)
	}
}

// Update applies fields and aggregates tags newly added to the post.
func (r *postRepository) Update(ctx context.Context, id string, fields map[string]interface{}, addedTags []string) (*models.Post, error) {
	var post models.Post
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(fields) > 0 {
			res := tx.Model(&models.Post{}).Where("id = ?", id).Updates(fields)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
		}
		if err := bumpTags(tx, addedTags, time.Now().UTC()); err != nil {
			return err
		}
		return tx.First(&post, "id = ?", id).Error
	})
	if err != nil {
		r.log.LogError(ctx, err, "update")
		return nil, translate(err, "update post", "Post", id)
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"id": id})
	return &post, nil
}

// SoftDelete hides the post, decrements the author's post count, and queues
// the purge of its children, all in one transaction.
func (r *postRepository) SoftDelete(ctx context.Context, post *models.Post) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", post.ID).Delete(&models.Post{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Model(&models.User{}).
			Where("id = ? AND stats_posts_count > 0", post.Author.UID).
			UpdateColumn("stats_posts_count", gorm.Expr("stats_posts_count - 1")).Error; err != nil {
			return err
		}
		return tx.Create(&models.PostPurge{PostID: post.ID}).Error
	})
	if err != nil {
		r.log.LogError(ctx, err, "soft_delete")
		return translate(err, "delete post", "Post", post.ID)
	}
	r.log.LogDelete(ctx, map[string]interface{}{"id": post.ID, "mode": "soft"})
	return nil
}
