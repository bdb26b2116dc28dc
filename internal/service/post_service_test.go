package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"quill/internal/cache"
	"quill/internal/models"
	"quill/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostService_HelloWorldScenario(t *testing.T) {
	f := newFixture(t)

	post := f.createPost(t, f.alice, CreatePostInput{
		Title:   "Hello World",
		Content: "<p>My first post on quill.</p>",
		Tags:    []string{"Intro", "hello"},
	})
	assert.Equal(t, "hello-world", post.SEO.Slug)
	assert.Equal(t, "My first post on quill.", post.Excerpt)
	assert.Equal(t, []string{"intro", "hello"}, []string(post.Tags))
	assert.Equal(t, models.PostStatusPublished, post.Status)
	assert.Equal(t, models.VisibilityPublic, post.Visibility)
	assert.True(t, post.AllowComments)
	assert.Equal(t, 1, post.ReadTime)
	assert.Equal(t, "alice", post.Author.Username)
	assert.Equal(t, int64(1), testutil.ReloadUser(t, f.db, f.alice.ID).Stats.PostsCount)

	view, err := f.posts.GetPost(as(f.bob), post.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), view.Stats.Views)
	assert.False(t, view.Liked)
	require.NotNil(t, view.AuthorProfile)
	assert.Equal(t, int64(1), view.AuthorProfile.Stats.PostsCount)

	liked, err := f.posts.ToggleLike(as(f.bob), post.ID)
	require.NoError(t, err)
	assert.True(t, liked.Active)
	assert.Equal(t, int64(1), liked.Count)
	assert.Equal(t, int64(1), f.count(t, &models.Like{}, "id = ?", post.ID+"_"+f.bob.ID))
	assert.Equal(t, int64(1), testutil.ReloadUser(t, f.db, f.alice.ID).Stats.LikesReceived)

	notes := f.notificationsOf(t, f.alice)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationLike, notes[0].Type)
	assert.Equal(t, f.bob.ID, notes[0].ActorID)
	require.NotNil(t, notes[0].Actor)
	assert.Equal(t, "bob", notes[0].Actor.Username)
	assert.Equal(t, 1, f.realtime.count(f.alice.ID))

	view, err = f.posts.GetPost(as(f.bob), post.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), view.Stats.Views)
	assert.True(t, view.Liked)

	unliked, err := f.posts.ToggleLike(as(f.bob), post.ID)
	require.NoError(t, err)
	assert.False(t, unliked.Active)
	assert.Equal(t, int64(0), unliked.Count)
	assert.Equal(t, int64(0), f.count(t, &models.Like{}, "post_id = ?", post.ID))
	assert.Equal(t, int64(0), testutil.ReloadUser(t, f.db, f.alice.ID).Stats.LikesReceived)
}

func TestPostService_CreateRequiresPrincipalAndProfile(t *testing.T) {
	f := newFixture(t)

	_, err := f.posts.CreatePost(context.Background(), CreatePostInput{Title: "t", Content: "c"})
	assert.True(t, models.IsCode(err, models.CodeUnauthenticated))

	ghost := &models.User{ID: "no-such-user", Username: "ghost"}
	_, err = f.posts.CreatePost(as(ghost), CreatePostInput{Title: "t", Content: "c"})
	assert.True(t, models.IsCode(err, models.CodeUnauthenticated))
}

func TestPostService_CreateValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		in   CreatePostInput
	}{
		{"empty title", CreatePostInput{Title: "  ", Content: "c"}},
		{"long title", CreatePostInput{Title: strings.Repeat("t", 201), Content: "c"}},
		{"empty content", CreatePostInput{Title: "t", Content: " "}},
		{"bad status", CreatePostInput{Title: "t", Content: "c", Status: "deleted"}},
		{"bad visibility", CreatePostInput{Title: "t", Content: "c", Visibility: "secret"}},
		{"too many images", CreatePostInput{Title: "t", Content: "c", Images: make([][]byte, 4)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.posts.CreatePost(as(f.alice), tt.in)
			assert.True(t, models.IsCode(err, models.CodeValidation), "got %v", err)
		})
	}
	assert.Equal(t, int64(0), f.count(t, &models.Post{}, "1 = 1"))
}

func TestPostService_IdenticalTitlesGetDistinctSlugs(t *testing.T) {
	f := newFixture(t)

	first := f.createPost(t, f.alice, CreatePostInput{Title: "Same Title"})
	second := f.createPost(t, f.bob, CreatePostInput{Title: "Same Title"})
	third := f.createPost(t, f.alice, CreatePostInput{Title: "same   title!"})

	assert.Equal(t, "same-title", first.SEO.Slug)
	assert.Equal(t, "same-title-1", second.SEO.Slug)
	assert.Equal(t, "same-title-2", third.SEO.Slug)

	view, err := f.posts.GetPostBySlug(context.Background(), "same-title-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, view.ID)
}

func TestPostService_ImagesAreUploadedAndNormalized(t *testing.T) {
	f := newFixture(t)

	post := f.createPost(t, f.alice, CreatePostInput{
		Title:  "With pictures",
		Images: [][]byte{pngBytes(t, 32, 32), pngBytes(t, 256, 128)},
	})
	require.Len(t, post.ImageURLs, 2)
	for _, u := range post.ImageURLs {
		assert.True(t, strings.HasPrefix(u, testMediaBase+"/posts/"+f.alice.ID+"/"), u)
	}
	assert.Len(t, f.store.Keys(), 2)

	_, err := f.posts.CreatePost(as(f.alice), CreatePostInput{
		Title:   "Not a picture",
		Content: "c",
		Images:  [][]byte{[]byte("plain text")},
	})
	assert.True(t, models.IsCode(err, models.CodeValidation))
	assert.Len(t, f.store.Keys(), 2)
}

func TestPostService_Visibility(t *testing.T) {
	f := newFixture(t)

	public := f.createPost(t, f.alice, CreatePostInput{Title: "Public"})
	followers := f.createPost(t, f.alice, CreatePostInput{Title: "Friends", Visibility: models.VisibilityFollowers})
	private := f.createPost(t, f.alice, CreatePostInput{Title: "Diary", Visibility: models.VisibilityPrivate})
	draft := f.createPost(t, f.alice, CreatePostInput{Title: "WIP", Status: models.PostStatusDraft})

	for _, id := range []string{followers.ID, private.ID, draft.ID} {
		_, err := f.posts.GetPost(as(f.bob), id)
		assert.True(t, models.IsCode(err, models.CodeNotFound), "post %s", id)
		_, err = f.posts.GetPost(as(f.alice), id)
		assert.NoError(t, err)
	}

	page, err := f.posts.ListPosts(context.Background(), ListPostsInput{})
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, public.ID, page.Posts[0].ID)

	require.NoError(t, f.follows.FollowUser(as(f.bob), f.alice.ID))
	_, err = f.posts.GetPost(as(f.bob), followers.ID)
	assert.NoError(t, err)

	page, err = f.posts.ListPosts(as(f.bob), ListPostsInput{})
	require.NoError(t, err)
	assert.Len(t, page.Posts, 2)

	page, err = f.posts.ListPosts(as(f.alice), ListPostsInput{})
	require.NoError(t, err)
	assert.Len(t, page.Posts, 3)

	_, err = f.posts.ListPosts(context.Background(), ListPostsInput{Status: models.PostStatusDraft})
	assert.True(t, models.IsCode(err, models.CodeUnauthenticated))
	_, err = f.posts.ListPosts(as(f.bob), ListPostsInput{Status: models.PostStatusDraft, Author: "alice"})
	assert.True(t, models.IsCode(err, models.CodeForbidden))
	drafts, err := f.posts.ListPosts(as(f.alice), ListPostsInput{Status: models.PostStatusDraft})
	require.NoError(t, err)
	require.Len(t, drafts.Posts, 1)
	assert.Equal(t, draft.ID, drafts.Posts[0].ID)
}

func TestPostService_ListPaginationAndFilters(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		f.createPost(t, f.alice, CreatePostInput{Title: "Alice post", Tags: []string{"go"}})
	}
	f.createPost(t, f.bob, CreatePostInput{Title: "Bob on Rust", Tags: []string{"rust"}})

	page, err := f.posts.ListPosts(context.Background(), ListPostsInput{Limit: 4})
	require.NoError(t, err)
	assert.Len(t, page.Posts, 4)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextCursor)

	rest, err := f.posts.ListPosts(context.Background(), ListPostsInput{Limit: 4, Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.Len(t, rest.Posts, 2)
	assert.False(t, rest.HasMore)

	seen := map[string]bool{}
	for _, p := range append(page.Posts, rest.Posts...) {
		assert.False(t, seen[p.ID], "duplicate %s", p.ID)
		seen[p.ID] = true
	}

	byAuthor, err := f.posts.ListPosts(context.Background(), ListPostsInput{Author: "BOB"})
	require.NoError(t, err)
	require.Len(t, byAuthor.Posts, 1)

	byTag, err := f.posts.ListPosts(context.Background(), ListPostsInput{Tag: "go", Limit: 50})
	require.NoError(t, err)
	assert.Len(t, byTag.Posts, 5)

	unknown, err := f.posts.ListPosts(context.Background(), ListPostsInput{Author: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, unknown.Posts)

	_, err = f.posts.ListPosts(context.Background(), ListPostsInput{OrderBy: "title"})
	assert.True(t, models.IsCode(err, models.CodeValidation))
	_, err = f.posts.ListPosts(context.Background(), ListPostsInput{Cursor: "%%%"})
	assert.True(t, models.IsCode(err, models.CodeValidation))

	found, err := f.posts.SearchPosts(context.Background(), SearchPostsInput{Term: "rust"})
	require.NoError(t, err)
	require.Len(t, found.Posts, 1)
	assert.Equal(t, "Bob on Rust", found.Posts[0].Title)

	byTags, err := f.posts.SearchPosts(context.Background(), SearchPostsInput{Tags: []string{"rust", "go"}})
	require.NoError(t, err)
	assert.Len(t, byTags.Posts, 6)

	_, err = f.posts.SearchPosts(context.Background(), SearchPostsInput{})
	assert.True(t, models.IsCode(err, models.CodeValidation))
}

func TestPostService_Update(t *testing.T) {
	f := newFixture(t)

	post := f.createPost(t, f.alice, CreatePostInput{
		Title:  "Original",
		Tags:   []string{"one"},
		Images: [][]byte{pngBytes(t, 8, 8)},
	})
	oldImage := post.ImageURLs[0]

	_, err := f.posts.UpdatePost(as(f.bob), post.ID, UpdatePostInput{Title: ptr("Hijacked")})
	assert.True(t, models.IsCode(err, models.CodeForbidden))
	_, err = f.posts.UpdatePost(as(f.alice), "missing", UpdatePostInput{Title: ptr("x")})
	assert.True(t, models.IsCode(err, models.CodeNotFound))

	content := strings.Repeat("word ", 450)
	updated, err := f.posts.UpdatePost(as(f.alice), post.ID, UpdatePostInput{
		Title:     ptr("Renamed"),
		Content:   &content,
		Tags:      &[]string{"one", "two"},
		Images:    [][]byte{pngBytes(t, 16, 16)},
		ImageMode: ImageModeReplace,
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, "Renamed", updated.SEO.MetaTitle)
	assert.Equal(t, "original", updated.SEO.Slug)
	assert.Equal(t, 3, updated.ReadTime)
	assert.LessOrEqual(t, len(updated.Excerpt), 200)
	assert.Equal(t, []string{"one", "two"}, []string(updated.Tags))
	require.Len(t, updated.ImageURLs, 1)
	assert.NotEqual(t, oldImage, updated.ImageURLs[0])
	assert.Len(t, f.store.Keys(), 1)

	var two models.Tag
	require.NoError(t, f.db.First(&two, "name = ?", "two").Error)
	assert.Equal(t, int64(1), two.PostCount)
	var one models.Tag
	require.NoError(t, f.db.First(&one, "name = ?", "one").Error)
	assert.Equal(t, int64(1), one.PostCount)

	appended, err := f.posts.UpdatePost(as(f.alice), post.ID, UpdatePostInput{Images: [][]byte{pngBytes(t, 4, 4)}})
	require.NoError(t, err)
	assert.Len(t, appended.ImageURLs, 2)

	_, err = f.posts.UpdatePost(as(f.alice), post.ID, UpdatePostInput{Images: [][]byte{pngBytes(t, 4, 4), pngBytes(t, 4, 4)}})
	assert.True(t, models.IsCode(err, models.CodeValidation))

	_, err = f.posts.UpdatePost(as(f.alice), post.ID, UpdatePostInput{ImageMode: "merge"})
	assert.True(t, models.IsCode(err, models.CodeValidation))
}

func TestPostService_DeleteLeavesNoOrphans(t *testing.T) {
	f := newFixture(t)

	post := f.createPost(t, f.alice, CreatePostInput{Title: "Doomed", Images: [][]byte{pngBytes(t, 8, 8)}})
	keep := f.createPost(t, f.alice, CreatePostInput{Title: "Survivor"})

	c, err := f.comments.AddComment(as(f.bob), CreateCommentInput{PostID: post.ID, Content: "first"})
	require.NoError(t, err)
	_, err = f.comments.AddComment(as(f.alice), CreateCommentInput{PostID: post.ID, Content: "reply", ParentID: c.ID})
	require.NoError(t, err)
	_, err = f.comments.AddComment(as(f.bob), CreateCommentInput{PostID: keep.ID, Content: "elsewhere"})
	require.NoError(t, err)
	_, err = f.posts.ToggleLike(as(f.bob), post.ID)
	require.NoError(t, err)
	_, err = f.posts.ToggleBookmark(as(f.bob), post.ID)
	require.NoError(t, err)

	assert.True(t, models.IsCode(f.posts.DeletePost(as(f.bob), post.ID), models.CodeForbidden))
	require.NoError(t, f.posts.DeletePost(as(f.alice), post.ID))

	for _, model := range []interface{}{&models.Comment{}, &models.Like{}, &models.Bookmark{}} {
		assert.Equal(t, int64(0), f.count(t, model, "post_id = ?", post.ID))
	}
	assert.Equal(t, int64(1), f.count(t, &models.Comment{}, "post_id = ?", keep.ID))

	report, err := f.purges.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Before.Total())
	assert.Zero(t, report.After.Total())

	_, err = f.posts.GetPost(context.Background(), post.ID)
	assert.True(t, models.IsCode(err, models.CodeNotFound))
	assert.Equal(t, int64(1), testutil.ReloadUser(t, f.db, f.alice.ID).Stats.PostsCount)
	assert.Empty(t, f.store.Keys())

	var purge models.PostPurge
	require.NoError(t, f.db.First(&purge, "post_id = ?", post.ID).Error)
	assert.NotNil(t, purge.CompletedAt)
}

func TestPostService_ToggleBookmarkAndShare(t *testing.T) {
	f := newFixture(t)
	post := f.createPost(t, f.alice, CreatePostInput{Title: "Keeper"})

	on, err := f.posts.ToggleBookmark(as(f.bob), post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ToggleResult{Active: true, Count: 1}, *on)

	page, err := f.users.Bookmarks(as(f.bob), 10, "")
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, post.ID, page.Posts[0].ID)

	off, err := f.posts.ToggleBookmark(as(f.bob), post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ToggleResult{Active: false, Count: 0}, *off)

	_, err = f.posts.ToggleBookmark(as(f.bob), "missing")
	assert.True(t, models.IsCode(err, models.CodeNotFound))
	_, err = f.posts.ToggleLike(context.Background(), post.ID)
	assert.True(t, models.IsCode(err, models.CodeUnauthenticated))

	shares, err := f.posts.SharePost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), shares)
}

func TestPostService_SelfLikeDoesNotNotify(t *testing.T) {
	f := newFixture(t)
	post := f.createPost(t, f.alice, CreatePostInput{Title: "Mine"})

	_, err := f.posts.ToggleLike(as(f.alice), post.ID)
	require.NoError(t, err)
	assert.Empty(t, f.notificationsOf(t, f.alice))
}

func TestPostService_AuthorProfileFollowsFlag(t *testing.T) {
	f := newFixtureWithFlags(t, "live_author_stats=off")
	post := f.createPost(t, f.alice, CreatePostInput{Title: "Flagged"})

	view, err := f.posts.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Nil(t, view.AuthorProfile)
	assert.Equal(t, "alice", view.Author.Username)
}

func TestPostService_TrendingTagsAreCached(t *testing.T) {
	mr := miniredis.RunT(t)
	cache.SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { cache.SetClient(nil) })

	f := newFixture(t)
	f.createPost(t, f.alice, CreatePostInput{Title: "A", Tags: []string{"go", "web"}})
	f.createPost(t, f.bob, CreatePostInput{Title: "B", Tags: []string{"go"}})

	tags, err := f.posts.TrendingTags(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "go", tags[0].Name)
	assert.Equal(t, int64(2), tags[0].PostCount)
	assert.True(t, mr.Exists(cache.TrendingTagsKey(10)))

	f.createPost(t, f.bob, CreatePostInput{Title: "C", Tags: []string{"rust"}})
	cached, err := f.posts.TrendingTags(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, cached, 2)

	mr.FlushAll()
	fresh, err := f.posts.TrendingTags(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, fresh, 3)
}

func TestPostService_ScheduledPostsWaitForTheirTime(t *testing.T) {
	f := newFixture(t)
	later := time.Now().Add(time.Hour)
	earlier := time.Now().Add(-time.Hour)

	pending := f.createPost(t, f.alice, CreatePostInput{Title: "Tomorrow", ScheduledAt: &later})
	released := f.createPost(t, f.alice, CreatePostInput{Title: "Yesterday", ScheduledAt: &earlier})

	_, err := f.posts.GetPost(as(f.bob), pending.ID)
	assert.True(t, models.IsCode(err, models.CodeNotFound), "got %v", err)
	_, err = f.posts.GetPost(as(f.alice), pending.ID)
	assert.NoError(t, err)
	_, err = f.posts.GetPost(as(f.bob), released.ID)
	assert.NoError(t, err)

	page, err := f.posts.ListPosts(context.Background(), ListPostsInput{})
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, released.ID, page.Posts[0].ID)

	page, err = f.posts.ListPosts(as(f.alice), ListPostsInput{})
	require.NoError(t, err)
	assert.Len(t, page.Posts, 2)
}
