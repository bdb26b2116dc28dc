package repository

import (
	"context"
	"errors"
	"testing"

	"quill/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostRepository_CreateCountsAndTags(t *testing.T) {
	db := setupSQLite(t)
	ctx := context.Background()
	alice := seedUser(t, db, "alice")

	seedPost(t, db, alice, "go tips", "go", "tips")
	seedPost(t, db, alice, "more go", "go")

	assert.Equal(t, int64(2), reloadUser(t, db, alice.ID).Stats.PostsCount)

	tags, err := NewTagRepository(db).Trending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "go", tags[0].Name)
	assert.Equal(t, int64(2), tags[0].PostCount)
	assert.Equal(t, "tips", tags[1].Name)
	assert.Equal(t, int64(1), tags[1].PostCount)
}

func TestPostRepository_NextSlug(t *testing.T) {
	db := setupSQLite(t)
	repo := NewPostRepository(db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice")

	slug, err := repo.NextSlug(ctx, "hello-world")
	require.NoError(t, err)
	assert.Equal(t, "hello-world", slug)

	seedPost(t, db, alice, "hello world")
	slug, err = repo.NextSlug(ctx, "hello-world")
	require.NoError(t, err)
	assert.Equal(t, "hello-world-1", slug)

	second := seedPost(t, db, alice, "hello world")
	assert.Equal(t, "hello-world-1", second.SEO.Slug)

	// Soft-deleted posts keep their slug reserved.
	require.NoError(t, repo.SoftDelete(ctx, second))
	slug, err = repo.NextSlug(ctx, "hello-world")
	require.NoError(t, err)
	assert.Equal(t, "hello-world-2", slug)
}

func TestPostRepository_CreateDuplicateSlugIsConflict(t *testing.T) {
	db := setupSQLite(t)
	alice := seedUser(t, db, "alice")
	first := seedPost(t, db, alice, "same")

	dup := *first
	dup.ID = "other-id"
	err := NewPostRepository(db).Create(context.Background(), &dup)
	assert.Equal(t, models.CodeConflict, models.ErrorCode(err))
	assert.Equal(t, int64(1), reloadUser(t, db, alice.ID).Stats.PostsCount)
}

func TestPostRepository_IncrementViews(t *testing.T) {
	db := setupSQLite(t)
	repo := NewPostRepository(db)
	ctx := context.Background()
	p := seedPost(t, db, seedUser(t, db, "alice"), "viewed")

	got, err := repo.IncrementViews(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Stats.Views)
	got, err = repo.IncrementViews(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Stats.Views)

	_, err = repo.IncrementViews(ctx, "missing")
	assert.Equal(t, models.CodeNotFound, models.ErrorCode(err))
}

func TestPostRepository_ListFiltersAndPaginates(t *testing.T) {
	db := setupSQLite(t)
	repo := NewPostRepository(db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	for i := 0; i < 5; i++ {
		seedPost(t, db, alice, "alice post", "go")
	}
	seedPost(t, db, bob, "bob on rust", "rust")
	seedPost(t, db, bob, "bob underscores", "go_lang")

	var seen []string
	cursor := (*Cursor)(nil)
	for {
		page, err := repo.List(ctx, PostQuery{Status: models.PostStatusPublished, AuthorUID: alice.ID, Desc: true, Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		for _, p := range page.Posts {
			seen = append(seen, p.ID)
		}
		if !page.HasMore {
			assert.Empty(t, page.NextCursor)
			break
		}
		cursor, err = DecodeCursor(page.NextCursor)
		require.NoError(t, err)
	}
	assert.Len(t, seen, 5)
	uniq := map[string]bool{}
	for _, id := range seen {
		uniq[id] = true
	}
	assert.Len(t, uniq, 5)

	byTag, err := repo.List(ctx, PostQuery{Tag: "go", Limit: 50})
	require.NoError(t, err)
	assert.Len(t, byTag.Posts, 5, "go must not match go_lang")

	byAny, err := repo.List(ctx, PostQuery{AnyTags: []string{"rust", "go_lang"}, Limit: 50})
	require.NoError(t, err)
	assert.Len(t, byAny.Posts, 2)

	search, err := repo.List(ctx, PostQuery{Search: "RUST", Limit: 1})
	require.NoError(t, err)
	require.Len(t, search.Posts, 1)
	assert.False(t, search.HasMore)
	assert.Equal(t, bob.ID, search.Posts[0].Author.UID)

	byAuthorName, err := repo.List(ctx, PostQuery{Search: "bob example", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, byAuthorName.Posts, 2)
}

func TestPostRepository_ListByViews(t *testing.T) {
	db := setupSQLite(t)
	repo := NewPostRepository(db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice")
	cold := seedPost(t, db, alice, "cold")
	hot := seedPost(t, db, alice, "hot")
	for i := 0; i < 3; i++ {
		_, err := repo.IncrementViews(ctx, hot.ID)
		require.NoError(t, err)
	}

	page, err := repo.List(ctx, PostQuery{OrderBy: PostSortViews, Desc: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, hot.ID, page.Posts[0].ID)
	require.True(t, page.HasMore)

	cur, err := DecodeCursor(page.NextCursor)
	require.NoError(t, err)
	page, err = repo.List(ctx, PostQuery{OrderBy: PostSortViews, Desc: true, Limit: 1, Cursor: cur})
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, cold.ID, page.Posts[0].ID)
	assert.False(t, page.HasMore)
}

func TestPostRepository_FeedIncludesFollowedAndSelf(t *testing.T) {
	db := setupSQLite(t)
	ctx := context.Background()
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	carol := seedUser(t, db, "carol")
	require.NoError(t, NewFollowRepository(db).Follow(ctx, alice.ID, bob.ID))

	seedPost(t, db, alice, "mine")
	seedPost(t, db, bob, "followed")
	seedPost(t, db, carol, "stranger")

	page, err := NewPostRepository(db).List(ctx, PostQuery{FeedOf: alice.ID, Desc: true})
	require.NoError(t, err)
	require.Len(t, page.Posts, 2)
	for _, p := range page.Posts {
		assert.NotEqual(t, carol.ID, p.Author.UID)
	}
}

func TestPostRepository_ListDriverError(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "posts"`).WillReturnError(errors.New("boom"))

	_, err := NewPostRepository(db).List(context.Background(), PostQuery{Status: models.PostStatusPublished})
	assert.Equal(t, models.CodePersistence, models.ErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepository_GetByIDNotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "posts" WHERE id = \$1 AND "posts"."deleted_at" IS NULL`).
		WithArgs("p1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewPostRepository(db).GetByID(context.Background(), "p1")
	assert.Equal(t, models.CodeNotFound, models.ErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
