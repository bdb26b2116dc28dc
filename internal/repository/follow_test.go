package repository

import (
	"context"
	"testing"

	"quill/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollowRepository_FollowUnfollowCounters(t *testing.T) {
	db := setupSQLite(t)
	repo := NewFollowRepository(db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	require.NoError(t, repo.Follow(ctx, alice.ID, bob.ID))
	assert.Equal(t, int64(1), reloadUser(t, db, alice.ID).Stats.FollowingCount)
	assert.Equal(t, int64(1), reloadUser(t, db, bob.ID).Stats.FollowersCount)

	ok, err := repo.IsFollowing(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	err = repo.Follow(ctx, alice.ID, bob.ID)
	assert.Equal(t, models.CodeConflict, models.ErrorCode(err))
	assert.Equal(t, int64(1), reloadUser(t, db, bob.ID).Stats.FollowersCount)

	require.NoError(t, repo.Unfollow(ctx, alice.ID, bob.ID))
	assert.Equal(t, int64(0), reloadUser(t, db, alice.ID).Stats.FollowingCount)
	assert.Equal(t, int64(0), reloadUser(t, db, bob.ID).Stats.FollowersCount)

	err = repo.Unfollow(ctx, alice.ID, bob.ID)
	assert.Equal(t, models.CodeNotFound, models.ErrorCode(err))
}

func TestFollowRepository_PagesAndMutual(t *testing.T) {
	db := setupSQLite(t)
	repo := NewFollowRepository(db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	others := []*models.User{seedUser(t, db, "carol"), seedUser(t, db, "dave"), seedUser(t, db, "erin")}

	for _, u := range others {
		require.NoError(t, repo.Follow(ctx, alice.ID, u.ID))
		require.NoError(t, repo.Follow(ctx, u.ID, alice.ID))
	}
	require.NoError(t, repo.Follow(ctx, bob.ID, others[0].ID))
	require.NoError(t, repo.Follow(ctx, bob.ID, others[2].ID))

	following, next, err := repo.Following(ctx, alice.ID, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{others[2].ID, others[1].ID}, following)
	require.NotEmpty(t, next)

	cur, err := DecodeCursor(next)
	require.NoError(t, err)
	following, next, err = repo.Following(ctx, alice.ID, 2, cur)
	require.NoError(t, err)
	assert.Equal(t, []string{others[0].ID}, following)
	assert.Empty(t, next)

	followers, _, err := repo.Followers(ctx, alice.ID, 10, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{others[0].ID, others[1].ID, others[2].ID}, followers)

	mutual, err := repo.Mutual(ctx, alice.ID, bob.ID, 3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{others[0].ID, others[2].ID}, mutual)

	mutual, err = repo.Mutual(ctx, alice.ID, bob.ID, 1)
	require.NoError(t, err)
	assert.Len(t, mutual, 1)
}
