package repository

import (
	"context"
	"testing"

	"quill/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationRepository_Lifecycle(t *testing.T) {
	db := setupSQLite(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		n := &models.Notification{ID: uuid.NewString(), UserID: "bob", Type: models.NotificationFollow, ActorID: "alice",
			Metadata: models.JSONMap{"userId": "alice"}}
		require.NoError(t, repo.Create(ctx, n))
		ids = append(ids, n.ID)
	}
	require.NoError(t, repo.Create(ctx, &models.Notification{ID: uuid.NewString(), UserID: "carol", Type: models.NotificationLike}))

	count, err := repo.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	require.NoError(t, repo.MarkRead(ctx, ids[0]))
	unread, next, err := repo.List(ctx, "bob", true, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, next)
	assert.Len(t, unread, 2)
	assert.Equal(t, ids[2], unread[0].ID)
	assert.Equal(t, "alice", unread[0].Metadata["userId"])

	updated, err := repo.MarkAllRead(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	count, err = repo.UnreadCount(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	err = repo.MarkRead(ctx, "missing")
	assert.Equal(t, models.CodeNotFound, models.ErrorCode(err))
}
