package service

import (
	"context"
	"testing"

	"quill/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationService_CreateAndRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.notifications.Create(ctx, &models.Notification{
		UserID:  f.alice.ID,
		ActorID: f.bob.ID,
		Type:    models.NotificationFollow,
		Message: "started following you",
	}))
	assert.Equal(t, 1, f.realtime.count(f.alice.ID))

	f.notifications.Notify(ctx, &models.Notification{Type: models.NotificationLike})
	assert.Equal(t, 1, f.realtime.count(f.alice.ID))

	post := f.createPost(t, f.alice, CreatePostInput{Title: "Liked"})
	_, err := f.posts.ToggleLike(as(f.bob), post.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.realtime.count(f.alice.ID))

	count, err := f.notifications.UnreadCount(as(f.alice))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	page, err := f.notifications.List(as(f.alice), true, 10, "")
	require.NoError(t, err)
	require.Len(t, page.Notifications, 2)
	assert.False(t, page.HasMore)
	newest := page.Notifications[0]
	assert.Equal(t, models.NotificationLike, newest.Type)
	require.NotNil(t, newest.Actor)
	assert.Equal(t, "bob", newest.Actor.Username)

	assert.True(t, models.IsCode(f.notifications.MarkAsRead(as(f.bob), newest.ID), models.CodeForbidden))
	assert.True(t, models.IsCode(f.notifications.MarkAsRead(as(f.alice), "missing"), models.CodeNotFound))
	require.NoError(t, f.notifications.MarkAsRead(as(f.alice), newest.ID))
	require.NoError(t, f.notifications.MarkAsRead(as(f.alice), newest.ID))

	unread, err := f.notifications.List(as(f.alice), true, 10, "")
	require.NoError(t, err)
	require.Len(t, unread.Notifications, 1)
	assert.Equal(t, models.NotificationFollow, unread.Notifications[0].Type)

	changed, err := f.notifications.MarkAllAsRead(as(f.alice))
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	count, err = f.notifications.UnreadCount(as(f.alice))
	require.NoError(t, err)
	assert.Zero(t, count)

	all, err := f.notifications.List(as(f.alice), false, 10, "")
	require.NoError(t, err)
	assert.Len(t, all.Notifications, 2)
}

func TestNotificationService_Paging(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.notifications.Create(context.Background(), &models.Notification{
			UserID:  f.alice.ID,
			ActorID: f.bob.ID,
			Type:    models.NotificationComment,
			Message: "commented on your post",
		}))
	}

	first, err := f.notifications.List(as(f.alice), false, 3, "")
	require.NoError(t, err)
	require.Len(t, first.Notifications, 3)
	require.True(t, first.HasMore)

	second, err := f.notifications.List(as(f.alice), false, 3, first.NextCursor)
	require.NoError(t, err)
	assert.Len(t, second.Notifications, 2)
	assert.False(t, second.HasMore)

	seen := map[string]bool{}
	for _, n := range append(first.Notifications, second.Notifications...) {
		assert.False(t, seen[n.ID], "duplicate %s", n.ID)
		seen[n.ID] = true
	}

	_, err = f.notifications.List(as(f.alice), false, 3, "%%%")
	assert.True(t, models.IsCode(err, models.CodeValidation))
	_, err = f.notifications.List(context.Background(), false, 3, "")
	assert.True(t, models.IsCode(err, models.CodeUnauthenticated))
}

func TestNotificationService_SkipsPushToOfflineUsers(t *testing.T) {
	f := newFixture(t)
	f.notifications.SetPresence(staticPresence{f.alice.ID: true})
	ctx := context.Background()

	for _, uid := range []string{f.alice.ID, f.bob.ID} {
		require.NoError(t, f.notifications.Create(ctx, &models.Notification{
			UserID:  uid,
			Type:    models.NotificationFollow,
			Message: "started following you",
		}))
	}

	assert.Equal(t, 1, f.realtime.count(f.alice.ID))
	assert.Zero(t, f.realtime.count(f.bob.ID))

	n, err := f.notifications.UnreadCount(as(f.bob))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "offline users still get the stored notification")
}
