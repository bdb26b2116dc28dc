package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quill/internal/models"
	"quill/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyPurges fails the first n purges and passes everything else through.
type flakyPurges struct {
	repository.PurgeRepository
	mu       sync.Mutex
	failures int
}

func (p *flakyPurges) Purge(ctx context.Context, postID string) error {
	p.mu.Lock()
	if p.failures > 0 {
		p.failures--
		p.mu.Unlock()
		return errors.New("storage unavailable")
	}
	p.mu.Unlock()
	return p.PurgeRepository.Purge(ctx, postID)
}

func TestPurgeService_SweepRetriesFailedPurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	purges := &flakyPurges{PurgeRepository: repository.NewPurgeRepository(f.db), failures: 1}
	svc := NewPurgeService(purges, time.Minute)

	post := f.createPost(t, f.alice, CreatePostInput{Title: "Retry me"})
	require.NoError(t, repository.NewPostRepository(f.db).SoftDelete(ctx, post))

	require.Error(t, svc.PurgeNow(ctx, post.ID))
	var job models.PostPurge
	require.NoError(t, f.db.First(&job, "post_id = ?", post.ID).Error)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "storage unavailable", job.LastError)
	assert.Nil(t, job.CompletedAt)

	n, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, f.db.First(&job, "post_id = ?", post.ID).Error)
	assert.NotNil(t, job.CompletedAt)

	n, err = svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPurgeService_StartStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	svc := NewPurgeService(repository.NewPurgeRepository(f.db), 10*time.Millisecond)

	post := f.createPost(t, f.alice, CreatePostInput{Title: "Swept"})
	require.NoError(t, repository.NewPostRepository(f.db).SoftDelete(context.Background(), post))

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	svc.Start(ctx)

	assert.Eventually(t, func() bool {
		var n int64
		err := f.db.Model(&models.PostPurge{}).
			Where("post_id = ? AND completed_at IS NOT NULL", post.ID).Count(&n).Error
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-svc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestPurgeService_Reconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stranded := f.createPost(t, f.alice, CreatePostInput{Title: "Stranded"})
	_, err := f.comments.AddComment(as(f.bob), CreateCommentInput{PostID: stranded.ID, Content: "left behind"})
	require.NoError(t, err)
	require.NoError(t, repository.NewPostRepository(f.db).SoftDelete(ctx, stranded))
	require.NoError(t, f.db.Where("post_id = ?", stranded.ID).Delete(&models.PostPurge{}).Error)

	require.NoError(t, f.db.Create(&models.Like{ID: f.bob.ID + "_ghost", PostID: "ghost", UserID: f.bob.ID}).Error)

	report, err := f.purges.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Before.Likes)
	assert.Equal(t, int64(1), report.Requeued)
	assert.Equal(t, 1, report.Purged)
	assert.Equal(t, int64(1), report.Deleted.Likes)
	assert.Zero(t, report.After.Total())

	assert.Zero(t, f.count(t, &models.Comment{}, "post_id = ?", stranded.ID))

	again, err := f.purges.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Requeued)
	assert.Zero(t, again.Purged)
	assert.Zero(t, again.Before.Total())
}
