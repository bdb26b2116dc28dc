package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"quill/internal/featureflags"
	"quill/internal/identity"
	"quill/internal/media"
	"quill/internal/models"
	"quill/internal/repository"
	"quill/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testMediaBase = "https://cdn.quill.test/media"

// recordingRealtime captures pushed frames.
type recordingRealtime struct {
	mu     sync.Mutex
	frames map[string][]string
}

func (r *recordingRealtime) PushUser(_ context.Context, userID, kind string, _ interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frames == nil {
		r.frames = map[string][]string{}
	}
	r.frames[userID] = append(r.frames[userID], kind)
	return nil
}

func (r *recordingRealtime) count(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames[userID])
}

type fixture struct {
	db       *gorm.DB
	store    *media.MemoryStore
	realtime *recordingRealtime

	posts         *PostService
	comments      *CommentService
	users         *UserService
	follows       *FollowService
	notifications *NotificationService
	purges        *PurgeService

	alice *models.User
	bob   *models.User
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithFlags(t, "live_author_stats=on")
}

func newFixtureWithFlags(t *testing.T, flags string) *fixture {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	followRepo := repository.NewFollowRepository(db)
	reactionRepo := repository.NewReactionRepository(db)

	store := media.NewMemoryStore(testMediaBase)
	uploader := media.NewUploader(store, media.Options{MaxDimension: 64})
	rt := &recordingRealtime{}

	notifications := NewNotificationService(repository.NewNotificationRepository(db), userRepo, rt)
	purges := NewPurgeService(repository.NewPurgeRepository(db), time.Minute)

	f := &fixture{
		db:            db,
		store:         store,
		realtime:      rt,
		notifications: notifications,
		purges:        purges,
		posts: NewPostService(PostServiceDeps{
			Posts:     postRepo,
			Reactions: reactionRepo,
			Follows:   followRepo,
			Users:     userRepo,
			Tags:      repository.NewTagRepository(db),
			Purger:    purges,
			Media:     uploader,
			Notifier:  notifications,
			Flags:     featureflags.NewManager(flags),
			MaxImages: 3,
		}),
		comments: NewCommentService(repository.NewCommentRepository(db), postRepo, followRepo, userRepo, notifications, nil),
		users:    NewUserService(userRepo, followRepo, postRepo, reactionRepo, uploader),
		follows:  NewFollowService(followRepo, userRepo, notifications, nil),
		alice:    testutil.SeedUser(t, db, "alice"),
		bob:      testutil.SeedUser(t, db, "bob"),
	}
	return f
}

func as(u *models.User) context.Context {
	return identity.WithPrincipal(context.Background(), identity.Principal{UID: u.ID, Username: u.Username})
}

func (f *fixture) createPost(t *testing.T, author *models.User, in CreatePostInput) *models.Post {
	t.Helper()
	if in.Content == "" {
		in.Content = "Some content for " + in.Title
	}
	post, err := f.posts.CreatePost(as(author), in)
	require.NoError(t, err)
	return post
}

func (f *fixture) notificationsOf(t *testing.T, u *models.User) []models.NotificationView {
	t.Helper()
	page, err := f.notifications.List(as(u), false, 50, "")
	require.NoError(t, err)
	return page.Notifications
}

func (f *fixture) count(t *testing.T, model interface{}, where string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Where(where, args...).Count(&n).Error)
	return n
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: uint8(x), A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func ptr[T any](v T) *T { return &v }

// staticPresence reports the listed users as online.
type staticPresence map[string]bool

func (p staticPresence) IsOnline(_ context.Context, userID string) bool { return p[userID] }
