package seed

import (
	"context"
	"fmt"
	"log"

	"quill/internal/database"
	"quill/internal/events"
	"quill/internal/featureflags"
	"quill/internal/identity"
	"quill/internal/media"
	"quill/internal/models"
	"quill/internal/repository"
	"quill/internal/service"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DefaultPassword is the password of every seeded account.
const DefaultPassword = "Passw0rd123"

// Options configuration for the seeder
type Options struct {
	Users           int
	PostsPerUser    int
	FollowsPerUser  int
	LikesPerPost    int
	CommentsPerPost int
	// Seed makes a run reproducible. Zero picks one from the clock.
	Seed int64
	// HashCost is the bcrypt cost for DefaultPassword; zero uses bcrypt.DefaultCost.
	HashCost    int
	ShouldClean bool
}

// Summary counts what a run created.
type Summary struct {
	Users    int
	Follows  int
	Posts    int
	Likes    int
	Comments int
}

// Seeder writes demo data through the same services the API uses, so
// counters, slugs and tags come out consistent.
type Seeder struct {
	db      *gorm.DB
	opts    Options
	factory *Factory

	users    repository.UserRepository
	posts    *service.PostService
	comments *service.CommentService
	follows  *service.FollowService
}

// NewSeeder builds a Seeder on db. Notifications are stored but not pushed.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	followRepo := repository.NewFollowRepository(db)

	notes := service.NewNotificationService(repository.NewNotificationRepository(db), userRepo, nil)
	uploader := media.NewUploader(media.NewMemoryStore("https://picsum.photos"), media.Options{})

	return &Seeder{
		db:      db,
		opts:    opts,
		factory: NewFactory(opts.Seed),
		users:   userRepo,
		posts: service.NewPostService(service.PostServiceDeps{
			Posts:     postRepo,
			Reactions: repository.NewReactionRepository(db),
			Follows:   followRepo,
			Users:     userRepo,
			Tags:      repository.NewTagRepository(db),
			Media:     uploader,
			Notifier:  notes,
			Events:    events.Nop{},
			Flags:     featureflags.NewManager(""),
		}),
		comments: service.NewCommentService(repository.NewCommentRepository(db), postRepo, followRepo, userRepo, notes, nil),
		follows:  service.NewFollowService(followRepo, userRepo, notes, nil),
	}
}

// Run seeds users, then follows, then posts with likes and comments.
func (s *Seeder) Run(ctx context.Context) (*Summary, error) {
	log.Println("Starting database seeding...")

	if s.opts.ShouldClean {
		if err := s.clearData(); err != nil {
			return nil, fmt.Errorf("failed to clear data: %w", err)
		}
	}

	var sum Summary

	users, err := s.createUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create users: %w", err)
	}
	sum.Users = len(users)
	log.Printf("%d users created", sum.Users)

	if sum.Follows, err = s.createFollows(ctx, users); err != nil {
		return nil, fmt.Errorf("failed to create follows: %w", err)
	}
	log.Printf("%d follows created", sum.Follows)

	posts, err := s.createPosts(ctx, users)
	if err != nil {
		return nil, fmt.Errorf("failed to create posts: %w", err)
	}
	sum.Posts = len(posts)
	log.Printf("%d posts created", sum.Posts)

	if sum.Likes, sum.Comments, err = s.createReactions(ctx, users, posts); err != nil {
		return nil, fmt.Errorf("failed to create reactions: %w", err)
	}
	log.Printf("%d likes and %d comments created", sum.Likes, sum.Comments)

	log.Println("Database seeding completed successfully")
	return &sum, nil
}

// clearData deletes every row of every table, children first.
func (s *Seeder) clearData() error {
	log.Println("Clearing existing data...")
	tables := database.PersistentModels()
	for i := len(tables) - 1; i >= 0; i-- {
		if err := s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(tables[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

func as(ctx context.Context, u *models.User) context.Context {
	return identity.WithPrincipal(ctx, identity.Principal{UID: u.ID, Username: u.Username})
}

func (s *Seeder) createUsers(ctx context.Context) ([]*models.User, error) {
	cost := s.opts.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), cost)
	if err != nil {
		return nil, err
	}

	users := make([]*models.User, 0, s.opts.Users)
	for i := 0; i < s.opts.Users; i++ {
		user := s.factory.BuildUser(i, string(hashed))
		if err := s.users.Register(ctx, user); err != nil {
			if models.IsCode(err, models.CodeConflict) {
				log.Printf("Skipping user %s: %v", user.Username, err)
				continue
			}
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func (s *Seeder) createFollows(ctx context.Context, users []*models.User) (int, error) {
	n := 0
	for i, u := range users {
		for _, j := range s.factory.Pick(len(users), s.opts.FollowsPerUser, i) {
			if err := s.follows.FollowUser(as(ctx, u), users[j].ID); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (s *Seeder) createPosts(ctx context.Context, users []*models.User) ([]*models.Post, error) {
	posts := make([]*models.Post, 0, len(users)*s.opts.PostsPerUser)
	for _, u := range users {
		for k := 0; k < s.opts.PostsPerUser; k++ {
			post, err := s.posts.CreatePost(as(ctx, u), s.factory.BuildPostInput())
			if err != nil {
				return nil, err
			}
			posts = append(posts, post)
		}
	}
	return posts, nil
}

// createReactions likes and comments on published posts only.
func (s *Seeder) createReactions(ctx context.Context, users []*models.User, posts []*models.Post) (likes, comments int, err error) {
	for _, post := range posts {
		if post.Status != models.PostStatusPublished {
			continue
		}
		for _, i := range s.factory.Pick(len(users), s.opts.LikesPerPost, -1) {
			if _, err := s.posts.ToggleLike(as(ctx, users[i]), post.ID); err != nil {
				return likes, comments, err
			}
			likes++
		}
		for k := 0; k < s.opts.CommentsPerPost; k++ {
			u := users[s.factory.Pick(len(users), 1, -1)[0]]
			if _, err := s.comments.AddComment(as(ctx, u), service.CreateCommentInput{
				PostID:  post.ID,
				Content: s.factory.Comment(),
			}); err != nil {
				return likes, comments, err
			}
			comments++
		}
	}
	return likes, comments, nil
}
