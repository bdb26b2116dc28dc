// Package server contains the HTTP and WebSocket handlers of the API.
package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"quill/internal/bootstrap"
	"quill/internal/config"
	"quill/internal/database"
	"quill/internal/events"
	"quill/internal/featureflags"
	"quill/internal/identity"
	"quill/internal/media"
	"quill/internal/middleware"
	"quill/internal/notifications"
	"quill/internal/repository"
	"quill/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	promOnce sync.Once
	prom     *fiberprometheus.FiberPrometheus
)

// metrics returns the process-wide HTTP metrics middleware. Its collectors
// live in the default registry, so it is built once.
func metrics() *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		prom = fiberprometheus.New("quill-api")
	})
	return prom
}

// Server holds all dependencies and provides handlers
type Server struct {
	config      *config.Config
	db          *gorm.DB
	redis       *redis.Client
	app         *fiber.App
	shutdownCtx context.Context
	shutdownFn  context.CancelFunc

	identity      *identity.Service
	posts         *service.PostService
	comments      *service.CommentService
	users         *service.UserService
	follows       *service.FollowService
	notifications *service.NotificationService
	purges        *service.PurgeService

	hub          *notifications.Hub
	notifier     *notifications.Notifier
	featureFlags *featureflags.Manager
	limiter      *middleware.RateLimiter
	publisher    events.Publisher
}

// NewServer connects every backing store named by cfg and builds the server.
func NewServer(cfg *config.Config) (*Server, error) {
	db, redisClient, err := bootstrap.InitRuntime(cfg, bootstrap.Options{})
	if err != nil {
		return nil, err
	}
	store, err := media.NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("object store init failed: %w", err)
	}
	return NewServerWithDeps(cfg, db, redisClient, store)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil; realtime delivery then stays on this instance.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, store media.Store) (*Server, error) {
	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	followRepo := repository.NewFollowRepository(db)
	reactionRepo := repository.NewReactionRepository(db)

	s := &Server{
		config:       cfg,
		db:           db,
		redis:        redisClient,
		hub:          notifications.NewHub(redisClient, notifications.PresenceConfig{}),
		featureFlags: featureflags.NewManager(cfg.FeatureFlags),
		publisher:    events.New(cfg.KafkaBrokerList(), cfg.KafkaTopic),
	}

	policy := middleware.FailClosed
	if cfg.RateLimitFailOpen {
		policy = middleware.FailOpen
	}
	s.limiter = middleware.NewRateLimiter(redisClient, cfg.RateLimitRequests, cfg.RateLimitWindow, policy)

	var realtime service.Realtime = s.hub
	if redisClient != nil {
		s.notifier = notifications.NewNotifier(redisClient)
		realtime = s.notifier
	}

	var providers []identity.OAuthProvider
	if cfg.GoogleClientID != "" {
		providers = append(providers, identity.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL))
	}
	s.identity = identity.NewService(
		userRepo,
		identity.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.TokenTTL),
		identity.NewTokenStore(redisClient),
		identity.LogMailer{BaseURL: cfg.PublicURL},
		providers...,
	)

	uploader := media.NewUploader(store, media.Options{
		MaxBytes:     cfg.MediaMaxUploadBytes,
		MaxDimension: cfg.MediaMaxDimension,
		WebPQuality:  cfg.MediaWebPQuality,
		MaxPixels:    cfg.MediaMaxPixels,
	})

	s.notifications = service.NewNotificationService(repository.NewNotificationRepository(db), userRepo, realtime)
	s.notifications.SetPresence(s.hub)
	s.purges = service.NewPurgeService(repository.NewPurgeRepository(db), cfg.PurgeInterval)
	s.posts = service.NewPostService(service.PostServiceDeps{
		Posts:     postRepo,
		Reactions: reactionRepo,
		Follows:   followRepo,
		Users:     userRepo,
		Tags:      repository.NewTagRepository(db),
		Purger:    s.purges,
		Media:     uploader,
		Notifier:  s.notifications,
		Events:    s.publisher,
		Flags:     s.featureFlags,
		MaxImages: cfg.MediaMaxImagesPerPost,
	})
	s.comments = service.NewCommentService(repository.NewCommentRepository(db), postRepo, followRepo, userRepo, s.notifications, s.publisher)
	s.users = service.NewUserService(userRepo, followRepo, postRepo, reactionRepo, uploader)
	s.users.SetPresence(s.hub)
	s.hub.Presence().OnOffline(s.recordLastSeen)
	s.follows = service.NewFollowService(followRepo, userRepo, s.notifications, s.publisher)

	for _, svc := range []interface{ SetTimeout(time.Duration) }{
		s.posts, s.comments, s.users, s.follows, s.notifications,
	} {
		svc.SetTimeout(cfg.OperationTimeout)
	}

	return s, nil
}

// bodyLimit fits a post with the maximum number of images.
func (s *Server) bodyLimit() int {
	images := s.config.MediaMaxImagesPerPost
	if images <= 0 {
		images = 10
	}
	per := s.config.MediaMaxUploadBytes
	if per <= 0 {
		per = 10 << 20
	}
	return int(per)*images + 1<<20
}

// NewApp builds the Fiber app with middleware and routes installed.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "Quill API",
		BodyLimit:    s.bodyLimit(),
		ErrorHandler: s.errorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())
	app.Use(metrics().Middleware)
	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	authed := middleware.AuthRequired(s.identity)
	optional := middleware.OptionalAuth(s.identity)
	authLimit := s.limiter.Handler("auth")
	writeLimit := s.limiter.Handler("write")

	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	metrics().RegisterAt(app, "/metrics")

	api := app.Group("/api")
	api.Get("/features", optional, s.GetFeatureFlags)

	auth := api.Group("/auth")
	auth.Post("/register", authLimit, s.Register)
	auth.Post("/login", authLimit, s.Login)
	auth.Post("/logout", authed, s.Logout)
	auth.Get("/username-available", s.UsernameAvailable)
	auth.Get("/oauth/:provider", authLimit, s.BeginOAuth)
	auth.Get("/oauth/:provider/callback", authLimit, s.CompleteOAuth)
	auth.Post("/password/forgot", authLimit, s.ForgotPassword)
	auth.Post("/password/reset", authLimit, s.ResetPassword)
	auth.Put("/password", authed, authLimit, s.ChangePassword)
	auth.Post("/verify-email", authLimit, s.VerifyEmail)
	auth.Post("/verify-email/request", authed, authLimit, s.RequestEmailVerification)

	// Specific /posts routes before the generic /:id.
	posts := api.Group("/posts")
	posts.Get("/", optional, s.ListPosts)
	posts.Post("/", authed, writeLimit, s.CreatePost)
	posts.Get("/search", optional, s.SearchPosts)
	posts.Get("/slug/:slug", optional, s.GetPostBySlug)
	posts.Post("/:id/like", authed, writeLimit, s.ToggleLike)
	posts.Post("/:id/bookmark", authed, writeLimit, s.ToggleBookmark)
	posts.Post("/:id/share", optional, s.SharePost)
	posts.Get("/:id/comments", optional, s.GetComments)
	posts.Post("/:id/comments", authed, writeLimit, s.AddComment)
	posts.Get("/:id", optional, s.GetPost)
	posts.Put("/:id", authed, writeLimit, s.UpdatePost)
	posts.Delete("/:id", authed, writeLimit, s.DeletePost)

	comments := api.Group("/comments")
	comments.Put("/:id", authed, writeLimit, s.UpdateComment)
	comments.Delete("/:id", authed, writeLimit, s.DeleteComment)

	api.Get("/tags/trending", s.TrendingTags)

	users := api.Group("/users")
	users.Get("/search", optional, s.SearchUsers)
	users.Get("/suggested", authed, s.SuggestedUsers)
	users.Get("/me", authed, s.GetMe)
	users.Put("/me", authed, writeLimit, s.UpdateMe)
	users.Put("/me/avatar", authed, writeLimit, s.UpdateAvatar)
	users.Post("/me/activity", authed, s.TouchActivity)
	users.Get("/me/bookmarks", authed, s.GetBookmarks)
	users.Get("/me/feed", authed, s.GetFeed)
	users.Get("/by-username/:username", optional, s.GetProfile)
	users.Get("/:uid/followers", optional, s.GetFollowers)
	users.Get("/:uid/following", optional, s.GetFollowing)
	users.Get("/:uid/mutual", authed, s.GetMutual)
	users.Post("/:uid/follow", authed, writeLimit, s.FollowUser)
	users.Delete("/:uid/follow", authed, writeLimit, s.UnfollowUser)
	users.Get("/:uid", optional, s.GetUser)

	notes := api.Group("/notifications", authed)
	notes.Get("/", s.ListNotifications)
	notes.Get("/unread-count", s.UnreadCount)
	notes.Post("/read-all", s.MarkAllNotificationsRead)
	notes.Post("/:id/read", s.MarkNotificationRead)

	api.Get("/ws/notifications", authed, s.upgradeRequired, s.NotificationSocket())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports database and Redis health. Redis is optional, so
// its absence does not fail readiness.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := database.Ping(ctx, s.db); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// Start starts the background workers and serves until the listener closes.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.app = s.NewApp()
	s.purges.Start(ctx)

	if s.notifier != nil {
		go func() {
			if err := s.hub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
				log.Printf("failed to start %s wiring: %v", s.hub.Name(), err)
			}
		}()
	}

	log.Printf("Server starting on port %s...", s.config.Port)
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		log.Printf("error shutting down %s: %v", s.hub.Name(), err)
	}

	if s.shutdownFn != nil {
		select {
		case <-s.purges.Done():
		case <-ctx.Done():
			log.Printf("purge sweeper did not stop before the deadline")
		}
	}

	if err := s.publisher.Close(); err != nil {
		log.Printf("error closing event publisher: %v", err)
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
