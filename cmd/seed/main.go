// Command seed fills a development database with demo data.
package main

import (
	"context"
	"flag"
	"log"

	"quill/internal/bootstrap"
	"quill/internal/config"
	"quill/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 50, "Number of users to create")
	postsPerUser := flag.Int("posts", 4, "Posts per user")
	followsPerUser := flag.Int("follows", 8, "Accounts each user follows")
	likesPerPost := flag.Int("likes", 5, "Likes per published post")
	commentsPerPost := flag.Int("comments", 2, "Comments per published post")
	seedValue := flag.Int64("seed", 0, "Random seed; 0 picks one")
	shouldClean := flag.Bool("clean", false, "Clean database before seeding")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to seed a production database")
	}

	db, _, err := bootstrap.InitRuntime(cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	s := seed.NewSeeder(db, seed.Options{
		Users:           *numUsers,
		PostsPerUser:    *postsPerUser,
		FollowsPerUser:  *followsPerUser,
		LikesPerPost:    *likesPerPost,
		CommentsPerPost: *commentsPerPost,
		Seed:            *seedValue,
		ShouldClean:     *shouldClean,
	})
	sum, err := s.Run(context.Background())
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	log.Printf("Seeded %+v. Every account signs in with %q", *sum, seed.DefaultPassword)
}
