package seed

import (
	"context"
	"strings"
	"testing"

	"quill/internal/models"
	"quill/internal/testutil"
	"quill/internal/validation"

	"golang.org/x/crypto/bcrypt"
)

func TestFactory_BuildsValidEntities(t *testing.T) {
	f := NewFactory(7)

	for i := 0; i < 20; i++ {
		u := f.BuildUser(i, "")
		if err := validation.ValidateUsername(u.Username); err != nil {
			t.Fatalf("invalid username %q: %v", u.Username, err)
		}
		if err := validation.ValidateEmail(u.Email); err != nil {
			t.Fatalf("invalid email %q: %v", u.Email, err)
		}

		in := f.BuildPostInput()
		if err := validation.ValidateTitle(in.Title); err != nil {
			t.Fatalf("invalid title %q: %v", in.Title, err)
		}
		if len(in.Tags) < 1 || len(in.Tags) > 3 {
			t.Fatalf("expected 1-3 tags, got %v", in.Tags)
		}
		if in.Status != models.PostStatusPublished && in.Status != models.PostStatusDraft {
			t.Fatalf("unexpected status %q", in.Status)
		}
	}
}

func TestFactory_SameSeedSameUsers(t *testing.T) {
	a, b := NewFactory(42), NewFactory(42)
	for i := 0; i < 5; i++ {
		if ua, ub := a.Username(i), b.Username(i); ua != ub {
			t.Fatalf("usernames diverged at %d: %q vs %q", i, ua, ub)
		}
	}
}

func TestFactory_PickSkipsAndDedupes(t *testing.T) {
	f := NewFactory(1)
	got := f.Pick(5, 10, 2)
	if len(got) != 4 {
		t.Fatalf("expected 4 picks, got %v", got)
	}
	seen := map[int]bool{}
	for _, i := range got {
		if i == 2 || seen[i] {
			t.Fatalf("bad pick set %v", got)
		}
		seen[i] = true
	}
}

func TestSeeder_RunKeepsCountersConsistent(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	seeder := NewSeeder(db, Options{
		Users:           6,
		PostsPerUser:    2,
		FollowsPerUser:  2,
		LikesPerPost:    3,
		CommentsPerPost: 1,
		Seed:            99,
		HashCost:        bcrypt.MinCost,
	})

	sum, err := seeder.Run(context.Background())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if sum.Users != 6 || sum.Posts != 12 || sum.Follows != 12 {
		t.Fatalf("unexpected summary %+v", sum)
	}

	count := func(model interface{}) int {
		var n int64
		if err := db.Model(model).Count(&n).Error; err != nil {
			t.Fatalf("count: %v", err)
		}
		return int(n)
	}
	if got := count(&models.Like{}); got != sum.Likes {
		t.Fatalf("expected %d likes, got %d", sum.Likes, got)
	}
	if got := count(&models.Comment{}); got != sum.Comments {
		t.Fatalf("expected %d comments, got %d", sum.Comments, got)
	}
	if got := count(&models.Follow{}); got != sum.Follows {
		t.Fatalf("expected %d follows, got %d", sum.Follows, got)
	}

	var likeTotal, followerTotal int64
	db.Model(&models.Post{}).Select("COALESCE(SUM(stats_likes), 0)").Scan(&likeTotal)
	db.Model(&models.User{}).Select("COALESCE(SUM(stats_followers_count), 0)").Scan(&followerTotal)
	if int(likeTotal) != sum.Likes {
		t.Fatalf("post like counters sum to %d, want %d", likeTotal, sum.Likes)
	}
	if int(followerTotal) != sum.Follows {
		t.Fatalf("follower counters sum to %d, want %d", followerTotal, sum.Follows)
	}

	var sample models.User
	if err := db.First(&sample).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(sample.PasswordHash), []byte(DefaultPassword)); err != nil {
		t.Fatalf("seeded password does not verify: %v", err)
	}
	if !strings.HasSuffix(sample.Email, "@example.com") {
		t.Fatalf("unexpected email %q", sample.Email)
	}
}

func TestSeeder_CleanEmptiesTables(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	opts := Options{Users: 3, PostsPerUser: 1, Seed: 5, HashCost: bcrypt.MinCost}
	if _, err := NewSeeder(db, opts).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	opts.ShouldClean = true
	opts.Seed = 6
	sum, err := NewSeeder(db, opts).Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	var users, posts int64
	db.Model(&models.User{}).Count(&users)
	db.Model(&models.Post{}).Count(&posts)
	if int(users) != sum.Users || int(posts) != sum.Posts {
		t.Fatalf("expected only the second run's rows, got %d users and %d posts", users, posts)
	}
}
