// Package seed provides helpers to create demo data for development
// databases. These helpers are intended for development and testing only.
package seed

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"quill/internal/models"
	"quill/internal/service"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
)

var topics = []string{
	"golang", "webdev", "frontend", "backend", "devops", "cloud", "linux",
	"homelab", "startups", "books", "travel", "food", "music", "photography",
	"fitness", "gaming", "science", "history", "design", "writing",
}

var unsafeUsername = regexp.MustCompile(`[^a-z0-9_]`)

// Factory builds domain entities from a seeded faker. The same seed yields
// the same entities.
type Factory struct {
	faker *gofakeit.Faker
	// MaxDays bounds how far back generated timestamps reach.
	MaxDays int
}

// NewFactory creates a Factory. A zero seed picks one from the clock.
func NewFactory(seed int64) *Factory {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Factory{faker: gofakeit.New(seed), MaxDays: 90}
}

// Username returns a valid username with n appended to keep it unique.
func (f *Factory) Username(n int) string {
	base := unsafeUsername.ReplaceAllString(strings.ToLower(f.faker.Username()), "")
	if len(base) < 3 {
		base = "writer"
	}
	if len(base) > 20 {
		base = base[:20]
	}
	return fmt.Sprintf("%s_%d", base, n)
}

// BuildUser returns an unsaved password account. passwordHash may be empty
// for accounts that never sign in.
func (f *Factory) BuildUser(n int, passwordHash string) *models.User {
	username := f.Username(n)
	joined := f.pastTime()
	return &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		FullName:     f.faker.Name(),
		Email:        username + "@example.com",
		Bio:          f.faker.Sentence(10),
		PhotoURL:     fmt.Sprintf("https://i.pravatar.cc/150?u=%s", username),
		PasswordHash: passwordHash,
		Provider:     models.ProviderPassword,
		SocialLinks: models.SocialLinks{
			GitHub: "https://github.com/" + username,
		},
		Preferences:  models.DefaultPreferences(),
		Role:         "user",
		IsVerified:   f.faker.Bool(),
		CreatedAt:    joined,
		UpdatedAt:    joined,
		LastActivity: joined,
	}
}

// BuildPostInput returns a post with one to three topic tags. About one in
// ten posts is a draft.
func (f *Factory) BuildPostInput() service.CreatePostInput {
	tags := make([]string, 0, 3)
	for _, i := range f.Pick(len(topics), f.faker.Number(1, 3), -1) {
		tags = append(tags, topics[i])
	}

	status := models.PostStatusPublished
	if f.faker.Number(1, 10) == 1 {
		status = models.PostStatusDraft
	}

	title := strings.TrimSuffix(f.faker.Sentence(f.faker.Number(3, 8)), ".")
	content := f.faker.Paragraph(f.faker.Number(1, 4), 4, 12, "\n\n")
	if f.faker.Bool() {
		content += "\n\n#" + tags[0]
	}

	return service.CreatePostInput{
		Title:   title,
		Content: content,
		Tags:    tags,
		Status:  status,
	}
}

// Comment returns a short comment body.
func (f *Factory) Comment() string {
	return f.faker.Sentence(f.faker.Number(4, 16))
}

// Pick returns n distinct indexes in [0, total), never including skip.
func (f *Factory) Pick(total, n, skip int) []int {
	order := indexes(total)
	f.faker.ShuffleInts(order)
	out := make([]int, 0, n)
	for _, i := range order {
		if len(out) == n {
			break
		}
		if i != skip {
			out = append(out, i)
		}
	}
	return out
}

func (f *Factory) pastTime() time.Time {
	maxDays := f.MaxDays
	if maxDays <= 0 {
		maxDays = 90
	}
	back := time.Duration(f.faker.Number(0, maxDays*24*60)) * time.Minute
	return time.Now().UTC().Add(-back)
}

func indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
