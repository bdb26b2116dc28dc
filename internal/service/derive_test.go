package service

import (
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

var tagShape = regexp.MustCompile(`^[a-z0-9_-]{1,50}$`)

func TestExtractTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"lowercases and trims", []string{"  Go ", "WEB"}, []string{"go", "web"}},
		{"drops empties and duplicates", []string{"", "go", "Go", "   "}, []string{"go"}},
		{"strips invalid characters", []string{"c++", "node.js", "big data"}, []string{"c", "nodejs", "big-data"}},
		{"skips over-long tags", []string{strings.Repeat("a", 51), strings.Repeat("b", 50)}, []string{strings.Repeat("b", 50)}},
		{"keeps at most ten", []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"},
			[]string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}},
		{"nil input", nil, []string{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if diff := cmp.Diff(tt.want, ExtractTags(tt.in)); diff != "" {
				t.Errorf("ExtractTags() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractTags_AlwaysWellFormed(t *testing.T) {
	t.Parallel()
	faker := gofakeit.New(42)

	for i := 0; i < 200; i++ {
		raw := make([]string, faker.Number(0, 25))
		for j := range raw {
			raw[j] = faker.Sentence(faker.Number(1, 4))
		}
		tags := ExtractTags(raw)
		assert.LessOrEqual(t, len(tags), 10)
		for _, tag := range tags {
			assert.Regexp(t, tagShape, tag)
		}
	}
}

func TestGenerateExcerpt(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Hello world", GenerateExcerpt("<p>Hello <b>world</b></p>", 200))
	assert.Equal(t, "", GenerateExcerpt("", 200))

	long := strings.Repeat("word ", 100)
	got := GenerateExcerpt(long, 200)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 200)

	exact := strings.Repeat("x", 200)
	assert.Equal(t, exact, GenerateExcerpt(exact, 200))

	multibyte := strings.Repeat("é", 300)
	got = GenerateExcerpt(multibyte, 160)
	assert.Equal(t, 160, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))
}

func TestGenerateExcerpt_NeverExceedsLimit(t *testing.T) {
	t.Parallel()
	faker := gofakeit.New(7)

	for i := 0; i < 200; i++ {
		content := faker.Paragraph(faker.Number(1, 5), faker.Number(1, 8), faker.Number(3, 20), "\n")
		assert.LessOrEqual(t, utf8.RuneCountInString(GenerateExcerpt(content, excerptLen)), excerptLen)
		assert.LessOrEqual(t, utf8.RuneCountInString(GenerateExcerpt(content, metaDescLen)), metaDescLen)
	}
}

func TestCalculateReadTime(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, CalculateReadTime(""))
	assert.Equal(t, 1, CalculateReadTime("short post"))
	assert.Equal(t, 1, CalculateReadTime(strings.Repeat("w ", 200)))
	assert.Equal(t, 2, CalculateReadTime(strings.Repeat("w ", 201)))
	assert.Equal(t, 3, CalculateReadTime("<div>"+strings.Repeat("w ", 450)+"</div>"))
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Hello World":             "hello-world",
		"  Go 1.22: What's New? ": "go-122-whats-new",
		"a -- b":                  "a-b",
		"!!!":                     "post",
		"Ünïcode only":            "ncode-only",
		"tabs\tand\nnewlines":     "tabs-and-newlines",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), in)
	}
	assert.LessOrEqual(t, len(Slugify(strings.Repeat("abc ", 100))), 200)
}

func TestContainsFold(t *testing.T) {
	t.Parallel()

	assert.True(t, ContainsFold("Alice Smith", "SMITH"))
	assert.True(t, ContainsFold("anything", ""))
	assert.False(t, ContainsFold("bob", "alice"))
}
