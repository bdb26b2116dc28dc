package service

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxTags          = 10
	maxTagLen        = 50
	excerptLen       = 200
	metaDescLen      = 160
	wordsPerMinute   = 200
	maxSlugBaseLen   = 200
	fallbackSlugBase = "post"
)

var (
	markupPattern    = regexp.MustCompile(`<[^>]*>`)
	spacePattern     = regexp.MustCompile(`\s+`)
	tagInvalidChars  = regexp.MustCompile(`[^a-z0-9_-]`)
	slugInvalidChars = regexp.MustCompile(`[^a-z0-9\s-]`)
	dashRuns         = regexp.MustCompile(`-+`)
)

// ExtractTags normalizes user-supplied tags: lower-cased, trimmed, inner
// whitespace turned into dashes, anything outside [a-z0-9_-] dropped. Empty,
// over-long, and duplicate tags are skipped and at most ten are kept.
func ExtractTags(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		t = spacePattern.ReplaceAllString(t, "-")
		t = tagInvalidChars.ReplaceAllString(t, "")
		if t == "" || len(t) > maxTagLen {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == maxTags {
			break
		}
	}
	return out
}

// StripMarkup removes tags and collapses whitespace.
func StripMarkup(content string) string {
	plain := markupPattern.ReplaceAllString(content, " ")
	return strings.TrimSpace(spacePattern.ReplaceAllString(plain, " "))
}

// GenerateExcerpt returns the plain text of content cut so that the result,
// including the trailing "...", is at most max runes long.
func GenerateExcerpt(content string, max int) string {
	plain := StripMarkup(content)
	if utf8.RuneCountInString(plain) <= max {
		return plain
	}
	if max <= 3 {
		return string([]rune(plain)[:max])
	}
	cut := strings.TrimRightFunc(string([]rune(plain)[:max-3]), isSpace)
	return cut + "..."
}

func isSpace(r rune) bool { return r == ' ' }

// CalculateReadTime estimates minutes at 200 words per minute, never below one.
func CalculateReadTime(content string) int {
	words := len(strings.Fields(StripMarkup(content)))
	minutes := int(math.Ceil(float64(words) / wordsPerMinute))
	if minutes < 1 {
		return 1
	}
	return minutes
}

// Slugify turns a title into a permalink base.
func Slugify(title string) string {
	s := strings.ToLower(title)
	s = slugInvalidChars.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = spacePattern.ReplaceAllString(s, "-")
	s = dashRuns.ReplaceAllString(s, "-")
	if len(s) > maxSlugBaseLen {
		s = s[:maxSlugBaseLen]
	}
	s = strings.Trim(s, "-")
	if s == "" {
		return fallbackSlugBase
	}
	return s
}

// ContainsFold reports whether term occurs in s ignoring case. An empty term
// matches everything.
func ContainsFold(s, term string) bool {
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(term))
}
