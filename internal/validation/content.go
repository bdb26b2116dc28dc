package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"quill/internal/models"
)

const (
	MaxTitleLength   = 200
	MaxContentLength = 100000
	MaxCommentLength = 2000
	MaxFullName      = 100
	MaxBioLength     = 500
)

// ValidateTitle requires 1-200 characters after trimming.
func ValidateTitle(title string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(title))
	if n == 0 {
		return fmt.Errorf("title is required")
	}
	if n > MaxTitleLength {
		return fmt.Errorf("title must not exceed %d characters", MaxTitleLength)
	}
	return nil
}

func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("content is required")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return fmt.Errorf("content must not exceed %d characters", MaxContentLength)
	}
	return nil
}

func ValidateComment(content string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(content))
	if n == 0 {
		return fmt.Errorf("comment is required")
	}
	if n > MaxCommentLength {
		return fmt.Errorf("comment must not exceed %d characters", MaxCommentLength)
	}
	return nil
}

func ValidatePostStatus(status string) error {
	switch status {
	case models.PostStatusDraft, models.PostStatusPublished, models.PostStatusArchived:
		return nil
	}
	return fmt.Errorf("invalid status %q", status)
}

func ValidateVisibility(visibility string) error {
	switch visibility {
	case models.VisibilityPublic, models.VisibilityFollowers, models.VisibilityPrivate:
		return nil
	}
	return fmt.Errorf("invalid visibility %q", visibility)
}

// ValidateOptionalURL accepts an empty string or an absolute http(s) URL.
func ValidateOptionalURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be a valid http(s) URL", field)
	}
	return nil
}

// ValidateProfile checks the editable profile fields.
func ValidateProfile(fullName, bio string, links models.SocialLinks, prefs *models.Preferences) error {
	if utf8.RuneCountInString(fullName) > MaxFullName {
		return fmt.Errorf("full name must not exceed %d characters", MaxFullName)
	}
	if utf8.RuneCountInString(bio) > MaxBioLength {
		return fmt.Errorf("bio must not exceed %d characters", MaxBioLength)
	}
	for field, v := range map[string]string{"twitter": links.Twitter, "linkedin": links.LinkedIn, "github": links.GitHub} {
		if err := ValidateOptionalURL(field, v); err != nil {
			return err
		}
	}
	if prefs != nil {
		switch prefs.ProfileVisibility {
		case "public", "private", "followers":
		default:
			return fmt.Errorf("invalid profile visibility %q", prefs.ProfileVisibility)
		}
	}
	return nil
}
