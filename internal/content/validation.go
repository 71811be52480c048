package content

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength     = 100
	maxPathLength     = 512
	maxTemplateLength = 2200 // TikTok caption ceiling
	maxHashtagCount   = 50
	maxHashtagLength  = 64
	maxSlugLength     = 50

	slugPattern = `^[a-z0-9]+(?:-[a-z0-9]+)*$`
)

var slugRegex = regexp.MustCompile(slugPattern)

// ValidateItem performs validation on a content item.
func ValidateItem(i *Item) error {
	if i == nil {
		return ErrInvalidItem
	}

	if i.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	if len(i.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidItem, maxNameLength)
	}

	if i.MediaPath == "" {
		return fmt.Errorf("%w: media path is required", ErrInvalidItem)
	}
	if len(i.MediaPath) > maxPathLength {
		return fmt.Errorf("%w: media path exceeds %d characters", ErrInvalidItem, maxPathLength)
	}

	if i.AudienceID == "" {
		return fmt.Errorf("%w: audience profile is required", ErrInvalidItem)
	}

	if len(i.CaptionTemplate) > maxTemplateLength {
		return fmt.Errorf("%w: caption template exceeds %d characters", ErrInvalidItem, maxTemplateLength)
	}

	return nil
}

// ValidateProfile performs validation on an audience profile.
func ValidateProfile(p *AudienceProfile) error {
	if p == nil {
		return ErrInvalidProfile
	}

	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if len(p.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidProfile, maxNameLength)
	}

	if p.Slug != "" {
		if err := ValidateSlug(p.Slug); err != nil {
			return err
		}
	}

	if len(p.FallbackHashtags) > maxHashtagCount {
		return fmt.Errorf("%w: more than %d fallback hashtags", ErrInvalidProfile, maxHashtagCount)
	}
	for _, tag := range p.FallbackHashtags {
		if tag == "" || len(tag) > maxHashtagLength {
			return fmt.Errorf("%w: bad hashtag %q", ErrInvalidProfile, tag)
		}
	}

	return nil
}

// ValidateSlug checks a URL-safe slug: lowercase alphanumerics and hyphens.
func ValidateSlug(slug string) error {
	if len(slug) > maxSlugLength {
		return fmt.Errorf("%w: slug exceeds %d characters", ErrInvalidProfile, maxSlugLength)
	}
	if !slugRegex.MatchString(slug) {
		return fmt.Errorf("%w: slug %q must be lowercase alphanumerics and hyphens", ErrInvalidProfile, slug)
	}
	return nil
}

// GenerateSlug derives a slug from a display name.
func GenerateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ' || r == '-' || r == '_':
			return '-'
		default:
			return -1
		}
	}, slug)
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	return strings.Trim(slug, "-")
}

// GenerateItemID creates a new content item identifier.
func GenerateItemID() string {
	return "cnt-" + uuid.NewString()[:8]
}

// GenerateProfileID creates a new audience profile identifier.
func GenerateProfileID() string {
	return "aud-" + uuid.NewString()[:8]
}
