package content

import "time"

// Item represents a video asset available for carousel cycles.
// The media path points at a file the automation agent can reach on the
// host; the service never parses the video itself.
type Item struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MediaPath  string `json:"media_path"`
	AudienceID string `json:"audience_id"`

	// CaptionTemplate may contain a {hashtags} placeholder that the
	// caption generator fills in per upload. Empty means the audience
	// profile's fallback caption is used as-is.
	CaptionTemplate string `json:"caption_template"`

	CreatedAt time.Time `json:"created_at"`
}

// AudienceProfile groups content by target audience and carries the
// fallback caption material used when the generator service is down.
type AudienceProfile struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Name  string `json:"name"`
	Theme string `json:"theme"`

	// Fallbacks used when caption generation fails or times out.
	FallbackCaption  string   `json:"fallback_caption"`
	FallbackHashtags []string `json:"fallback_hashtags"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
