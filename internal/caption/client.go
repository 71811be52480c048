package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nerrad567/carousel-core/internal/content"
	"github.com/nerrad567/carousel-core/internal/infrastructure/config"
)

// hashtagPlaceholder is the token in caption templates replaced by the
// generated hashtag block.
const hashtagPlaceholder = "{hashtags}"

// maxResponseBytes caps the generator response body read.
const maxResponseBytes = 64 << 10

// Source records where a composed caption's hashtags came from.
type Source string

// Caption sources.
const (
	SourceGenerated Source = "generated"
	SourceFallback  Source = "fallback"
)

// Result is a composed caption ready to paste into the upload flow.
type Result struct {
	Text     string   `json:"text"`
	Hashtags []string `json:"hashtags"`
	Source   Source   `json:"source"`
}

// Logger is the minimal logging interface the client needs.
type Logger interface {
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

// Client composes captions for uploads, calling the external hashtag
// generator service and degrading to the audience profile's fallback
// pool when the generator is slow or down. Compose never fails a run
// over caption material.
type Client struct {
	endpoint     string
	hashtagCount int
	httpClient   *http.Client
	logger       Logger
}

// New creates a caption client from configuration.
func New(cfg config.GeneratorConfig, logger Logger) *Client {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Client{
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		hashtagCount: cfg.HashtagCount,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Compose builds the caption for one upload.
//
// It asks the generator for fresh hashtags themed to the audience
// profile, avoiding any recently used tags, and renders them into the
// item's caption template. If the generator is unavailable the fallback
// pool from the audience profile (topped up with the built-in pool) is
// used instead; the Result records which path was taken.
func (c *Client) Compose(ctx context.Context, item *content.Item, profile *content.AudienceProfile, avoid []string) (*Result, error) {
	hashtags, err := c.generateHashtags(ctx, profile.Theme, avoid)
	source := SourceGenerated
	if err != nil {
		c.logger.Warn("hashtag generator unavailable, using fallback pool",
			"theme", profile.Theme, "error", err)
		hashtags = fallbackHashtags(profile.FallbackHashtags, avoid, c.hashtagCount)
		source = SourceFallback
	}

	template := item.CaptionTemplate
	if template == "" {
		template = profile.FallbackCaption
	}

	return &Result{
		Text:     renderTemplate(template, hashtags),
		Hashtags: hashtags,
		Source:   source,
	}, nil
}

// generateRequest is the wire format for the generator service.
type generateRequest struct {
	Theme string   `json:"theme"`
	Count int      `json:"count"`
	Avoid []string `json:"avoid_hashtags,omitempty"`
}

// generateResponse is the generator's reply.
type generateResponse struct {
	Hashtags []string `json:"hashtags"`
}

// generateHashtags calls the generator service.
func (c *Client) generateHashtags(ctx context.Context, theme string, avoid []string) ([]string, error) {
	if c.endpoint == "" {
		return nil, ErrGeneratorUnavailable
	}

	body, err := json.Marshal(generateRequest{
		Theme: theme,
		Count: c.hashtagCount,
		Avoid: avoid,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling generator request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/hashtags", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building generator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneratorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes)) //nolint:errcheck // draining for connection reuse
		return nil, fmt.Errorf("%w: status %d", ErrGeneratorUnavailable, resp.StatusCode)
	}

	var result generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrGeneratorUnavailable, err)
	}

	tags := normalizeHashtags(result.Hashtags)
	if len(tags) == 0 {
		return nil, ErrEmptyResponse
	}
	if len(tags) > c.hashtagCount {
		tags = tags[:c.hashtagCount]
	}

	c.logger.Debug("hashtags generated", "theme", theme, "count", len(tags))
	return tags, nil
}

// normalizeHashtags drops empties and ensures each tag carries the # prefix.
func normalizeHashtags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || tag == "#" {
			continue
		}
		if !strings.HasPrefix(tag, "#") {
			tag = "#" + tag
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// renderTemplate substitutes the hashtag block into a caption template.
// Templates without a placeholder get the block appended.
func renderTemplate(template string, hashtags []string) string {
	block := strings.Join(hashtags, " ")
	if template == "" {
		return block
	}
	if strings.Contains(template, hashtagPlaceholder) {
		return strings.ReplaceAll(template, hashtagPlaceholder, block)
	}
	if block == "" {
		return template
	}
	return template + "\n\n" + block
}
