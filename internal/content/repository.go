package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for content persistence operations.
// It covers both content items and the audience profiles they belong to.
type Repository interface {
	// GetItem retrieves a content item by ID.
	// Returns ErrItemNotFound if the item does not exist.
	GetItem(ctx context.Context, id string) (*Item, error)

	// ListItems retrieves all content items ordered by name.
	ListItems(ctx context.Context) ([]Item, error)

	// ListItemsByAudience retrieves all items for an audience profile.
	ListItemsByAudience(ctx context.Context, audienceID string) ([]Item, error)

	// CreateItem inserts a new content item.
	CreateItem(ctx context.Context, item *Item) error

	// DeleteItem removes a content item by ID.
	DeleteItem(ctx context.Context, id string) error

	// GetProfile retrieves an audience profile by ID.
	// Returns ErrProfileNotFound if the profile does not exist.
	GetProfile(ctx context.Context, id string) (*AudienceProfile, error)

	// GetProfileBySlug retrieves an audience profile by slug.
	GetProfileBySlug(ctx context.Context, slug string) (*AudienceProfile, error)

	// ListProfiles retrieves all audience profiles ordered by name.
	ListProfiles(ctx context.Context) ([]AudienceProfile, error)

	// CreateProfile inserts a new audience profile.
	CreateProfile(ctx context.Context, profile *AudienceProfile) error

	// UpdateProfile modifies an existing audience profile.
	UpdateProfile(ctx context.Context, profile *AudienceProfile) error

	// DeleteProfile removes an audience profile by ID.
	DeleteProfile(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetItem retrieves a content item by ID.
func (r *SQLiteRepository) GetItem(ctx context.Context, id string) (*Item, error) {
	query := `
		SELECT id, name, media_path, audience_id, caption_template, created_at
		FROM content_items
		WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("querying content item: %w", err)
	}
	return item, nil
}

// ListItems retrieves all content items ordered by name.
func (r *SQLiteRepository) ListItems(ctx context.Context) ([]Item, error) {
	query := `
		SELECT id, name, media_path, audience_id, caption_template, created_at
		FROM content_items
		ORDER BY name`

	return r.queryItems(ctx, query)
}

// ListItemsByAudience retrieves all items for an audience profile.
func (r *SQLiteRepository) ListItemsByAudience(ctx context.Context, audienceID string) ([]Item, error) {
	query := `
		SELECT id, name, media_path, audience_id, caption_template, created_at
		FROM content_items
		WHERE audience_id = ?
		ORDER BY name`

	return r.queryItems(ctx, query, audienceID)
}

// CreateItem inserts a new content item.
func (r *SQLiteRepository) CreateItem(ctx context.Context, item *Item) error {
	if item.ID == "" {
		item.ID = GenerateItemID()
	}
	if err := ValidateItem(item); err != nil {
		return err
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO content_items (id, name, media_path, audience_id, caption_template, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		item.ID,
		item.Name,
		item.MediaPath,
		item.AudienceID,
		item.CaptionTemplate,
		item.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrItemExists
		}
		return fmt.Errorf("inserting content item: %w", err)
	}

	return nil
}

// DeleteItem removes a content item by ID.
func (r *SQLiteRepository) DeleteItem(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM content_items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting content item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrItemNotFound
	}

	return nil
}

// GetProfile retrieves an audience profile by ID.
func (r *SQLiteRepository) GetProfile(ctx context.Context, id string) (*AudienceProfile, error) {
	query := `
		SELECT id, slug, name, theme, fallback_caption, fallback_hashtags, created_at, updated_at
		FROM audience_profiles
		WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("querying audience profile: %w", err)
	}
	return profile, nil
}

// GetProfileBySlug retrieves an audience profile by slug.
func (r *SQLiteRepository) GetProfileBySlug(ctx context.Context, slug string) (*AudienceProfile, error) {
	query := `
		SELECT id, slug, name, theme, fallback_caption, fallback_hashtags, created_at, updated_at
		FROM audience_profiles
		WHERE slug = ?`

	row := r.db.QueryRowContext(ctx, query, slug)
	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("querying audience profile by slug: %w", err)
	}
	return profile, nil
}

// ListProfiles retrieves all audience profiles ordered by name.
func (r *SQLiteRepository) ListProfiles(ctx context.Context) ([]AudienceProfile, error) {
	query := `
		SELECT id, slug, name, theme, fallback_caption, fallback_hashtags, created_at, updated_at
		FROM audience_profiles
		ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying audience profiles: %w", err)
	}
	defer rows.Close()

	var profiles []AudienceProfile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning audience profile: %w", err)
		}
		profiles = append(profiles, *profile)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audience profiles: %w", err)
	}

	return profiles, nil
}

// CreateProfile inserts a new audience profile.
func (r *SQLiteRepository) CreateProfile(ctx context.Context, profile *AudienceProfile) error {
	if profile.ID == "" {
		profile.ID = GenerateProfileID()
	}
	if profile.Slug == "" {
		profile.Slug = GenerateSlug(profile.Name)
	}
	if err := ValidateProfile(profile); err != nil {
		return err
	}

	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	hashtagsJSON, err := json.Marshal(profile.FallbackHashtags)
	if err != nil {
		return fmt.Errorf("marshalling fallback hashtags: %w", err)
	}

	query := `
		INSERT INTO audience_profiles (
			id, slug, name, theme, fallback_caption, fallback_hashtags, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		profile.ID,
		profile.Slug,
		profile.Name,
		profile.Theme,
		profile.FallbackCaption,
		string(hashtagsJSON),
		profile.CreatedAt.Format(time.RFC3339),
		profile.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrProfileExists
		}
		return fmt.Errorf("inserting audience profile: %w", err)
	}

	return nil
}

// UpdateProfile modifies an existing audience profile.
func (r *SQLiteRepository) UpdateProfile(ctx context.Context, profile *AudienceProfile) error {
	if err := ValidateProfile(profile); err != nil {
		return err
	}
	profile.UpdatedAt = time.Now().UTC()

	hashtagsJSON, err := json.Marshal(profile.FallbackHashtags)
	if err != nil {
		return fmt.Errorf("marshalling fallback hashtags: %w", err)
	}

	query := `
		UPDATE audience_profiles SET
			slug = ?, name = ?, theme = ?, fallback_caption = ?,
			fallback_hashtags = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		profile.Slug,
		profile.Name,
		profile.Theme,
		profile.FallbackCaption,
		string(hashtagsJSON),
		profile.UpdatedAt.Format(time.RFC3339),
		profile.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrProfileExists
		}
		return fmt.Errorf("updating audience profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrProfileNotFound
	}

	return nil
}

// DeleteProfile removes an audience profile by ID.
func (r *SQLiteRepository) DeleteProfile(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM audience_profiles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting audience profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrProfileNotFound
	}

	return nil
}

// queryItems executes a query and returns a slice of items.
func (r *SQLiteRepository) queryItems(ctx context.Context, query string, args ...any) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying content items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning content item: %w", err)
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating content items: %w", err)
	}

	return items, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem scans a row or rows result into an Item.
func scanItem(scanner rowScanner) (*Item, error) {
	var i Item
	var createdAt string

	err := scanner.Scan(
		&i.ID,
		&i.Name,
		&i.MediaPath,
		&i.AudienceID,
		&i.CaptionTemplate,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	i.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &i, nil
}

// scanProfile scans a row or rows result into an AudienceProfile.
func scanProfile(scanner rowScanner) (*AudienceProfile, error) {
	var p AudienceProfile
	var hashtagsJSON string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&p.ID,
		&p.Slug,
		&p.Name,
		&p.Theme,
		&p.FallbackCaption,
		&hashtagsJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(hashtagsJSON), &p.FallbackHashtags); err != nil {
		return nil, fmt.Errorf("unmarshalling fallback hashtags: %w", err)
	}

	p.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &p, nil
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
