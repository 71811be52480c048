package content

import "errors"

// Domain errors for the content package.
var (
	// ErrItemNotFound is returned when a content item ID does not exist.
	ErrItemNotFound = errors.New("content: item not found")

	// ErrItemExists is returned when creating an item with a duplicate ID.
	ErrItemExists = errors.New("content: item already exists")

	// ErrProfileNotFound is returned when an audience profile does not exist.
	ErrProfileNotFound = errors.New("content: audience profile not found")

	// ErrProfileExists is returned when creating a profile whose ID or slug
	// already exists.
	ErrProfileExists = errors.New("content: audience profile already exists")

	// ErrInvalidItem is returned when item validation fails.
	ErrInvalidItem = errors.New("content: invalid item")

	// ErrInvalidProfile is returned when profile validation fails.
	ErrInvalidProfile = errors.New("content: invalid audience profile")
)
