package caption

import "errors"

// Domain errors for the caption package.
var (
	// ErrGeneratorUnavailable is returned by generateHashtags when the
	// generator service cannot be reached or answers with a non-2xx
	// status. Compose swallows it and falls back; it is exported so
	// callers probing generator health can test for it.
	ErrGeneratorUnavailable = errors.New("caption: generator unavailable")

	// ErrEmptyResponse is returned when the generator answers 200 with
	// no usable hashtags.
	ErrEmptyResponse = errors.New("caption: generator returned no hashtags")
)
