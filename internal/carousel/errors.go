package carousel

import "errors"

// Domain errors for the carousel package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, carousel.ErrRunNotFound) {
//	    // handle not found case
//	}
var (
	// ErrCarouselNotFound is returned when a carousel ID does not exist.
	ErrCarouselNotFound = errors.New("carousel: not found")

	// ErrCarouselExists is returned when creating a carousel with a
	// duplicate ID.
	ErrCarouselExists = errors.New("carousel: already exists")

	// ErrRunNotFound is returned when a run ID does not exist.
	ErrRunNotFound = errors.New("carousel: run not found")

	// ErrRunActive is returned when activating a carousel that already
	// has a non-terminal run.
	ErrRunActive = errors.New("carousel: a run is already active")

	// ErrRunNotResumable is returned when resuming a run that is not in
	// the error phase.
	ErrRunNotResumable = errors.New("carousel: run is not in the error phase")

	// ErrRunFinished is returned when cancelling a run that has already
	// reached a terminal phase.
	ErrRunFinished = errors.New("carousel: run already finished")

	// ErrInvalidCarousel is returned when carousel validation fails.
	ErrInvalidCarousel = errors.New("carousel: invalid")

	// ErrInvalidWaitWindow is returned when the dwell bounds are not
	// 0 < min <= max.
	ErrInvalidWaitWindow = errors.New("carousel: invalid wait window")
)
