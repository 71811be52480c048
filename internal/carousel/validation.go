package carousel

import (
	"fmt"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxItemsPerCycle = 35 // TikTok's daily posting ceiling per account
	maxWaitMinutes   = 24 * 60
)

// ValidateCarousel performs validation on a carousel definition.
// Returns an error describing the first validation failure found.
func ValidateCarousel(c *Carousel) error {
	if c == nil {
		return ErrInvalidCarousel
	}

	if c.AccountID == "" {
		return fmt.Errorf("%w: account is required", ErrInvalidCarousel)
	}
	if c.ContentItemID == "" {
		return fmt.Errorf("%w: content item is required", ErrInvalidCarousel)
	}

	if c.ItemsPerCycle < 1 || c.ItemsPerCycle > maxItemsPerCycle {
		return fmt.Errorf("%w: items per cycle must be 1-%d, got %d",
			ErrInvalidCarousel, maxItemsPerCycle, c.ItemsPerCycle)
	}

	if err := ValidateWaitWindow(c.WaitMinMinutes, c.WaitMaxMinutes); err != nil {
		return err
	}

	if c.CycleLimit != nil && *c.CycleLimit < 1 {
		return fmt.Errorf("%w: cycle limit must be positive", ErrInvalidCarousel)
	}

	return nil
}

// ValidateWaitWindow checks the dwell bounds: 0 < min <= max <= 24h.
func ValidateWaitWindow(minMinutes, maxMinutes int) error {
	if minMinutes < 1 {
		return fmt.Errorf("%w: minimum wait must be at least 1 minute", ErrInvalidWaitWindow)
	}
	if maxMinutes < minMinutes {
		return fmt.Errorf("%w: maximum wait %dm is below minimum %dm",
			ErrInvalidWaitWindow, maxMinutes, minMinutes)
	}
	if maxMinutes > maxWaitMinutes {
		return fmt.Errorf("%w: maximum wait exceeds %d minutes", ErrInvalidWaitWindow, maxWaitMinutes)
	}
	return nil
}

// GenerateID creates a new carousel identifier.
func GenerateID() string {
	return "car-" + uuid.NewString()[:8]
}

// GenerateRunID creates a new run identifier.
func GenerateRunID() string {
	return "run-" + uuid.NewString()[:8]
}

// GenerateEventID creates a new run event identifier.
func GenerateEventID() string {
	return "evt-" + uuid.NewString()[:12]
}
