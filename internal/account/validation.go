package account

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxUsernameLength    = 24
	maxDisplayNameLength = 100
	maxNotesLength       = 1024

	// TikTok usernames: letters, digits, underscores, periods.
	usernamePattern = `^[A-Za-z0-9._]+$`
)

var usernameRegex = regexp.MustCompile(usernamePattern)

// ValidateAccount performs validation on an account.
// Returns an error describing the first validation failure found.
func ValidateAccount(a *Account) error {
	if a == nil {
		return ErrInvalidAccount
	}

	if err := ValidateUsername(a.Username); err != nil {
		return err
	}

	if a.DeviceID == "" {
		return ErrDeviceRequired
	}

	if a.DisplayName != nil && len(*a.DisplayName) > maxDisplayNameLength {
		return fmt.Errorf("%w: display name exceeds %d characters", ErrInvalidAccount, maxDisplayNameLength)
	}

	if a.Notes != nil && len(*a.Notes) > maxNotesLength {
		return fmt.Errorf("%w: notes exceed %d characters", ErrInvalidAccount, maxNotesLength)
	}

	if a.UploadsToday < 0 || a.UploadsTotal < 0 {
		return fmt.Errorf("%w: upload counters cannot be negative", ErrInvalidAccount)
	}

	return nil
}

// ValidateUsername checks that a username matches TikTok's handle rules.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidUsername)
	}
	if len(username) > maxUsernameLength {
		return fmt.Errorf("%w: username exceeds %d characters", ErrInvalidUsername, maxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("%w: %q contains invalid characters", ErrInvalidUsername, username)
	}
	return nil
}

// GenerateID creates a new account identifier.
func GenerateID() string {
	return "acc-" + uuid.NewString()[:8]
}
