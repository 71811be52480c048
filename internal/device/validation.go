package device

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength  = 100
	maxUDIDLength  = 64
	maxNotesLength = 1024

	udidPattern = `^[A-Za-z0-9][A-Za-z0-9:-]*$`
)

var udidRegex = regexp.MustCompile(udidPattern)

// Pre-computed validation sets for O(1) lookups.
var (
	validPlatforms    map[Platform]struct{}
	validHealthStatus map[HealthStatus]struct{}
)

func init() {
	validPlatforms = make(map[Platform]struct{}, len(AllPlatforms()))
	for _, p := range AllPlatforms() {
		validPlatforms[p] = struct{}{}
	}

	validHealthStatus = make(map[HealthStatus]struct{}, len(AllHealthStatuses()))
	for _, s := range AllHealthStatuses() {
		validHealthStatus[s] = struct{}{}
	}
}

// ValidateDevice performs validation on a device.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if err := ValidateName(d.Name); err != nil {
		return err
	}

	if err := ValidateUDID(d.UDID); err != nil {
		return err
	}

	if _, ok := validPlatforms[d.Platform]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPlatform, d.Platform)
	}

	if d.HealthStatus != "" {
		if _, ok := validHealthStatus[d.HealthStatus]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidHealthStatus, d.HealthStatus)
		}
	}

	if d.Notes != nil && len(*d.Notes) > maxNotesLength {
		return fmt.Errorf("%w: notes exceed %d characters", ErrInvalidDevice, maxNotesLength)
	}

	return nil
}

// ValidateName checks that a device name is non-empty and within limits.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateUDID checks that a device UDID looks like a hardware identifier.
// iOS UDIDs are 25-char (modern, with a dash) or 40-char hex; Android serials
// vary, so the check is deliberately loose.
func ValidateUDID(udid string) error {
	if udid == "" {
		return fmt.Errorf("%w: udid is required", ErrInvalidUDID)
	}
	if len(udid) > maxUDIDLength {
		return fmt.Errorf("%w: udid exceeds %d characters", ErrInvalidUDID, maxUDIDLength)
	}
	if !udidRegex.MatchString(udid) {
		return fmt.Errorf("%w: %q contains invalid characters", ErrInvalidUDID, udid)
	}
	return nil
}

// GenerateID creates a new device identifier.
func GenerateID() string {
	return "dev-" + uuid.NewString()[:8]
}
