package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID or UDID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device whose ID or UDID already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidUDID is returned when a UDID is empty or malformed.
	ErrInvalidUDID = errors.New("device: invalid udid")

	// ErrInvalidPlatform is returned when a platform value is not recognised.
	ErrInvalidPlatform = errors.New("device: invalid platform")

	// ErrInvalidHealthStatus is returned when a health status is not recognised.
	ErrInvalidHealthStatus = errors.New("device: invalid health status")
)
