package account

import "errors"

// Domain errors for the account package.
var (
	// ErrAccountNotFound is returned when an account ID does not exist.
	ErrAccountNotFound = errors.New("account: not found")

	// ErrAccountExists is returned when creating an account whose ID or
	// username already exists.
	ErrAccountExists = errors.New("account: already exists")

	// ErrInvalidAccount is returned when account validation fails.
	ErrInvalidAccount = errors.New("account: invalid")

	// ErrInvalidUsername is returned when a username is empty or malformed.
	ErrInvalidUsername = errors.New("account: invalid username")

	// ErrDeviceRequired is returned when an account has no device binding.
	ErrDeviceRequired = errors.New("account: device binding is required")

	// ErrInactive is returned when an operation requires an active account.
	ErrInactive = errors.New("account: inactive")
)
