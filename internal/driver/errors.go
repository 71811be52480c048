package driver

import (
	"errors"
	"fmt"
)

// Code classifies a failed upload or delete attempt. The controller's
// retry policy keys off this classification: retryable codes get bounded
// retries with backoff, the rest abort the run immediately.
type Code string

// Failure codes.
const (
	// CodeTransient covers momentary agent or network hiccups where the
	// action verifiably did not happen.
	CodeTransient Code = "transient"

	// CodeElementNotFound means the app UI did not match what the agent
	// expected (changed layout, unexpected dialog).
	CodeElementNotFound Code = "element_not_found"

	// CodeAppCrashed means the target app died mid-action.
	CodeAppCrashed Code = "app_crashed"

	// CodeTimeout means the action exceeded its command timeout.
	CodeTimeout Code = "timeout"

	// CodeDeviceDisconnected means the physical device dropped off the
	// agent. Never retried: the session is gone.
	CodeDeviceDisconnected Code = "device_disconnected"

	// CodeUnknownOutcome means the action may or may not have taken
	// effect (response lost after the request was sent). Never retried:
	// retrying an upload that actually landed posts a duplicate.
	CodeUnknownOutcome Code = "unknown_outcome"
)

// Retryable reports whether the controller may retry an action that
// failed with this code.
func (c Code) Retryable() bool {
	switch c {
	case CodeTransient, CodeElementNotFound, CodeAppCrashed, CodeTimeout:
		return true
	default:
		return false
	}
}

// Failure is the typed error returned by executor actions.
type Failure struct {
	Code    Code
	Op      string // "open_session", "upload", "delete", ...
	Message string
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("driver: %s failed (%s): %s", f.Op, f.Code, f.Message)
}

// AsFailure extracts a *Failure from an error chain. Errors that aren't
// failures (programming errors, cancelled contexts) return ok=false and
// are treated as non-retryable by callers.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Sentinel errors for session management.
var (
	// ErrSessionReleased is returned when using a session after Release.
	ErrSessionReleased = errors.New("driver: session already released")

	// ErrAgentUnavailable is returned when the agent's health endpoint
	// cannot be reached.
	ErrAgentUnavailable = errors.New("driver: automation agent unavailable")
)
