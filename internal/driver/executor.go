package driver

import (
	"context"
)

// Executor performs single upload and delete actions inside an acquired
// session. It does not retry: classification lives here, retry policy
// lives with the run controller, which also owns persistence between
// attempts.
type Executor struct {
	client *Client
	logger Logger
}

// NewExecutor creates an executor over an agent client.
func NewExecutor(client *Client, logger Logger) *Executor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Executor{client: client, logger: logger}
}

// Upload posts one video with the given caption and returns the handle
// identifying it on the account. Errors are *Failure values carrying a
// taxonomy code; check Code.Retryable() before retrying.
func (e *Executor) Upload(ctx context.Context, session *Session, mediaPath, caption string) (string, error) {
	if session.Released() {
		return "", ErrSessionReleased
	}

	handle, err := e.client.Upload(ctx, session.AgentID, mediaPath, caption)
	if err != nil {
		return "", err
	}

	e.logger.Debug("upload confirmed", "device_id", session.DeviceID, "handle", handle)
	return handle, nil
}

// Delete removes a previously uploaded video by handle.
func (e *Executor) Delete(ctx context.Context, session *Session, handle string) error {
	if session.Released() {
		return ErrSessionReleased
	}

	if err := e.client.Delete(ctx, session.AgentID, handle); err != nil {
		return err
	}

	e.logger.Debug("delete confirmed", "device_id", session.DeviceID, "handle", handle)
	return nil
}
