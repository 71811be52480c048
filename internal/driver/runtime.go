package driver

import (
	"context"

	"github.com/nerrad567/carousel-core/internal/device"
)

// Runtime bundles session acquisition and command execution behind a
// single Acquire call, so callers work with one bound session value
// instead of threading a session through an executor.
type Runtime struct {
	sessions *SessionManager
	executor *Executor
}

// NewRuntime creates a runtime over a session manager and executor.
func NewRuntime(sessions *SessionManager, executor *Executor) *Runtime {
	return &Runtime{sessions: sessions, executor: executor}
}

// Acquire takes the device's exclusive lock and opens an agent session
// bound to the account. The returned session must be released.
func (r *Runtime) Acquire(ctx context.Context, dev *device.Device, username string) (*BoundSession, error) {
	session, err := r.sessions.Acquire(ctx, dev, username)
	if err != nil {
		return nil, err
	}
	return &BoundSession{session: session, executor: r.executor}, nil
}

// Busy reports whether the device's session lock is currently held.
func (r *Runtime) Busy(deviceID string) bool {
	return r.sessions.Busy(deviceID)
}

// BoundSession is an acquired device session with its command surface
// attached.
type BoundSession struct {
	session  *Session
	executor *Executor
}

// Upload posts a video through the session and returns its handle.
func (b *BoundSession) Upload(ctx context.Context, mediaPath, caption string) (string, error) {
	return b.executor.Upload(ctx, b.session, mediaPath, caption)
}

// Delete removes a posted video by handle.
func (b *BoundSession) Delete(ctx context.Context, handle string) error {
	return b.executor.Delete(ctx, b.session, handle)
}

// Release closes the agent session and frees the device lock. Safe to
// call more than once.
func (b *BoundSession) Release() error {
	return b.session.Release()
}
