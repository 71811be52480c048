package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/carousel-core/internal/device"
)

// releaseTimeout bounds the best-effort agent session close during Release.
const releaseTimeout = 10 * time.Second

// Logger is the minimal logging interface the driver needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

// SessionManager enforces one automation session per physical device.
//
// Several runs may target accounts bound to the same phone; Acquire
// queues them fairly on a per-device lock and only then opens the agent
// session. Release closes the agent session and frees the lock, in that
// order, so the next waiter never sees a half-torn-down device.
type SessionManager struct {
	client *Client
	logger Logger

	mu    sync.Mutex
	locks map[string]chan struct{} // device ID -> capacity-1 lock
}

// NewSessionManager creates a session manager over an agent client.
func NewSessionManager(client *Client, logger Logger) *SessionManager {
	if logger == nil {
		logger = noopLogger{}
	}
	return &SessionManager{
		client: client,
		logger: logger,
		locks:  make(map[string]chan struct{}),
	}
}

// Session is an exclusive hold on a device plus the live agent session.
// It must be released on every exit path; Release is idempotent.
type Session struct {
	AgentID  string
	DeviceID string
	UDID     string

	mgr      *SessionManager
	released bool
	mu       sync.Mutex
}

// Acquire blocks until the device is free (or ctx is done), then opens
// an agent session for the given account on it.
//
// The device lock is held from the moment Acquire returns until Release;
// if opening the agent session fails the lock is freed before returning.
func (m *SessionManager) Acquire(ctx context.Context, dev *device.Device, username string) (*Session, error) {
	lock := m.lock(dev.ID)

	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("driver: waiting for device %s: %w", dev.ID, ctx.Err())
	}

	agentID, err := m.client.OpenSession(ctx, dev.UDID, string(dev.Platform), username)
	if err != nil {
		<-lock
		return nil, err
	}

	m.logger.Debug("device session opened",
		"device_id", dev.ID, "udid", dev.UDID, "account", username, "agent_session", agentID)

	return &Session{
		AgentID:  agentID,
		DeviceID: dev.ID,
		UDID:     dev.UDID,
		mgr:      m,
	}, nil
}

// Release closes the agent session and frees the device lock.
//
// The agent close is best-effort with its own timeout: a wedged agent
// must not leak the device lock, or every future run on this phone
// deadlocks. Safe to call more than once.
func (s *Session) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	err := s.mgr.client.CloseSession(ctx, s.AgentID)

	lock := s.mgr.lock(s.DeviceID)
	select {
	case <-lock:
	default:
		// Lock already free: Release raced with nothing holding it.
		// Should not happen, but freeing twice would corrupt the lock.
	}

	if err != nil {
		s.mgr.logger.Warn("agent session close failed",
			"device_id", s.DeviceID, "agent_session", s.AgentID, "error", err)
		return err
	}

	s.mgr.logger.Debug("device session released", "device_id", s.DeviceID)
	return nil
}

// Released reports whether the session has been released.
func (s *Session) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// lock returns the capacity-1 lock channel for a device, creating it on
// first use.
func (m *SessionManager) lock(deviceID string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[deviceID]
	if !ok {
		lock = make(chan struct{}, 1)
		m.locks[deviceID] = lock
	}
	return lock
}

// Busy reports whether a session currently holds the device.
func (m *SessionManager) Busy(deviceID string) bool {
	return len(m.lock(deviceID)) > 0
}
