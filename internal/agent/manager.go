package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/carousel-core/internal/infrastructure/config"
	"github.com/nerrad567/carousel-core/internal/process"
)

// Sentinel errors for agent management.
var (
	ErrNotManaged  = errors.New("agent: not managed by this process")
	ErrNotReady    = errors.New("agent: not ready")
	ErrInvalidPath = errors.New("agent: invalid binary path")
)

const (
	// readyPollInterval is how often to probe the agent port during startup.
	readyPollInterval = 500 * time.Millisecond

	// readyTimeout is how long to wait for the agent to accept connections
	// after its process starts. Device-automation agents load slowly.
	readyTimeout = 60 * time.Second

	// probeTimeout bounds a single readiness/health dial.
	probeTimeout = 2 * time.Second
)

// safePathPattern rejects binary paths with shell metacharacters.
var safePathPattern = regexp.MustCompile(`^[a-zA-Z0-9_.\-/]+$`)

// Logger defines the logging interface the manager needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager supervises the local device-automation agent binary. When the
// agent runs elsewhere (another host, a device farm) the manager is
// created unmanaged and every lifecycle call is a no-op; op callers only
// need the endpoint from config.
type Manager struct {
	cfg     config.AgentConfig
	logger  Logger
	proc    *process.Manager
	addr    string
	managed bool

	mu    sync.RWMutex
	ready bool
}

// NewManager creates an agent manager from config. An unmanaged config
// (Managed=false) yields a manager whose Start/Stop do nothing.
func NewManager(cfg config.AgentConfig) (*Manager, error) {
	m := &Manager{
		cfg:     cfg,
		logger:  noopLogger{},
		addr:    net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port)),
		managed: cfg.Managed,
	}

	if !cfg.Managed {
		return m, nil
	}

	if cfg.Binary == "" {
		return nil, fmt.Errorf("%w: binary path is required for a managed agent", ErrInvalidPath)
	}
	if !safePathPattern.MatchString(cfg.Binary) {
		return nil, fmt.Errorf("%w: %q contains unsafe characters", ErrInvalidPath, cfg.Binary)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("agent: port %d out of range", cfg.Port)
	}

	procCfg := process.Config{
		Name:               "automation-agent",
		Binary:             cfg.Binary,
		Args:               cfg.Args,
		RestartOnFailure:   cfg.RestartOnFailure,
		RestartDelay:       time.Duration(cfg.RestartDelaySeconds) * time.Second,
		MaxRestartAttempts: cfg.MaxRestartAttempts,
		HealthCheckFunc:    m.probe,
		OnStop: func(err error) {
			m.setReady(false)
			if err != nil {
				m.logger.Warn("agent process exited", "error", err)
			}
		},
	}
	m.proc = process.NewManager(procCfg)

	return m, nil
}

// SetLogger sets the logger for the manager and its subprocess supervisor.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
	if m.proc != nil {
		m.proc.SetLogger(logger)
	}
}

// IsManaged reports whether this process owns the agent's lifecycle.
func (m *Manager) IsManaged() bool {
	return m.managed
}

// Start launches the agent and blocks until it accepts connections or
// the readiness window expires. Unmanaged managers return immediately.
func (m *Manager) Start(ctx context.Context) error {
	if !m.managed {
		return nil
	}

	if err := m.proc.Start(ctx); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}

	if err := m.waitForReady(ctx); err != nil {
		// The process is up but not listening; stop it so we fail clean.
		if stopErr := m.proc.Stop(); stopErr != nil {
			m.logger.Warn("stopping unready agent failed", "error", stopErr)
		}
		return err
	}

	m.setReady(true)
	m.logger.Info("agent ready", "address", m.addr)
	return nil
}

// waitForReady polls the agent's TCP port until it accepts a connection.
func (m *Manager) waitForReady(ctx context.Context) error {
	deadline := time.Now().Add(readyTimeout)
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if err := m.probe(ctx); err == nil {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: no listener on %s after %s", ErrNotReady, m.addr, readyTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// probe checks that the agent's port accepts TCP connections.
func (m *Manager) probe(ctx context.Context) error {
	d := net.Dialer{Timeout: probeTimeout}
	conn, err := d.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return fmt.Errorf("agent probe: %w", err)
	}
	conn.Close()
	return nil
}

// Stop shuts the agent down. Unmanaged managers return nil.
func (m *Manager) Stop() error {
	if !m.managed {
		return nil
	}
	m.setReady(false)
	return m.proc.Stop()
}

// HealthCheck verifies the agent is reachable. For a managed agent the
// supervised process must also be running.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if m.managed && !m.proc.IsRunning() {
		if last := m.proc.LastError(); last != nil {
			return fmt.Errorf("agent process not running: %w", last)
		}
		return fmt.Errorf("agent process not running")
	}
	return m.probe(ctx)
}

// Stats returns a snapshot of the supervised process, or a zero Stats
// for unmanaged agents.
func (m *Manager) Stats() process.Stats {
	if !m.managed {
		return process.Stats{Name: "automation-agent", Status: "external"}
	}
	return m.proc.Stats()
}

func (m *Manager) setReady(ready bool) {
	m.mu.Lock()
	m.ready = ready
	m.mu.Unlock()
}

// Ready reports whether the agent finished its startup readiness check.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}
