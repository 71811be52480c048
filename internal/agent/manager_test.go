package agent

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/nerrad567/carousel-core/internal/infrastructure/config"
)

func TestNewManager_Unmanaged(t *testing.T) {
	m, err := NewManager(config.AgentConfig{Managed: false, Port: 4723})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}

	if m.IsManaged() {
		t.Error("IsManaged() = true, want false")
	}

	// Lifecycle calls are no-ops for an external agent.
	if err := m.Start(context.Background()); err != nil {
		t.Errorf("Start() error = %v, want nil", err)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() error = %v, want nil", err)
	}

	stats := m.Stats()
	if stats.Status != "external" {
		t.Errorf("Stats().Status = %q, want external", stats.Status)
	}
}

func TestNewManager_ManagedValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AgentConfig
	}{
		{"missing binary", config.AgentConfig{Managed: true, Port: 4723}},
		{"shell metacharacters", config.AgentConfig{Managed: true, Binary: "/usr/bin/agent; rm -rf", Port: 4723}},
		{"backticks", config.AgentConfig{Managed: true, Binary: "`whoami`", Port: 4723}},
		{"port zero", config.AgentConfig{Managed: true, Binary: "/usr/bin/agent", Port: 0}},
		{"port out of range", config.AgentConfig{Managed: true, Binary: "/usr/bin/agent", Port: 70000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestNewManager_ValidManagedConfig(t *testing.T) {
	m, err := NewManager(config.AgentConfig{
		Managed:             true,
		Binary:              "/usr/local/bin/automation-agent",
		Args:                []string{"--port", "4723"},
		Port:                4723,
		RestartOnFailure:    true,
		RestartDelaySeconds: 5,
		MaxRestartAttempts:  10,
	})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}

	if !m.IsManaged() {
		t.Error("IsManaged() = false, want true")
	}
	if m.Ready() {
		t.Error("Ready() = true before Start()")
	}
}

func TestInvalidPathSentinel(t *testing.T) {
	_, err := NewManager(config.AgentConfig{Managed: true, Binary: "agent $(evil)", Port: 4723})
	if !errors.Is(err, ErrInvalidPath) {
		t.Errorf("error = %v, want ErrInvalidPath", err)
	}
}

func TestProbe(t *testing.T) {
	// Listen on an ephemeral port to stand in for the agent.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port

	m, err := NewManager(config.AgentConfig{Managed: false, Port: port})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}

	if err := m.probe(context.Background()); err != nil {
		t.Errorf("probe() against live listener error: %v", err)
	}

	// HealthCheck for an unmanaged agent is just the probe.
	if err := m.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	ln.Close()
	if err := m.probe(context.Background()); err == nil {
		t.Error("probe() after listener closed expected error, got nil")
	}
}

func TestAddressFormat(t *testing.T) {
	m, err := NewManager(config.AgentConfig{Managed: false, Port: 4723})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}

	want := net.JoinHostPort("127.0.0.1", strconv.Itoa(4723))
	if m.addr != want {
		t.Errorf("addr = %q, want %q", m.addr, want)
	}
}
