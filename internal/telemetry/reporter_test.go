package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/carousel-core/internal/carousel"
)

// mockReporter records every call it receives.
type mockReporter struct {
	mu     sync.Mutex
	phases []string
	events []string
	items  []string
	dwells []float64
	health []string
}

func (m *mockReporter) RunPhase(run *carousel.Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases = append(m.phases, string(run.Phase))
}

func (m *mockReporter) RunEvent(runID string, phase carousel.Phase, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, runID+":"+message)
}

func (m *mockReporter) ItemOutcome(runID, deviceID, action, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, action+":"+outcome)
}

func (m *mockReporter) DwellSample(_, _ string, minutes float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dwells = append(m.dwells, minutes)
}

func (m *mockReporter) DeviceHealth(deviceID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health = append(m.health, deviceID+":"+status)
}

func TestNewMulti_SkipsNil(t *testing.T) {
	a := &mockReporter{}
	multi := NewMulti(a, nil, nil)

	if len(multi) != 1 {
		t.Fatalf("expected 1 reporter, got %d", len(multi))
	}
}

func TestMulti_FansOut(t *testing.T) {
	a := &mockReporter{}
	b := &mockReporter{}
	multi := NewMulti(a, b)

	run := &carousel.Run{ID: "run-1", Phase: carousel.PhaseUploading}
	multi.RunPhase(run)
	multi.RunEvent("run-1", carousel.PhaseUploading, "upload started")
	multi.ItemOutcome("run-1", "dev-1", "upload", "success", 2*time.Second)
	multi.DwellSample("run-1", "acc-1", 42.5)
	multi.DeviceHealth("dev-1", "unreachable")

	for i, m := range []*mockReporter{a, b} {
		m.mu.Lock()
		if len(m.phases) != 1 || m.phases[0] != "uploading" {
			t.Errorf("reporter %d: expected 1 uploading phase, got %v", i, m.phases)
		}
		if len(m.events) != 1 || m.events[0] != "run-1:upload started" {
			t.Errorf("reporter %d: expected 1 event, got %v", i, m.events)
		}
		if len(m.items) != 1 || m.items[0] != "upload:success" {
			t.Errorf("reporter %d: expected 1 item outcome, got %v", i, m.items)
		}
		if len(m.dwells) != 1 || m.dwells[0] != 42.5 {
			t.Errorf("reporter %d: expected 1 dwell sample, got %v", i, m.dwells)
		}
		if len(m.health) != 1 || m.health[0] != "dev-1:unreachable" {
			t.Errorf("reporter %d: expected 1 health report, got %v", i, m.health)
		}
		m.mu.Unlock()
	}
}

func TestMulti_EmptyIsNoOp(t *testing.T) {
	var multi Multi

	// Must not panic.
	multi.RunPhase(&carousel.Run{ID: "run-1"})
	multi.RunEvent("run-1", carousel.PhaseIdle, "noop")
	multi.ItemOutcome("run-1", "dev-1", "delete", "success", time.Second)
	multi.DwellSample("run-1", "acc-1", 10)
	multi.DeviceHealth("dev-1", "healthy")
}
