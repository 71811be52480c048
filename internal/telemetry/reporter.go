package telemetry

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/carousel-core/internal/api"
	"github.com/nerrad567/carousel-core/internal/carousel"
	"github.com/nerrad567/carousel-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/carousel-core/internal/infrastructure/mqtt"
)

// Logger is the minimal logging interface reporters need.
type Logger interface {
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Multi fans run telemetry out to several reporters. A nil or empty
// Multi is a valid no-op reporter.
type Multi []carousel.Reporter

// NewMulti builds a fan-out reporter, skipping nil entries.
func NewMulti(reporters ...carousel.Reporter) Multi {
	out := make(Multi, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m Multi) RunPhase(run *carousel.Run) {
	for _, r := range m {
		r.RunPhase(run)
	}
}

func (m Multi) RunEvent(runID string, phase carousel.Phase, message string) {
	for _, r := range m {
		r.RunEvent(runID, phase, message)
	}
}

func (m Multi) ItemOutcome(runID, deviceID, action, outcome string, duration time.Duration) {
	for _, r := range m {
		r.ItemOutcome(runID, deviceID, action, outcome, duration)
	}
}

func (m Multi) DwellSample(runID, accountID string, minutes float64) {
	for _, r := range m {
		r.DwellSample(runID, accountID, minutes)
	}
}

func (m Multi) DeviceHealth(deviceID, status string) {
	for _, r := range m {
		r.DeviceHealth(deviceID, status)
	}
}

// MQTTReporter publishes run telemetry to the event bus: retained status
// per run, plus a transition event stream.
type MQTTReporter struct {
	client *mqtt.Client
	topics mqtt.Topics
	logger Logger
}

// NewMQTTReporter wraps an MQTT client as a run reporter.
func NewMQTTReporter(client *mqtt.Client, logger Logger) *MQTTReporter {
	return &MQTTReporter{client: client, logger: logger}
}

// runStatus is the retained per-run status payload.
type runStatus struct {
	RunID      string     `json:"run_id"`
	CarouselID string     `json:"carousel_id"`
	AccountID  string     `json:"account_id"`
	Phase      string     `json:"phase"`
	Cycle      int        `json:"cycle"`
	LiveItems  int        `json:"live_items"`
	WakeAt     *time.Time `json:"wake_at,omitempty"`
	LastError  *string    `json:"last_error,omitempty"`
	Timestamp  string     `json:"timestamp"`
}

func (r *MQTTReporter) RunPhase(run *carousel.Run) {
	payload, err := json.Marshal(runStatus{
		RunID:      run.ID,
		CarouselID: run.CarouselID,
		AccountID:  run.AccountID,
		Phase:      string(run.Phase),
		Cycle:      run.Cycle,
		LiveItems:  len(run.LiveItems),
		WakeAt:     run.WakeAt,
		LastError:  run.LastError,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := r.client.PublishRetained(r.topics.RunStatus(run.ID), payload); err != nil {
		r.logger.Debug("run status publish failed", "run_id", run.ID, "error", err)
	}
}

func (r *MQTTReporter) RunEvent(runID string, phase carousel.Phase, message string) {
	payload, err := json.Marshal(map[string]string{
		"run_id":    runID,
		"phase":     string(phase),
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := r.client.PublishEvent(r.topics.RunEvent(runID), payload); err != nil {
		r.logger.Debug("run event publish failed", "run_id", runID, "error", err)
	}
}

func (r *MQTTReporter) ItemOutcome(string, string, string, string, time.Duration) {
	// Item-level timing goes to InfluxDB, not the event bus.
}

func (r *MQTTReporter) DwellSample(string, string, float64) {}

// DeviceHealth publishes a retained health observation so dashboards see
// the device's last known state on connect.
func (r *MQTTReporter) DeviceHealth(deviceID, status string) {
	payload, err := json.Marshal(map[string]string{
		"device_id": deviceID,
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := r.client.PublishRetained(r.topics.DeviceHealth(deviceID), payload); err != nil {
		r.logger.Debug("device health publish failed", "device_id", deviceID, "error", err)
	}
}

// InfluxReporter writes run telemetry as time-series points.
type InfluxReporter struct {
	client *influxdb.Client
}

// NewInfluxReporter wraps an InfluxDB client as a run reporter.
func NewInfluxReporter(client *influxdb.Client) *InfluxReporter {
	return &InfluxReporter{client: client}
}

func (r *InfluxReporter) RunPhase(run *carousel.Run) {
	r.client.WritePhaseTransition(run.ID, run.AccountID, string(run.Phase), run.Cycle)
}

func (r *InfluxReporter) RunEvent(string, carousel.Phase, string) {
	// Free-text events are not useful as time series; the run_events
	// table and MQTT carry them.
}

func (r *InfluxReporter) ItemOutcome(runID, deviceID, action, outcome string, duration time.Duration) {
	r.client.WriteItemOutcome(runID, deviceID, action, outcome, duration)
}

func (r *InfluxReporter) DwellSample(runID, accountID string, minutes float64) {
	r.client.WriteDwellSample(runID, accountID, minutes)
}

func (r *InfluxReporter) DeviceHealth(deviceID, status string) {
	r.client.WriteDeviceHealth(deviceID, status)
}

// HubReporter broadcasts run telemetry to WebSocket clients.
type HubReporter struct {
	hub *api.Hub
}

// NewHubReporter wraps a WebSocket hub as a run reporter.
func NewHubReporter(hub *api.Hub) *HubReporter {
	return &HubReporter{hub: hub}
}

func (r *HubReporter) RunPhase(run *carousel.Run) {
	r.hub.Broadcast(api.ChannelRunPhase, map[string]any{
		"run_id":     run.ID,
		"phase":      run.Phase,
		"cycle":      run.Cycle,
		"live_items": len(run.LiveItems),
		"wake_at":    run.WakeAt,
	})
}

func (r *HubReporter) RunEvent(runID string, phase carousel.Phase, message string) {
	r.hub.Broadcast(api.ChannelRunEvent, map[string]any{
		"run_id":  runID,
		"phase":   phase,
		"message": message,
	})
}

func (r *HubReporter) ItemOutcome(runID, deviceID, action, outcome string, duration time.Duration) {
	r.hub.Broadcast(api.ChannelRunEvent, map[string]any{
		"run_id":      runID,
		"device_id":   deviceID,
		"action":      action,
		"outcome":     outcome,
		"duration_ms": duration.Milliseconds(),
	})
}

func (r *HubReporter) DwellSample(string, string, float64) {}

func (r *HubReporter) DeviceHealth(deviceID, status string) {
	r.hub.Broadcast(api.ChannelDeviceHealth, map[string]any{
		"device_id": deviceID,
		"status":    status,
	})
}
