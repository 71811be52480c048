package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePhaseTransition records a run entering a new phase.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Dashboards use this series to chart cycle cadence per account.
//
// Parameters:
//   - runID: Run identifier (e.g., "run-a1b2c3d4")
//   - accountID: Owning account identifier
//   - phase: Phase being entered (e.g., "uploading", "live_waiting")
//   - cycle: Cycle counter at the time of transition
func (c *Client) WritePhaseTransition(runID, accountID, phase string, cycle int) {
	c.WritePoint(
		"run_phase",
		map[string]string{
			"run_id":     runID,
			"account_id": accountID,
			"phase":      phase,
		},
		map[string]interface{}{
			"cycle": cycle,
		},
	)
}

// WriteItemOutcome records the result of a single upload or delete action.
//
// Parameters:
//   - runID: Run identifier
//   - deviceID: Device the action ran on
//   - action: "upload" or "delete"
//   - outcome: "ok", "retried", or an error code from the failure taxonomy
//   - duration: Wall-clock time the action took, including retries
func (c *Client) WriteItemOutcome(runID, deviceID, action, outcome string, duration time.Duration) {
	c.WritePoint(
		"item_outcome",
		map[string]string{
			"run_id":    runID,
			"device_id": deviceID,
			"action":    action,
			"outcome":   outcome,
		},
		map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
		},
	)
}

// WriteDwellSample records the randomized live-wait duration chosen
// for a cycle. Useful for verifying the sampling stays in bounds.
func (c *Client) WriteDwellSample(runID, accountID string, minutes float64) {
	c.WritePoint(
		"dwell_sample",
		map[string]string{
			"run_id":     runID,
			"account_id": accountID,
		},
		map[string]interface{}{
			"minutes": minutes,
		},
	)
}

// WriteDeviceHealth records a device health observation.
//
// Parameters:
//   - deviceID: Device identifier
//   - status: Health status string ("healthy", "unreachable", "unknown")
func (c *Client) WriteDeviceHealth(deviceID, status string) {
	c.WritePoint(
		"device_health",
		map[string]string{
			"device_id": deviceID,
			"status":    status,
		},
		map[string]interface{}{
			"observed": 1,
		},
	)
}

// WritePoint writes a custom point stamped with the current time.
//
// The named helpers above all route through here; use it directly for
// measurements that don't fit them.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., backfilled data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
