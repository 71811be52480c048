package device

import "time"

// Device represents a physical phone available for automation.
// This matches the database schema in migrations/20260301_120000_initial_schema.up.sql.
type Device struct {
	// Identity
	ID   string `json:"id"`
	UDID string `json:"udid"`
	Name string `json:"name"`

	// Classification
	Platform Platform `json:"platform"`

	// Health monitoring
	HealthStatus   HealthStatus `json:"health_status"`
	HealthLastSeen *time.Time   `json:"health_last_seen,omitempty"`

	// Metadata
	Notes *string `json:"notes,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Platform identifies the device operating system.
type Platform string

// Supported platforms.
const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// AllPlatforms returns every supported platform value.
func AllPlatforms() []Platform {
	return []Platform{PlatformIOS, PlatformAndroid}
}

// HealthStatus describes the last known reachability of a device.
type HealthStatus string

// Health status values. A device is "busy" while a run holds its session;
// "unreachable" means the automation agent could not see the device.
const (
	HealthUnknown     HealthStatus = "unknown"
	HealthHealthy     HealthStatus = "healthy"
	HealthBusy        HealthStatus = "busy"
	HealthUnreachable HealthStatus = "unreachable"
)

// AllHealthStatuses returns every valid health status value.
func AllHealthStatuses() []HealthStatus {
	return []HealthStatus{HealthUnknown, HealthHealthy, HealthBusy, HealthUnreachable}
}
