package account

import "time"

// Account represents a TikTok account managed by the service.
// Each account is bound to exactly one physical device; several accounts
// may share the same device and contend for its session.
type Account struct {
	// Identity
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	DisplayName *string `json:"display_name,omitempty"`

	// Device binding
	DeviceID string `json:"device_id"`

	// Scheduling
	Active bool `json:"active"`

	// Upload counters. UploadsToday resets at local midnight via
	// ResetDailyCounters; UploadsTotal is monotonic.
	UploadsToday int `json:"uploads_today"`
	UploadsTotal int `json:"uploads_total"`

	// Metadata
	Notes *string `json:"notes,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
