package mqtt

import "fmt"

// Topic prefixes for the carousel event bus.
//
// All topics use the flat scheme: carousel/{category}/{id}/{facet}.
// Run status topics are retained so dashboards reconnecting mid-cycle
// immediately see the current phase.
const (
	// TopicPrefix is the base for all carousel topics.
	TopicPrefix = "carousel"

	// TopicPrefixSystem is the base for service-level topics.
	TopicPrefixSystem = "carousel/system"
)

// Topics provides builders for carousel MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	statusTopic := topics.RunStatus("run-a1b2c3d4")
//	// Returns: "carousel/run/run-a1b2c3d4/status"
type Topics struct{}

// RunStatus returns the retained status topic for a carousel run.
//
// Example: carousel/run/run-a1b2c3d4/status
func (Topics) RunStatus(runID string) string {
	return fmt.Sprintf("%s/run/%s/status", TopicPrefix, runID)
}

// RunEvent returns the event topic for a carousel run.
// Events are transient (not retained): uploads, deletions, phase changes.
//
// Example: carousel/run/run-a1b2c3d4/event
func (Topics) RunEvent(runID string) string {
	return fmt.Sprintf("%s/run/%s/event", TopicPrefix, runID)
}

// RunCommand returns the operator command topic for a carousel run.
// The daemon subscribes here so runs can be cancelled or resumed over
// the bus as well as over HTTP.
//
// Example: carousel/run/run-a1b2c3d4/command
func (Topics) RunCommand(runID string) string {
	return fmt.Sprintf("%s/run/%s/command", TopicPrefix, runID)
}

// DeviceHealth returns the health topic for a physical device.
//
// Example: carousel/device/dev-9f8e7d6c/health
func (Topics) DeviceHealth(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/health", TopicPrefix, deviceID)
}

// AccountCounters returns the upload-counter topic for an account.
//
// Example: carousel/account/acc-1a2b3c4d/counters
func (Topics) AccountCounters(accountID string) string {
	return fmt.Sprintf("%s/account/%s/counters", TopicPrefix, accountID)
}

// SystemStatus returns the service status topic (online/offline, LWT).
//
// Example: carousel/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllRunStatuses returns a pattern matching all run status topics.
//
// Pattern: carousel/run/+/status
func (Topics) AllRunStatuses() string {
	return fmt.Sprintf("%s/run/+/status", TopicPrefix)
}

// AllRunEvents returns a pattern matching all run event topics.
//
// Pattern: carousel/run/+/event
func (Topics) AllRunEvents() string {
	return fmt.Sprintf("%s/run/+/event", TopicPrefix)
}

// AllRunCommands returns a pattern matching all run command topics.
//
// Pattern: carousel/run/+/command
func (Topics) AllRunCommands() string {
	return fmt.Sprintf("%s/run/+/command", TopicPrefix)
}

// AllDeviceHealth returns a pattern matching all device health topics.
//
// Pattern: carousel/device/+/health
func (Topics) AllDeviceHealth() string {
	return fmt.Sprintf("%s/device/+/health", TopicPrefix)
}

// AllTopics returns a pattern matching all carousel topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: carousel/#
func (Topics) AllTopics() string {
	return "carousel/#"
}
