// Package device manages the inventory of physical phones used for
// carousel automation.
//
// A device is identified internally by a generated ID and externally by
// its hardware UDID, which the automation agent uses to target sessions.
// Health status tracks the last known reachability so the API can surface
// offline devices before a run is scheduled onto them.
//
// Devices are a shared resource: several accounts may be bound to the
// same phone, but only one run may hold a device session at a time. That
// mutual exclusion is enforced by the driver session manager, not here.
package device
