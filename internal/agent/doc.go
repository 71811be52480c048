// Package agent supervises the local device-automation agent binary:
// launch, TCP readiness polling, watchdog restarts, and graceful stop.
//
// Supervision is optional. With driver.agent.managed set to false the
// agent is expected to run externally and the manager only carries the
// health probe used by the system status endpoint.
package agent
