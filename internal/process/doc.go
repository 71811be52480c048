// Package process provides generic subprocess lifecycle management:
// start, output capture, watchdog health probing, bounded automatic
// restarts, and graceful stop via SIGTERM then SIGKILL.
//
// It knows nothing about what it supervises; the agent package uses it
// to run the device-automation agent binary.
package process
