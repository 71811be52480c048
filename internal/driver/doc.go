// Package driver talks to the device-automation agent that drives the
// TikTok app on physical phones.
//
// It has three layers:
//
//   - Client: HTTP JSON transport to the agent, with transport errors
//     classified onto the failure taxonomy (transient, timeout,
//     device_disconnected, unknown_outcome, ...).
//   - SessionManager: one automation session per physical device. Runs
//     whose accounts share a phone queue on a per-device lock.
//   - Executor: single upload/delete actions inside a session. No retry
//     logic here; the run controller owns retries because it persists
//     state between attempts.
//
// The unknown_outcome code is the load-bearing one: when a response is
// lost after a mutating request may have reached the agent, the action's
// effect on the account is unknowable, so callers must never blindly
// retry it.
package driver
