// Package account manages the TikTok accounts the service automates.
//
// Every account is bound to one physical device. The binding is what the
// scheduler uses to route a run's driver session; accounts sharing a
// device queue for it. Upload counters track per-day and lifetime
// confirmed uploads for operator dashboards.
package account
