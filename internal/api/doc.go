// Package api provides the HTTP REST API and WebSocket server for
// Carousel Core.
//
// It exposes the device, account, and content registries, carousel and
// run lifecycle operations (activate, cancel, resume), the audit trail,
// and a WebSocket feed of live run events to admin clients.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
