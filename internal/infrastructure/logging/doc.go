// Package logging provides structured logging for Carousel Core.
//
// It wraps log/slog with configuration-driven format and level selection
// and stamps every record with the service name and version. Packages that
// need logging accept a minimal Logger interface locally and receive this
// implementation at wiring time.
package logging
