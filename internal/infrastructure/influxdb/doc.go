// Package influxdb wraps influxdb-client-go for carousel telemetry.
//
// The service records phase transitions, per-item upload/delete outcomes,
// dwell-time samples, and device health as time series. Writes are
// batched and non-blocking so telemetry never stalls a run; async write
// failures surface through an error callback.
//
// The integration is optional: when disabled in configuration the
// service runs without telemetry and Connect returns ErrDisabled.
package influxdb
