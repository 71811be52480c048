// Package telemetry adapts the infrastructure clients (MQTT, InfluxDB,
// the WebSocket hub) to the carousel controller's Reporter interface and
// fans one event stream out to all of them.
package telemetry
