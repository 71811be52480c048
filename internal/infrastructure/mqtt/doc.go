// Package mqtt wraps paho.mqtt.golang for the carousel event bus.
//
// The service publishes run status (retained), run events, device health,
// and account counters so external dashboards can follow cycles live
// without polling the REST API. Last Will and Testament on
// carousel/system/status lets subscribers distinguish a crash from a
// graceful shutdown.
package mqtt
