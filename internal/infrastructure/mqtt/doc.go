// Package mqtt wraps the Eclipse Paho client for Daikin Cloud Core.
//
// The service publishes retained unit state and subscribes to command
// topics so MQTT-native consumers (Home Assistant, Node-RED, dashboards)
// can operate units without touching the REST API. The bridge package
// wires this client to the unit registry and the command dispatcher.
//
// # Topic Scheme
//
//	daikincloud/unit/{unit_id}/state    retained state json (published)
//	daikincloud/unit/{unit_id}/event    command lifecycle events (published)
//	daikincloud/unit/{unit_id}/set      control commands (subscribed)
//	daikincloud/system/status           availability, incl. LWT on crash
//
// # Reliability
//
// The client auto-reconnects with exponential backoff, restores all
// subscriptions on reconnect, and registers a Last Will so consumers see
// an offline status even when the process dies without cleanup.
package mqtt
