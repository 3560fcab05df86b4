// Package mqttbridge forwards unit state to MQTT and accepts control
// commands back, so MQTT-native consumers can operate units without the
// REST API.
//
// State is published retained; a consumer connecting mid-flight
// immediately sees every unit's last known state. Command lifecycle
// events (pending, confirmed, expired) are published non-retained
// because they only matter to live observers.
//
// Inbound commands share the dispatcher with the REST API, so every
// gate (capability check, value validation, one in-flight command per
// unit) applies identically regardless of transport.
package mqttbridge
