// Package unit holds the domain model for air-conditioning units and the
// in-memory registry that tracks them.
//
// # Key Types
//
//   - Unit: a discovered unit, identified by its cloud edge ID
//   - State: the current view of a unit, observed or optimistic
//   - Command: an accepted control operation awaiting confirmation
//   - Registry: the thread-safe catalogue the rest of the system reads
//     and writes through
//
// The registry deliberately knows nothing about the cloud protocol.
// Discovery results arrive as plain Unit values, state changes arrive
// through UpsertState, and interested parties (the REST API, the
// WebSocket hub, the MQTT bridge) observe changes via Subscribe.
package unit
