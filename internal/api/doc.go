// Package api provides the REST and WebSocket front end.
//
// The REST surface exposes the unit catalogue, live state snapshots and
// the four command endpoints (power, mode, target temperature, fan
// speed). Commands return 202 Accepted with the submitted command, the
// eventual outcome arrives over the WebSocket as a command_confirmed or
// command_expired event.
//
// The WebSocket endpoint streams registry events on three channels:
// unit.catalog, unit.state and unit.command. Clients subscribe with a
// {"type":"subscribe","channel":"unit.state"} frame.
package api
