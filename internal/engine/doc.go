// Package engine contains the synchronization core of Daikin Cloud Core.
//
// Two components live here:
//
//   - Synchronizer: the poll loop. Refreshes unit state from the cloud
//     on an interval, reconciles pending commands against observed
//     state, and applies per-unit exponential backoff so a failing unit
//     does not degrade the rest.
//
//   - Dispatcher: the command path. Validates a control request,
//     enforces one in-flight command per unit, submits the write, and
//     applies the optimistic state update only after the cloud accepts.
//
// The two never talk to each other directly; they meet in the unit
// registry. The dispatcher records pending commands there and the
// synchronizer settles them.
package engine
