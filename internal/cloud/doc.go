// Package cloud implements the vendor cloud protocol for Daikin Cloud Core.
//
// The package speaks the same HTTP API the vendor's mobile application
// uses. There is no documented contract: payload shapes, result codes and
// encodings were recovered from observed traffic, so the package is
// deliberately defensive about malformed responses.
//
// # Components
//
//   - Store: persistence for the single configured account credential and
//     its current session (SQLite backed).
//   - Manager: session lifecycle. Performs single-flight login, tracks
//     token expiry, and detects unstable sessions when invalidations
//     cluster together.
//   - Client: the protocol client. Discovers units, fetches status trees
//     and submits control writes through the batched request endpoint.
//
// # Authentication
//
// Login exchanges the account password for a token set. Requests are then
// authenticated with either the id token or the access token; which one a
// given backend deployment accepts varies, so the client tries the
// configured mode first and locks onto whichever works.
//
// A request rejected as unauthorized invalidates the session and is
// retried exactly once after a fresh login. Repeated invalidations within
// a short window mark the session unstable and surface
// ErrSessionUnstable instead of looping on the login endpoint.
package cloud
