package cloud

import "errors"

// Domain errors for the cloud package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, cloud.ErrAuthenticationFailed) {
//	    // credentials rejected, do not retry blindly
//	}
var (
	// ErrNotConfigured is returned when no account credential has been stored.
	ErrNotConfigured = errors.New("cloud: not configured")

	// ErrAuthenticationFailed is returned when the vendor rejects the
	// stored credentials during login.
	ErrAuthenticationFailed = errors.New("cloud: authentication failed")

	// ErrSessionUnstable is returned when sessions are being invalidated
	// faster than the stability window allows. Callers should back off
	// rather than hammer the login endpoint.
	ErrSessionUnstable = errors.New("cloud: session unstable")

	// ErrDiscoveryFailed is returned when the unit catalogue cannot be
	// fetched or parsed.
	ErrDiscoveryFailed = errors.New("cloud: discovery failed")

	// ErrUnitUnreachable is returned when the cloud reports a unit offline
	// or a status request for it fails.
	ErrUnitUnreachable = errors.New("cloud: unit unreachable")

	// ErrUnauthorized is returned when a request is rejected with an
	// authentication error after a session was supposedly valid.
	ErrUnauthorized = errors.New("cloud: unauthorized")

	// ErrCommandRejected is returned when the vendor acknowledges a write
	// request but reports a non-success result code.
	ErrCommandRejected = errors.New("cloud: command rejected")

	// ErrCredentialResolution is returned when the client app credentials
	// cannot be recovered from the vendor's public endpoints.
	ErrCredentialResolution = errors.New("cloud: credential resolution failed")
)

// isSessionError reports whether err describes a session establishment
// failure. Those are about the account, not any one unit, so per-unit
// operations must not relabel them.
func isSessionError(err error) bool {
	return errors.Is(err, ErrNotConfigured) ||
		errors.Is(err, ErrAuthenticationFailed) ||
		errors.Is(err, ErrSessionUnstable)
}
