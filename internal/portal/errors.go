package portal

import "errors"

// Sentinel errors for the three failure classes callers branch on. All errors
// returned by Client wrap one of these, so errors.Is works across wrapping.
var (
	// ErrAuthFailed means the portal rejected the configured credentials, or
	// the login page came back without a session token. Not retryable until
	// the credentials change.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrUnavailable means the portal could not be reached or answered with a
	// server error. Safe to retry on the next poll.
	ErrUnavailable = errors.New("portal unavailable")

	// ErrBadResponse means the portal answered but the body did not have the
	// expected shape.
	ErrBadResponse = errors.New("unexpected portal response")
)
