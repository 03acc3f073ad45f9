package auth

import (
	"errors"
)

// Error taxonomy for the authentication flow. Handlers at the request
// boundary distinguish these with [errors.Is]; any error from this package
// which matches none of them is an infrastructure failure (storage or
// network unreachable) and must surface as a server error, never as "not
// logged in".
var (
	// Identifier resolution or authorization endpoint discovery failed.
	// User-correctable: surface a retry path. No state was persisted.
	ErrInitiationFailed = errors.New("could not start authorization flow")

	// Callback parameters were rejected: tampered params, unknown or
	// expired flow, or token exchange refused. Terminal for the flow
	// attempt; the user must restart from login.
	ErrCallbackFailed = errors.New("authorization callback rejected")

	// No live flow record for the callback's flow identifier. Flow records
	// are single-use, so a replayed callback lands here.
	ErrFlowNotFound = errors.New("unknown or already-consumed authorization flow")

	// A stored session credential is corrupt, expired, or revoked. Distinct
	// from "no session": callers treat both as unauthenticated, but may log
	// this one.
	ErrRestoreFailed = errors.New("stored session credential is no longer usable")
)
