package auth

import (
	"context"
	"net/url"
)

// A renewable identity credential for an authenticated account.
//
// Data is an opaque serialized blob (token material, issuer, key
// references) understood only by the [IdentityClient] which produced it.
type Credential struct {
	// Stable account identifier (eg, a DID). Used as the storage key for
	// the session record.
	Subject string

	Data []byte
}

// A freshly-started authorization attempt, produced by
// [IdentityClient.StartAuthFlow].
type AuthRequest struct {
	// Provider-correlated flow identifier, embedded in the redirect URL as
	// the `state` query parameter. Storage key for the flow record.
	FlowID string

	// Authorization URL the user's browser should be sent to.
	RedirectURL string

	// Opaque serialized flow context (PKCE verifier, nonces, issuer
	// metadata). Owned by the IdentityClient.
	Data []byte
}

// IdentityClient covers the provider-protocol mechanics of the OAuth flow:
// identifier resolution, auth request construction, callback validation and
// token exchange, and credential refresh. It never touches storage; the
// [Coordinator] owns all reads and writes of flow and session records.
type IdentityClient interface {
	// StartAuthFlow resolves the account identifier to its authorization
	// server and constructs an authorization request.
	StartAuthFlow(ctx context.Context, identifier string) (*AuthRequest, error)

	// ProcessCallback validates the provider's callback parameters against
	// the stored flow context and exchanges the authorization code for a
	// renewable credential.
	ProcessCallback(ctx context.Context, params url.Values, flowData []byte) (*Credential, error)

	// RestoreSession validates (and refreshes, if needed) a stored
	// credential, returning the possibly-updated credential. Fails if the
	// credential is corrupt or the provider rejects it.
	RestoreSession(ctx context.Context, cred Credential) (*Credential, error)
}
