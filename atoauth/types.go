package atoauth

import (
	"time"
)

var clientAssertionJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// The fields which are included in a PAR request. These HTTP POST bodies are form-encoded, so use URL encoding syntax, not JSON.
type pushedAuthRequest struct {
	// Client ID, aka client metadata URL
	ClientID string `url:"client_id"`

	// Random identifier for this request, generated by client
	State string `url:"state"`

	// Client-specified URL that will get redirected to by auth server at end of user auth flow
	RedirectURI string `url:"redirect_uri"`

	// Requested auth scopes, as a space-delimited list
	Scope string `url:"scope"`

	// Optional account identifier (DID or handle) to help with user account login and/or account switching
	LoginHint *string `url:"login_hint,omitempty"`

	// Always "code"
	ResponseType string `url:"response_type"`

	// For confidential clients, "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	ClientAssertionType *string `url:"client_assertion_type,omitempty"`

	// Confidential client signed JWT
	ClientAssertion *string `url:"client_assertion,omitempty"`

	// Client-generated PKCE challenge hash, derived from random "verifier" string
	CodeChallenge string `url:"code_challenge"`

	// Almost always "S256"
	CodeChallengeMethod string `url:"code_challenge_method"`
}

type pushedAuthResponse struct {
	// unique token in URI format, which will be used by the client in the auth flow redirect
	RequestURI string `json:"request_uri"`

	// positive integer indicating number of seconds the `request_uri` is valid for.
	ExpiresIn int `json:"expires_in"`
}

// The fields which are included in an initial token request.
type initialTokenRequest struct {
	ClientID string `url:"client_id"`

	// Auth server validates that this matches the redirect URI used during the auth flow
	RedirectURI string `url:"redirect_uri"`

	// Always `authorization_code`
	GrantType string `url:"grant_type"`

	// Authorization Code provided by the Auth Server via callback at the end of the auth request flow
	Code string `url:"code"`

	// PKCE verifier string. Only included in initial token request
	CodeVerifier string `url:"code_verifier"`

	ClientAssertionType *string `url:"client_assertion_type,omitempty"`
	ClientAssertion     *string `url:"client_assertion,omitempty"`
}

// The fields which are included in a token refresh request.
type refreshTokenRequest struct {
	ClientID string `url:"client_id"`

	// Always `refresh_token`
	GrantType string `url:"grant_type"`

	RefreshToken string `url:"refresh_token"`

	ClientAssertionType *string `url:"client_assertion_type,omitempty"`
	ClientAssertion     *string `url:"client_assertion,omitempty"`
}

// Expected response from Auth Server token endpoint, both for initial token request and for refresh requests.
type tokenResponse struct {
	Subject string `json:"sub"`

	// Usually the scopes the client requested, but technically only a subset may have been approved.
	Scope string `json:"scope"`

	// Opaque access token, for requests to the resource server.
	AccessToken string `json:"access_token"`

	// Refresh token, for doing additional token requests to the auth server.
	RefreshToken string `json:"refresh_token"`

	// seconds until the access token expires
	ExpiresIn int `json:"expires_in"`
}

// Persisted state of an in-flight authorization attempt. Serialized into
// the opaque flow record blob; only this package reads or writes it.
type flowRecord struct {
	// Random flow identifier generated by the client; storage key for this record
	State string `json:"state"`

	// DID resolved from the login identifier, to verify against the token response
	AccountDID string `json:"account_did"`

	// Base URL of the user's PDS ("resource server")
	HostURL string `json:"host_url"`

	// Issuer URL of the auth server
	AuthServerURL string `json:"authserver_url"`

	// Full token endpoint URL
	TokenEndpoint string `json:"authserver_token_endpoint"`

	// space-delimited requested scopes
	Scope string `json:"scope"`

	// The secret token/nonce which a code challenge was generated from
	PKCEVerifier string `json:"pkce_verifier"`

	// Server-provided DPoP nonce from auth request (PAR)
	DPoPAuthServerNonce string `json:"dpop_authserver_nonce"`

	// The secret per-flow DPoP key, serialized as a JWK
	DPoPPrivateJWK []byte `json:"dpop_private_jwk"`
}

// Persisted state of a completed session. Serialized into the opaque
// session credential blob; only this package reads or writes it.
type sessionRecord struct {
	AccountDID string `json:"account_did"`

	// Base URL of the PDS ("resource server"): scheme, hostname, port; no path
	HostURL string `json:"host_url"`

	// Issuer URL of the auth server
	AuthServerURL string `json:"authserver_url"`

	// Full token endpoint URL
	TokenEndpoint string `json:"authserver_token_endpoint"`

	Scope string `json:"scope"`

	// Token which can be used directly against the host ("resource server", eg PDS)
	AccessToken string `json:"access_token"`

	// Token which can be sent to the auth server to get a new access token
	RefreshToken string `json:"refresh_token"`

	// When the access token stops being usable; refresh happens lazily on restore
	AccessExpiresAt time.Time `json:"access_expires_at"`

	// Current auth server DPoP nonce
	DPoPAuthServerNonce string `json:"dpop_authserver_nonce"`

	// Current host DPoP nonce
	DPoPHostNonce string `json:"dpop_host_nonce"`

	// The secret per-session DPoP key, serialized as a JWK
	DPoPPrivateJWK []byte `json:"dpop_private_jwk"`
}
