package atoauth

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/go-querystring/query"

	"github.com/skywrite-dev/skywrite/auth"
)

// Client implements [auth.IdentityClient] for the atproto OAuth profile:
// identifier resolution, pushed authorization requests (PAR) with PKCE,
// DPoP-bound token exchange, and token refresh.
//
// The client holds no per-user state; everything about an in-flight flow or
// a live session travels through the opaque record blobs, so a single
// Client is shared across all requests.
type Client struct {
	Config   ClientConfig
	Resolver *Resolver

	// HTTP client for PAR and token requests. No automatic retries:
	// auth codes and refresh tokens are single-use.
	HTTPClient *http.Client

	logger *slog.Logger
}

var _ auth.IdentityClient = (*Client)(nil)

func NewClient(config ClientConfig) *Client {
	return &Client{
		Config:     config,
		Resolver:   NewResolver(),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default().With("component", "atoauth"),
	}
}

func (c *Client) StartAuthFlow(ctx context.Context, identifier string) (*auth.AuthRequest, error) {
	ident, err := c.Resolver.ResolveIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	authMeta, err := c.Resolver.ResolveAuthServer(ctx, ident.HostURL)
	if err != nil {
		return nil, err
	}

	state := randomNonce()
	pkceVerifier := fmt.Sprintf("%s%s%s", randomNonce(), randomNonce(), randomNonce())
	dpopKey, dpopJWKRaw, err := generateDPoPKey()
	if err != nil {
		return nil, err
	}

	parReq := pushedAuthRequest{
		ClientID:            c.Config.ClientID,
		State:               state,
		RedirectURI:         c.Config.CallbackURL,
		Scope:               c.Config.Scope,
		LoginHint:           &identifier,
		ResponseType:        "code",
		CodeChallenge:       S256CodeChallenge(pkceVerifier),
		CodeChallengeMethod: "S256",
	}
	if c.Config.IsConfidential() {
		assertion, err := newClientAssertionJWT(c.Config.ClientID, authMeta.Issuer, c.Config.secretKeyID, c.Config.secretKey)
		if err != nil {
			return nil, err
		}
		parReq.ClientAssertionType = &clientAssertionJWTBearer
		parReq.ClientAssertion = &assertion
	}
	vals, err := query.Values(parReq)
	if err != nil {
		return nil, err
	}

	c.logger.Info("sending auth request", "authServer", authMeta.Issuer, "state", state, "scope", c.Config.Scope)

	body, dpopNonce, err := c.postWithDPoP(ctx, authMeta.PushedAuthorizationRequestEndpoint, vals, dpopKey, "")
	if err != nil {
		return nil, fmt.Errorf("auth request (PAR) failed: %w", err)
	}
	var parResp pushedAuthResponse
	if err := json.Unmarshal(body, &parResp); err != nil {
		return nil, fmt.Errorf("auth request (PAR) response failed to decode: %w", err)
	}

	redirectParams := url.Values{
		"client_id":   []string{c.Config.ClientID},
		"request_uri": []string{parResp.RequestURI},
	}
	redirectURL := authMeta.AuthorizationEndpoint + "?" + redirectParams.Encode()

	rec := flowRecord{
		State:               state,
		AccountDID:          ident.DID,
		HostURL:             ident.HostURL,
		AuthServerURL:       authMeta.Issuer,
		TokenEndpoint:       authMeta.TokenEndpoint,
		Scope:               c.Config.Scope,
		PKCEVerifier:        pkceVerifier,
		DPoPAuthServerNonce: dpopNonce,
		DPoPPrivateJWK:      dpopJWKRaw,
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		return nil, err
	}

	return &auth.AuthRequest{
		FlowID:      state,
		RedirectURL: redirectURL,
		Data:        data,
	}, nil
}

func (c *Client) ProcessCallback(ctx context.Context, params url.Values, flowData []byte) (*auth.Credential, error) {
	var rec flowRecord
	if err := json.Unmarshal(flowData, &rec); err != nil {
		return nil, fmt.Errorf("corrupt flow record: %w", err)
	}

	if errCode := params.Get("error"); errCode != "" {
		return nil, fmt.Errorf("auth server refused request: %s (%s)", errCode, params.Get("error_description"))
	}
	if st := params.Get("state"); st != rec.State {
		return nil, fmt.Errorf("state parameter mismatch")
	}
	if iss := params.Get("iss"); iss != rec.AuthServerURL {
		return nil, fmt.Errorf("issuer mismatch: expected %s", rec.AuthServerURL)
	}
	code := params.Get("code")
	if code == "" {
		return nil, fmt.Errorf("missing code parameter")
	}

	dpopKey, err := parseKeyJWK(rec.DPoPPrivateJWK)
	if err != nil {
		return nil, err
	}

	tokenReq := initialTokenRequest{
		ClientID:     c.Config.ClientID,
		RedirectURI:  c.Config.CallbackURL,
		GrantType:    "authorization_code",
		Code:         code,
		CodeVerifier: rec.PKCEVerifier,
	}
	if c.Config.IsConfidential() {
		assertion, err := newClientAssertionJWT(c.Config.ClientID, rec.AuthServerURL, c.Config.secretKeyID, c.Config.secretKey)
		if err != nil {
			return nil, err
		}
		tokenReq.ClientAssertionType = &clientAssertionJWTBearer
		tokenReq.ClientAssertion = &assertion
	}
	vals, err := query.Values(tokenReq)
	if err != nil {
		return nil, err
	}

	body, dpopNonce, err := c.postWithDPoP(ctx, rec.TokenEndpoint, vals, dpopKey, rec.DPoPAuthServerNonce)
	if err != nil {
		return nil, fmt.Errorf("initial token request failed: %w", err)
	}
	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("token response failed to decode: %w", err)
	}

	// the flow started from a resolved identity; the token must belong to it
	if tokenResp.Subject != rec.AccountDID {
		return nil, fmt.Errorf("token subject mismatch: %s != %s", tokenResp.Subject, rec.AccountDID)
	}
	if tokenResp.AccessToken == "" || tokenResp.RefreshToken == "" {
		return nil, fmt.Errorf("token response missing token material")
	}

	sess := sessionRecord{
		AccountDID:          rec.AccountDID,
		HostURL:             rec.HostURL,
		AuthServerURL:       rec.AuthServerURL,
		TokenEndpoint:       rec.TokenEndpoint,
		Scope:               tokenResp.Scope,
		AccessToken:         tokenResp.AccessToken,
		RefreshToken:        tokenResp.RefreshToken,
		AccessExpiresAt:     accessExpiry(tokenResp.ExpiresIn),
		DPoPAuthServerNonce: dpopNonce,
		DPoPPrivateJWK:      rec.DPoPPrivateJWK,
	}
	data, err := json.Marshal(&sess)
	if err != nil {
		return nil, err
	}

	return &auth.Credential{Subject: sess.AccountDID, Data: data}, nil
}

func (c *Client) RestoreSession(ctx context.Context, cred auth.Credential) (*auth.Credential, error) {
	rec, err := parseSessionRecord(cred)
	if err != nil {
		return nil, err
	}

	// refresh a little early so handlers don't race the expiry
	if time.Now().Add(30 * time.Second).Before(rec.AccessExpiresAt) {
		return &auth.Credential{Subject: cred.Subject, Data: cred.Data}, nil
	}
	return c.refresh(ctx, rec)
}

// RefreshCredential forces a token refresh regardless of access token
// expiry.
func (c *Client) RefreshCredential(ctx context.Context, cred auth.Credential) (*auth.Credential, error) {
	rec, err := parseSessionRecord(cred)
	if err != nil {
		return nil, err
	}
	return c.refresh(ctx, rec)
}

func parseSessionRecord(cred auth.Credential) (*sessionRecord, error) {
	var rec sessionRecord
	if err := json.Unmarshal(cred.Data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt session record: %w", err)
	}
	if rec.AccountDID != cred.Subject {
		return nil, fmt.Errorf("session record subject mismatch")
	}
	if rec.AccessToken == "" || rec.RefreshToken == "" || rec.TokenEndpoint == "" {
		return nil, fmt.Errorf("session record missing token material")
	}
	return &rec, nil
}

func (c *Client) refresh(ctx context.Context, rec *sessionRecord) (*auth.Credential, error) {
	dpopKey, err := parseKeyJWK(rec.DPoPPrivateJWK)
	if err != nil {
		return nil, err
	}

	refreshReq := refreshTokenRequest{
		ClientID:     c.Config.ClientID,
		GrantType:    "refresh_token",
		RefreshToken: rec.RefreshToken,
	}
	if c.Config.IsConfidential() {
		assertion, err := newClientAssertionJWT(c.Config.ClientID, rec.AuthServerURL, c.Config.secretKeyID, c.Config.secretKey)
		if err != nil {
			return nil, err
		}
		refreshReq.ClientAssertionType = &clientAssertionJWTBearer
		refreshReq.ClientAssertion = &assertion
	}
	vals, err := query.Values(refreshReq)
	if err != nil {
		return nil, err
	}

	body, dpopNonce, err := c.postWithDPoP(ctx, rec.TokenEndpoint, vals, dpopKey, rec.DPoPAuthServerNonce)
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("token response failed to decode: %w", err)
	}
	if tokenResp.AccessToken == "" || tokenResp.RefreshToken == "" {
		return nil, fmt.Errorf("token response missing token material")
	}

	rec.AccessToken = tokenResp.AccessToken
	rec.RefreshToken = tokenResp.RefreshToken
	rec.AccessExpiresAt = accessExpiry(tokenResp.ExpiresIn)
	rec.DPoPAuthServerNonce = dpopNonce

	c.logger.Info("refreshed tokens", "did", rec.AccountDID)

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return &auth.Credential{Subject: rec.AccountDID, Data: data}, nil
}

func accessExpiry(expiresIn int) time.Time {
	if expiresIn <= 0 {
		// server didn't say; assume a short-lived token
		expiresIn = 300
	}
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}

// postWithDPoP sends a form-encoded POST with a DPoP proof, handling the
// server's use_dpop_nonce dance: one retry when the server rejects with a
// fresh nonce. Returns the response body and the latest server nonce.
func (c *Client) postWithDPoP(ctx context.Context, u string, form url.Values, key *ecdsa.PrivateKey, serverNonce string) ([]byte, string, error) {
	bodyBytes := []byte(form.Encode())

	for attempt := 0; attempt < 2; attempt++ {
		dpopJWT, err := newDPoPJWT("POST", u, serverNonce, "", key)
		if err != nil {
			return nil, "", err
		}

		req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, "", err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("DPoP", dpopJWT)

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, "", err
		}

		// check if a nonce was provided
		if nonce := resp.Header.Get("DPoP-Nonce"); nonce != "" {
			serverNonce = nonce
			if resp.StatusCode == 400 && attempt == 0 {
				// loop around and try again with the server's nonce
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				continue
			}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			return nil, serverNonce, err
		}

		if resp.StatusCode != 200 && resp.StatusCode != 201 {
			var errResp struct {
				Error       string `json:"error"`
				Description string `json:"error_description"`
			}
			if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
				c.logger.Warn("oauth request failed", "url", u, "error", errResp.Error, "statusCode", resp.StatusCode)
				return nil, serverNonce, fmt.Errorf("HTTP %d: %s (%s)", resp.StatusCode, errResp.Error, errResp.Description)
			}
			c.logger.Warn("oauth request failed", "url", u, "statusCode", resp.StatusCode)
			return nil, serverNonce, fmt.Errorf("HTTP %d", resp.StatusCode)
		}

		return body, serverNonce, nil
	}

	return nil, serverNonce, fmt.Errorf("request failed after DPoP nonce retry")
}
