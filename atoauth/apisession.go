package atoauth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/skywrite-dev/skywrite/atapi"
	"github.com/skywrite-dev/skywrite/auth"
)

// APISession makes DPoP-authorized requests against the account's host
// ("resource server") using a restored session credential. It implements
// [atapi.AuthMethod].
//
// The host DPoP nonce is updated in place as the server rotates it, so a
// session should be reused across the requests of a single operation, but
// not persisted.
type APISession struct {
	rec     sessionRecord
	dpopKey *ecdsa.PrivateKey

	// guards the host nonce
	lk sync.Mutex
}

var _ atapi.AuthMethod = (*APISession)(nil)

// ResumeAPISession builds an [APISession] from a session credential, as
// returned by [Client.ProcessCallback] or [Client.RestoreSession].
func (c *Client) ResumeAPISession(cred auth.Credential) (*APISession, error) {
	rec, err := parseSessionRecord(cred)
	if err != nil {
		return nil, err
	}
	dpopKey, err := parseKeyJWK(rec.DPoPPrivateJWK)
	if err != nil {
		return nil, err
	}
	return &APISession{rec: *rec, dpopKey: dpopKey}, nil
}

// The account DID this session is authorized for.
func (s *APISession) DID() string {
	return s.rec.AccountDID
}

// Base URL of the account's host.
func (s *APISession) Host() string {
	return s.rec.HostURL
}

// APIClient returns a client for the account's host, authorized with this
// session.
func (s *APISession) APIClient() *atapi.APIClient {
	c := atapi.NewAPIClient(s.rec.HostURL)
	c.Auth = s
	return c
}

func (s *APISession) DoWithAuth(ctx context.Context, c *http.Client, req *http.Request, endpoint string) (*http.Response, error) {
	// htu claim covers scheme/host/path only
	targetURL := *req.URL
	targetURL.RawQuery = ""
	targetURL.Fragment = ""
	target := targetURL.String()

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 && req.Body != nil {
			if req.GetBody == nil {
				return nil, fmt.Errorf("can't retry request with non-replayable body")
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req.Body = body
		}

		s.lk.Lock()
		hostNonce := s.rec.DPoPHostNonce
		s.lk.Unlock()

		dpopJWT, err := newDPoPJWT(req.Method, target, hostNonce, s.rec.AccessToken, s.dpopKey)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", fmt.Sprintf("DPoP %s", s.rec.AccessToken))
		req.Header.Set("DPoP", dpopJWT)

		resp, err := c.Do(req)
		if err != nil {
			return nil, err
		}

		// check if a nonce was provided
		if nonce := resp.Header.Get("DPoP-Nonce"); nonce != "" {
			s.lk.Lock()
			s.rec.DPoPHostNonce = nonce
			s.lk.Unlock()
			if (resp.StatusCode == 400 || resp.StatusCode == 401) && attempt == 0 {
				// loop around and try again with the server's nonce
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				continue
			}
		}

		return resp, nil
	}

	return nil, fmt.Errorf("request failed after DPoP nonce retry")
}
