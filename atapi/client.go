// Package atapi is a small client for atproto "XRPC" HTTP API endpoints.
//
// Endpoints are addressed by NSID string (eg "com.atproto.repo.createRecord")
// and mapped to `/xrpc/<nsid>` paths on the host. Authentication is
// pluggable through the [AuthMethod] interface.
package atapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// APIError reports a non-2xx endpoint response. Name and Message carry the
// structured error from the JSON body when the server sent one.
type APIError struct {
	StatusCode int
	Endpoint   string
	Name       string
	Message    string
}

func (e *APIError) Error() string {
	s := fmt.Sprintf("%s: HTTP %d", e.Endpoint, e.StatusCode)
	if e.Name != "" {
		s += ": " + e.Name
	}
	if e.Message != "" {
		s += " (" + e.Message + ")"
	}
	return s
}

// Interface for auth implementations which can be used with [APIClient].
type AuthMethod interface {
	// Endpoint parameter is included for auth methods which need to include the NSID in authorization tokens
	DoWithAuth(ctx context.Context, c *http.Client, req *http.Request, endpoint string) (*http.Response, error)
}

// General purpose client for atproto API endpoints on a single host.
type APIClient struct {
	// Inner HTTP client. May be customized after the overall [APIClient] struct is created; for example to set a default request timeout.
	Client *http.Client

	// Host URL prefix: scheme, hostname, and port. This field is required.
	Host string

	// Optional auth client "middleware".
	Auth AuthMethod

	// Optional HTTP headers which will be included in all requests. Only a single value per key is included; request-level headers will override any client-level defaults.
	Headers http.Header
}

// Creates a simple APIClient for the provided host. This is appropriate for use with unauthenticated ("public") API endpoints, or to use as a base client to add authentication.
func NewAPIClient(host string) *APIClient {
	return &APIClient{
		Client: http.DefaultClient,
		Host:   host,
		Headers: map[string][]string{
			"User-Agent": []string{"skywrite"},
		},
	}
}

// High-level helper for simple JSON "Query" API calls (HTTP GET).
//
// This method automatically parses non-successful responses to [APIError].
func (c *APIClient) Get(ctx context.Context, endpoint string, params map[string]any, out any) error {
	qp, err := parseParams(params)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, qp, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	return c.doJSON(ctx, req, endpoint, out)
}

// High-level helper for simple JSON-to-JSON "Procedure" API calls (HTTP POST), with no query params.
//
// This method automatically parses non-successful responses to [APIError].
func (c *APIClient) Post(ctx context.Context, endpoint string, body any, out any) error {
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(bodyJSON))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	return c.doJSON(ctx, req, endpoint, out)
}

func (c *APIClient) newRequest(ctx context.Context, method, endpoint string, qp url.Values, body io.Reader) (*http.Request, error) {
	u, err := url.Parse(c.Host)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid host URL: %s", c.Host)
	}
	if endpoint == "" {
		return nil, fmt.Errorf("empty request endpoint")
	}
	u.Path = "/xrpc/" + endpoint
	u.RawQuery = ""
	if len(qp) > 0 {
		u.RawQuery = qp.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k := range c.Headers {
		req.Header.Set(k, c.Headers.Get(k))
	}
	return req, nil
}

func (c *APIClient) doJSON(ctx context.Context, req *http.Request, endpoint string, out any) error {
	httpClient := c.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var resp *http.Response
	var err error
	if c.Auth != nil {
		resp, err = c.Auth.DoWithAuth(ctx, httpClient, req, endpoint)
	} else {
		resp, err = httpClient.Do(req)
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !(resp.StatusCode >= 200 && resp.StatusCode < 300) {
		apiErr := &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint}
		var body struct {
			Name    string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
			apiErr.Name = body.Name
			apiErr.Message = body.Message
		}
		return apiErr
	}

	if out == nil {
		// drain body before returning
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed decoding JSON response body: %w", err)
	}
	return nil
}

// Flexibly converts an input map to URL query params. Scalar values and
// slices of scalars are supported.
func parseParams(raw map[string]any) (url.Values, error) {
	out := make(url.Values)
	for k, v := range raw {
		switch v := v.(type) {
		case nil:
			out.Set(k, "")
		case bool, string, int, int32, int64, uint, uint32, uint64:
			out.Set(k, fmt.Sprint(v))
		case []string:
			for _, elem := range v {
				out.Add(k, elem)
			}
		default:
			return nil, fmt.Errorf("can't marshal query param '%s' with type: %T", k, v)
		}
	}
	return out, nil
}
