package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/skywrite-dev/skywrite/store"
)

// Coordinator drives the authorization state machine: it starts auth flows,
// completes provider callbacks, and restores stored sessions. Protocol
// mechanics are delegated to an [IdentityClient]; the coordinator
// exclusively owns the flow and session records.
//
// A single Coordinator is constructed at startup and shared across all
// request handlers.
type Coordinator struct {
	identity IdentityClient
	flows    *FlowStore
	sessions *SessionStore
	logger   *slog.Logger
}

func NewCoordinator(identity IdentityClient, flows, sessions store.RecordStore) *Coordinator {
	return &Coordinator{
		identity: identity,
		flows:    NewFlowStore(flows),
		sessions: NewSessionStore(sessions),
		logger:   slog.Default().With("component", "auth"),
	}
}

// StartAuthFlow begins an authorization attempt for the account identifier
// (handle or DID) and returns the provider URL to redirect the browser to.
//
// Returns [ErrInitiationFailed] when the identifier can not be resolved or
// the provider is unreachable; nothing is persisted in that case.
func (c *Coordinator) StartAuthFlow(ctx context.Context, identifier string) (string, error) {
	if identifier == "" {
		return "", fmt.Errorf("%w: empty account identifier", ErrInitiationFailed)
	}

	req, err := c.identity.StartAuthFlow(ctx, identifier)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInitiationFailed, err)
	}

	if err := c.flows.Save(ctx, req.FlowID, req.Data); err != nil {
		return "", fmt.Errorf("persisting auth flow state: %w", err)
	}

	c.logger.Info("auth flow started", "identifier", identifier, "flowID", req.FlowID)
	return req.RedirectURL, nil
}

// ProcessCallback completes an authorization attempt from the provider's
// callback query parameters, persists the resulting credential, and returns
// it.
//
// The flow record is consumed before any validation, so a flow identifier
// can only ever be redeemed once: replays (and callbacks for flows that
// never existed) fail with [ErrFlowNotFound], wrapped in
// [ErrCallbackFailed]. All callback failures are terminal for the flow
// attempt; the user must restart from StartAuthFlow.
func (c *Coordinator) ProcessCallback(ctx context.Context, params url.Values) (*Credential, error) {
	flowID := params.Get("state")
	if flowID == "" {
		return nil, fmt.Errorf("%w: missing state parameter", ErrCallbackFailed)
	}

	flowData, err := c.flows.Take(ctx, flowID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrCallbackFailed, ErrFlowNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading auth flow state: %w", err)
	}

	cred, err := c.identity.ProcessCallback(ctx, params, flowData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCallbackFailed, err)
	}

	if err := c.sessions.Save(ctx, cred.Subject, cred.Data); err != nil {
		return nil, fmt.Errorf("persisting session credential: %w", err)
	}

	c.logger.Info("auth flow completed", "subject", cred.Subject)
	return cred, nil
}

// Restore loads the stored credential for a subject, validating (and
// refreshing, when needed) through the identity client. Returns (nil, nil)
// when the subject has no session record.
//
// Returns [ErrRestoreFailed] when a record exists but is no longer usable;
// callers treat that the same as absence for authorization purposes, but
// may log it. Storage failures propagate without that sentinel.
func (c *Coordinator) Restore(ctx context.Context, subject string) (*Credential, error) {
	if subject == "" {
		return nil, nil
	}

	data, err := c.sessions.Get(ctx, subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session credential: %w", err)
	}

	cred, err := c.identity.RestoreSession(ctx, Credential{Subject: subject, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}

	// token refresh may have rewritten the credential
	if !bytes.Equal(cred.Data, data) {
		if err := c.sessions.Save(ctx, subject, cred.Data); err != nil {
			return nil, fmt.Errorf("persisting refreshed credential: %w", err)
		}
		c.logger.Info("session credential refreshed", "subject", subject)
	}

	return cred, nil
}

// CredentialRefresher is an optional upgrade interface for identity
// clients which can force a token refresh ahead of expiry.
type CredentialRefresher interface {
	RefreshCredential(ctx context.Context, cred Credential) (*Credential, error)
}

// ForceRefresh refreshes the stored credential for a subject immediately,
// regardless of expiry, and persists the result. Returns (nil, nil) when
// the subject has no session record, and [ErrRestoreFailed] when the
// stored credential can not be refreshed.
//
// If the identity client does not implement [CredentialRefresher], this
// falls back to a plain Restore.
func (c *Coordinator) ForceRefresh(ctx context.Context, subject string) (*Credential, error) {
	refresher, ok := c.identity.(CredentialRefresher)
	if !ok {
		return c.Restore(ctx, subject)
	}
	if subject == "" {
		return nil, nil
	}

	data, err := c.sessions.Get(ctx, subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session credential: %w", err)
	}

	cred, err := refresher.RefreshCredential(ctx, Credential{Subject: subject, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}

	if err := c.sessions.Save(ctx, subject, cred.Data); err != nil {
		return nil, fmt.Errorf("persisting refreshed credential: %w", err)
	}

	c.logger.Info("session credential force-refreshed", "subject", subject)
	return cred, nil
}

// Logout deletes the stored credential for a subject. Deleting a subject
// with no session is not an error.
//
// Note that the web layer's logout only unbinds the browser cookie and
// deliberately leaves the stored credential in place; this method exists
// for explicit server-side invalidation.
func (c *Coordinator) Logout(ctx context.Context, subject string) error {
	return c.sessions.Delete(ctx, subject)
}
