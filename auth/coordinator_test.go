package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywrite-dev/skywrite/store"
)

type fakeFlowData struct {
	Identifier string `json:"identifier"`
	Verifier   string `json:"verifier"`
}

type fakeCredData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// fakeIdentity implements IdentityClient with deterministic behavior, no
// network, JSON blobs for flow and credential data.
type fakeIdentity struct {
	nextFlowID  string
	subject     string
	failStart   bool
	failProcess bool
	failRestore bool
	refreshTo   string // when set, RestoreSession rewrites the access token
}

func (f *fakeIdentity) StartAuthFlow(ctx context.Context, identifier string) (*AuthRequest, error) {
	if f.failStart {
		return nil, fmt.Errorf("resolving identity %s: host unreachable", identifier)
	}
	data, _ := json.Marshal(fakeFlowData{Identifier: identifier, Verifier: "pkce-secret"})
	return &AuthRequest{
		FlowID:      f.nextFlowID,
		RedirectURL: "https://pds.example.com/authorize?state=" + f.nextFlowID,
		Data:        data,
	}, nil
}

func (f *fakeIdentity) ProcessCallback(ctx context.Context, params url.Values, flowData []byte) (*Credential, error) {
	if f.failProcess {
		return nil, fmt.Errorf("token exchange failed: HTTP 400")
	}
	var fd fakeFlowData
	if err := json.Unmarshal(flowData, &fd); err != nil {
		return nil, err
	}
	if params.Get("code") == "" {
		return nil, fmt.Errorf("missing code parameter")
	}
	data, _ := json.Marshal(fakeCredData{AccessToken: "at-1", RefreshToken: "rt-1"})
	return &Credential{Subject: f.subject, Data: data}, nil
}

func (f *fakeIdentity) RestoreSession(ctx context.Context, cred Credential) (*Credential, error) {
	if f.failRestore {
		return nil, fmt.Errorf("refresh token revoked")
	}
	var cd fakeCredData
	if err := json.Unmarshal(cred.Data, &cd); err != nil {
		return nil, fmt.Errorf("corrupt credential: %w", err)
	}
	if f.refreshTo != "" {
		cd.AccessToken = f.refreshTo
		data, _ := json.Marshal(cd)
		return &Credential{Subject: cred.Subject, Data: data}, nil
	}
	return &Credential{Subject: cred.Subject, Data: cred.Data}, nil
}

func (f *fakeIdentity) RefreshCredential(ctx context.Context, cred Credential) (*Credential, error) {
	if f.failRestore {
		return nil, fmt.Errorf("refresh token revoked")
	}
	var cd fakeCredData
	if err := json.Unmarshal(cred.Data, &cd); err != nil {
		return nil, fmt.Errorf("corrupt credential: %w", err)
	}
	cd.AccessToken += "-refreshed"
	data, _ := json.Marshal(cd)
	return &Credential{Subject: cred.Subject, Data: data}, nil
}

func newTestCoordinator(ident *fakeIdentity) (*Coordinator, *store.MemStore, *store.MemStore) {
	flows := store.NewMemStore()
	sessions := store.NewMemStore()
	return NewCoordinator(ident, flows, sessions), flows, sessions
}

func TestStartAuthFlow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ident := &fakeIdentity{nextFlowID: "flow-1", subject: "did:plc:abc123"}
	coord, flows, _ := newTestCoordinator(ident)

	redirectURL, err := coord.StartAuthFlow(ctx, "alice.example.com")
	require.NoError(t, err)
	assert.Contains(redirectURL, "state=flow-1")

	// flow record persisted under the flow identifier
	_, err = flows.Get(ctx, "flow-1")
	assert.NoError(err)
}

func TestStartAuthFlowEmptyIdentifier(t *testing.T) {
	ctx := context.Background()
	coord, flows, _ := newTestCoordinator(&fakeIdentity{nextFlowID: "flow-1"})

	_, err := coord.StartAuthFlow(ctx, "")
	assert.ErrorIs(t, err, ErrInitiationFailed)
	_, err = flows.Get(ctx, "flow-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStartAuthFlowResolutionFailure(t *testing.T) {
	ctx := context.Background()
	coord, flows, _ := newTestCoordinator(&fakeIdentity{nextFlowID: "flow-1", failStart: true})

	_, err := coord.StartAuthFlow(ctx, "alice.example.com")
	assert.ErrorIs(t, err, ErrInitiationFailed)

	// no flow record left behind
	_, err = flows.Get(ctx, "flow-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func callbackParams(flowID string) url.Values {
	return url.Values{
		"state": []string{flowID},
		"code":  []string{"authcode-xyz"},
		"iss":   []string{"https://pds.example.com"},
	}
}

func TestProcessCallback(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ident := &fakeIdentity{nextFlowID: "flow-1", subject: "did:plc:abc123"}
	coord, flows, _ := newTestCoordinator(ident)

	_, err := coord.StartAuthFlow(ctx, "alice.example.com")
	require.NoError(t, err)

	cred, err := coord.ProcessCallback(ctx, callbackParams("flow-1"))
	require.NoError(t, err)
	assert.Equal("did:plc:abc123", cred.Subject)

	// flow record consumed
	_, err = flows.Get(ctx, "flow-1")
	assert.ErrorIs(err, store.ErrNotFound)

	// restore now succeeds
	restored, err := coord.Restore(ctx, "did:plc:abc123")
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(cred.Data, restored.Data)
}

func TestProcessCallbackSingleUse(t *testing.T) {
	ctx := context.Background()

	ident := &fakeIdentity{nextFlowID: "flow-1", subject: "did:plc:abc123"}
	coord, _, _ := newTestCoordinator(ident)

	_, err := coord.StartAuthFlow(ctx, "alice.example.com")
	require.NoError(t, err)

	_, err = coord.ProcessCallback(ctx, callbackParams("flow-1"))
	require.NoError(t, err)

	// identical parameters a second time: flow already consumed
	_, err = coord.ProcessCallback(ctx, callbackParams("flow-1"))
	assert.ErrorIs(t, err, ErrCallbackFailed)
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestProcessCallbackUnknownFlow(t *testing.T) {
	ctx := context.Background()
	coord, _, sessions := newTestCoordinator(&fakeIdentity{subject: "did:plc:abc123"})

	_, err := coord.ProcessCallback(ctx, callbackParams("bogus"))
	assert.ErrorIs(t, err, ErrCallbackFailed)
	assert.ErrorIs(t, err, ErrFlowNotFound)

	// no session record created
	_, err = sessions.Get(ctx, "did:plc:abc123")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessCallbackMissingState(t *testing.T) {
	ctx := context.Background()
	coord, _, _ := newTestCoordinator(&fakeIdentity{})

	_, err := coord.ProcessCallback(ctx, url.Values{"code": []string{"xyz"}})
	assert.ErrorIs(t, err, ErrCallbackFailed)
	assert.NotErrorIs(t, err, ErrFlowNotFound)
}

func TestProcessCallbackExchangeFailure(t *testing.T) {
	ctx := context.Background()

	ident := &fakeIdentity{nextFlowID: "flow-1", subject: "did:plc:abc123"}
	coord, flows, sessions := newTestCoordinator(ident)

	_, err := coord.StartAuthFlow(ctx, "alice.example.com")
	require.NoError(t, err)

	ident.failProcess = true
	_, err = coord.ProcessCallback(ctx, callbackParams("flow-1"))
	assert.ErrorIs(t, err, ErrCallbackFailed)

	// no partial state: flow consumed, no session written
	_, err = flows.Get(ctx, "flow-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = sessions.Get(ctx, "did:plc:abc123")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// the flow can not be resumed
	ident.failProcess = false
	_, err = coord.ProcessCallback(ctx, callbackParams("flow-1"))
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestRestoreAbsent(t *testing.T) {
	ctx := context.Background()
	coord, _, _ := newTestCoordinator(&fakeIdentity{})

	cred, err := coord.Restore(ctx, "did:plc:nobody")
	assert.NoError(t, err)
	assert.Nil(t, cred)

	cred, err = coord.Restore(ctx, "")
	assert.NoError(t, err)
	assert.Nil(t, cred)
}

func TestRestoreFailure(t *testing.T) {
	ctx := context.Background()

	ident := &fakeIdentity{nextFlowID: "flow-1", subject: "did:plc:abc123"}
	coord, _, sessions := newTestCoordinator(ident)

	_, err := coord.StartAuthFlow(ctx, "alice.example.com")
	require.NoError(t, err)
	_, err = coord.ProcessCallback(ctx, callbackParams("flow-1"))
	require.NoError(t, err)

	ident.failRestore = true
	_, err = coord.Restore(ctx, "did:plc:abc123")
	assert.ErrorIs(t, err, ErrRestoreFailed)

	// restore failure does not delete the record; that cleanup is the
	// request authorizer's decision
	_, err = sessions.Get(ctx, "did:plc:abc123")
	assert.NoError(t, err)
}

func TestRestoreRefreshRewrites(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ident := &fakeIdentity{nextFlowID: "flow-1", subject: "did:plc:abc123"}
	coord, _, sessions := newTestCoordinator(ident)

	_, err := coord.StartAuthFlow(ctx, "alice.example.com")
	require.NoError(t, err)
	_, err = coord.ProcessCallback(ctx, callbackParams("flow-1"))
	require.NoError(t, err)

	ident.refreshTo = "at-2"
	cred, err := coord.Restore(ctx, "did:plc:abc123")
	require.NoError(t, err)

	var cd fakeCredData
	require.NoError(t, json.Unmarshal(cred.Data, &cd))
	assert.Equal("at-2", cd.AccessToken)

	// refreshed credential was persisted
	stored, err := sessions.Get(ctx, "did:plc:abc123")
	require.NoError(t, err)
	assert.Equal(cred.Data, stored)
}

func TestForceRefresh(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ident := &fakeIdentity{nextFlowID: "flow-1", subject: "did:plc:abc123"}
	coord, _, sessions := newTestCoordinator(ident)

	_, err := coord.StartAuthFlow(ctx, "alice.example.com")
	require.NoError(t, err)
	_, err = coord.ProcessCallback(ctx, callbackParams("flow-1"))
	require.NoError(t, err)

	cred, err := coord.ForceRefresh(ctx, "did:plc:abc123")
	require.NoError(t, err)
	require.NotNil(t, cred)

	var cd fakeCredData
	require.NoError(t, json.Unmarshal(cred.Data, &cd))
	assert.Equal("at-1-refreshed", cd.AccessToken)

	// refreshed credential was persisted
	stored, err := sessions.Get(ctx, "did:plc:abc123")
	require.NoError(t, err)
	assert.Equal(cred.Data, stored)
}

func TestForceRefreshAbsent(t *testing.T) {
	ctx := context.Background()
	coord, _, _ := newTestCoordinator(&fakeIdentity{})

	cred, err := coord.ForceRefresh(ctx, "did:plc:nobody")
	assert.NoError(t, err)
	assert.Nil(t, cred)
}

func TestForceRefreshFailure(t *testing.T) {
	ctx := context.Background()

	ident := &fakeIdentity{nextFlowID: "flow-1", subject: "did:plc:abc123"}
	coord, _, _ := newTestCoordinator(ident)

	_, err := coord.StartAuthFlow(ctx, "alice.example.com")
	require.NoError(t, err)
	_, err = coord.ProcessCallback(ctx, callbackParams("flow-1"))
	require.NoError(t, err)

	ident.failRestore = true
	_, err = coord.ForceRefresh(ctx, "did:plc:abc123")
	assert.ErrorIs(t, err, ErrRestoreFailed)
}

func TestLogoutDeletesStoredCredential(t *testing.T) {
	ctx := context.Background()

	ident := &fakeIdentity{nextFlowID: "flow-1", subject: "did:plc:abc123"}
	coord, _, sessions := newTestCoordinator(ident)

	_, err := coord.StartAuthFlow(ctx, "alice.example.com")
	require.NoError(t, err)
	_, err = coord.ProcessCallback(ctx, callbackParams("flow-1"))
	require.NoError(t, err)

	require.NoError(t, coord.Logout(ctx, "did:plc:abc123"))
	_, err = sessions.Get(ctx, "did:plc:abc123")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// idempotent
	assert.NoError(t, coord.Logout(ctx, "did:plc:abc123"))
}

// brokenStore fails every operation, standing in for an unreachable
// database.
type brokenStore struct{}

var errDown = errors.New("storage offline")

func (brokenStore) Get(ctx context.Context, key string) ([]byte, error)   { return nil, errDown }
func (brokenStore) Put(ctx context.Context, key string, val []byte) error { return errDown }
func (brokenStore) Delete(ctx context.Context, key string) error          { return errDown }
func (brokenStore) Take(ctx context.Context, key string) ([]byte, error)  { return nil, errDown }

func TestInfrastructureErrorsKeepTheirClass(t *testing.T) {
	ctx := context.Background()
	ident := &fakeIdentity{nextFlowID: "flow-1", subject: "did:plc:abc123"}
	coord := NewCoordinator(ident, brokenStore{}, brokenStore{})

	_, err := coord.StartAuthFlow(ctx, "alice.example.com")
	assert.ErrorIs(t, err, errDown)
	assert.NotErrorIs(t, err, ErrInitiationFailed)

	_, err = coord.ProcessCallback(ctx, callbackParams("flow-1"))
	assert.ErrorIs(t, err, errDown)
	assert.NotErrorIs(t, err, ErrCallbackFailed)

	_, err = coord.Restore(ctx, "did:plc:abc123")
	assert.ErrorIs(t, err, errDown)
	assert.NotErrorIs(t, err, ErrRestoreFailed)
}
