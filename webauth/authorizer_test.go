package webauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywrite-dev/skywrite/auth"
)

type fakeRestorer struct {
	creds map[string][]byte
	fail  error
}

func (f *fakeRestorer) Restore(ctx context.Context, subject string) (*auth.Credential, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	data, ok := f.creds[subject]
	if !ok {
		return nil, nil
	}
	return &auth.Credential{Subject: subject, Data: data}, nil
}

func boundRequest(t *testing.T, b *Binder, subject string) *http.Request {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, b.Bind(rec, httptest.NewRequest("GET", "/", nil), subject))
	return requestWithCookies(rec.Result())
}

func TestAuthorizeAnonymous(t *testing.T) {
	b := newTestBinder(t)
	a := NewAuthorizer(b, &fakeRestorer{})

	cred, err := a.Authorize(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.NoError(t, err)
	assert.Nil(t, cred)
}

func TestAuthorizeForgedCookie(t *testing.T) {
	b := newTestBinder(t)
	a := NewAuthorizer(b, &fakeRestorer{})

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: "test-session", Value: "forged"})

	cred, err := a.Authorize(httptest.NewRecorder(), req)
	assert.NoError(t, err)
	assert.Nil(t, cred)
}

func TestAuthorizeBoundSubject(t *testing.T) {
	assert := assert.New(t)
	b := newTestBinder(t)
	a := NewAuthorizer(b, &fakeRestorer{creds: map[string][]byte{
		"did:plc:abc123": []byte("cred-data"),
	}})

	cred, err := a.Authorize(httptest.NewRecorder(), boundRequest(t, b, "did:plc:abc123"))
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal("did:plc:abc123", cred.Subject)
	assert.Equal([]byte("cred-data"), cred.Data)
}

func TestAuthorizeStaleBindingSelfHeals(t *testing.T) {
	b := newTestBinder(t)
	// binding names a subject the restorer has no record of
	a := NewAuthorizer(b, &fakeRestorer{})

	rec := httptest.NewRecorder()
	cred, err := a.Authorize(rec, boundRequest(t, b, "did:plc:gone"))
	assert.NoError(t, err)
	assert.Nil(t, cred)

	// the binding was destroyed in the response
	_, ok := b.Subject(requestWithCookies(rec.Result()))
	assert.False(t, ok)
}

func TestAuthorizeRestoreFailureSelfHeals(t *testing.T) {
	b := newTestBinder(t)
	a := NewAuthorizer(b, &fakeRestorer{
		fail: fmt.Errorf("%w: refresh token revoked", auth.ErrRestoreFailed),
	})

	rec := httptest.NewRecorder()
	cred, err := a.Authorize(rec, boundRequest(t, b, "did:plc:abc123"))
	assert.NoError(t, err)
	assert.Nil(t, cred)

	_, ok := b.Subject(requestWithCookies(rec.Result()))
	assert.False(t, ok)
}

func TestAuthorizeInfrastructureFailurePropagates(t *testing.T) {
	b := newTestBinder(t)
	infraErr := errors.New("storage offline")
	a := NewAuthorizer(b, &fakeRestorer{fail: infraErr})

	rec := httptest.NewRecorder()
	_, err := a.Authorize(rec, boundRequest(t, b, "did:plc:abc123"))
	assert.ErrorIs(t, err, infraErr)

	// infrastructure failure must not destroy the binding
	resp := rec.Result()
	assert.Empty(t, resp.Cookies())
}
