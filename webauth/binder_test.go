package webauth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte(strings.Repeat("s", 32))

func newTestBinder(t *testing.T) *Binder {
	t.Helper()
	b, err := NewBinder(testSecret, "test-session")
	require.NoError(t, err)
	return b
}

// requestWithCookies carries the Set-Cookie headers from a prior response
// into a fresh request, like a browser would.
func requestWithCookies(resp *http.Response) *http.Request {
	req := httptest.NewRequest("GET", "/", nil)
	for _, c := range resp.Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestBinderShortSecret(t *testing.T) {
	_, err := NewBinder([]byte("too-short"), "")
	assert.Error(t, err)

	_, err = NewBinder(testSecret, "")
	assert.NoError(t, err)
}

func TestBinderRoundtrip(t *testing.T) {
	assert := assert.New(t)
	b := newTestBinder(t)

	// no cookie at all
	subject, ok := b.Subject(httptest.NewRequest("GET", "/", nil))
	assert.False(ok)
	assert.Empty(subject)

	// bind, then read back
	rec := httptest.NewRecorder()
	require.NoError(t, b.Bind(rec, httptest.NewRequest("GET", "/", nil), "did:plc:abc123"))

	subject, ok = b.Subject(requestWithCookies(rec.Result()))
	assert.True(ok)
	assert.Equal("did:plc:abc123", subject)
}

func TestBinderForgedCookie(t *testing.T) {
	assert := assert.New(t)
	b := newTestBinder(t)

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: "test-session", Value: "garbage-not-a-sealed-cookie"})

	subject, ok := b.Subject(req)
	assert.False(ok)
	assert.Empty(subject)
}

func TestBinderCookieFromOtherSecret(t *testing.T) {
	b1 := newTestBinder(t)
	b2, err := NewBinder([]byte(strings.Repeat("x", 32)), "test-session")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, b2.Bind(rec, httptest.NewRequest("GET", "/", nil), "did:plc:abc123"))

	// sealed under a different secret: reads as anonymous
	_, ok := b1.Subject(requestWithCookies(rec.Result()))
	assert.False(t, ok)
}

func TestBinderUnbind(t *testing.T) {
	assert := assert.New(t)
	b := newTestBinder(t)

	rec := httptest.NewRecorder()
	require.NoError(t, b.Bind(rec, httptest.NewRequest("GET", "/", nil), "did:plc:abc123"))
	bound := requestWithCookies(rec.Result())

	rec2 := httptest.NewRecorder()
	require.NoError(t, b.Unbind(rec2, bound))

	_, ok := b.Subject(requestWithCookies(rec2.Result()))
	assert.False(ok)

	// unbinding an already-anonymous request is fine
	rec3 := httptest.NewRecorder()
	assert.NoError(b.Unbind(rec3, httptest.NewRequest("GET", "/", nil)))
}
