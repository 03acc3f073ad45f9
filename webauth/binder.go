// Package webauth binds browser cookies to authenticated subjects, and
// composes that binding with credential restore into a per-request
// authorization check.
package webauth

import (
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"
)

// Session cookie secrets shorter than this fail at startup rather than
// silently weakening cookie security.
const MinSecretLen = 32

const subjectKey = "subject"

// Binder maps a sealed browser cookie to a subject identifier. The cookie
// is authenticated and encrypted (gorilla/sessions), so the browser can
// neither read nor forge the subject; a cookie that fails to decode is
// simply treated as anonymous.
type Binder struct {
	cookies *sessions.CookieStore
	name    string
}

func NewBinder(secret []byte, cookieName string) (*Binder, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("session secret too short: need at least %d bytes, got %d", MinSecretLen, len(secret))
	}
	if cookieName == "" {
		cookieName = "skywrite-session"
	}
	return &Binder{
		cookies: sessions.NewCookieStore(secret),
		name:    cookieName,
	}, nil
}

// Subject returns the subject identifier bound to the request's cookie.
// Missing, malformed, or forged cookies all read as anonymous.
func (b *Binder) Subject(r *http.Request) (string, bool) {
	sess, _ := b.cookies.Get(r, b.name)
	subject, ok := sess.Values[subjectKey].(string)
	if !ok || subject == "" {
		return "", false
	}
	return subject, true
}

// Bind writes a sealed cookie carrying the subject identifier. Must be
// called before the response body is flushed.
func (b *Binder) Bind(w http.ResponseWriter, r *http.Request, subject string) error {
	sess, _ := b.cookies.Get(r, b.name)
	sess.Values[subjectKey] = subject
	return sess.Save(r, w)
}

// Unbind clears the cookie. Idempotent.
func (b *Binder) Unbind(w http.ResponseWriter, r *http.Request) error {
	sess, _ := b.cookies.Get(r, b.name)
	sess.Values = make(map[any]any)
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}
