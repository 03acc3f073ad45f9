package webauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/skywrite-dev/skywrite/auth"
)

// CredentialRestorer is the slice of [auth.Coordinator] the authorizer
// needs.
type CredentialRestorer interface {
	Restore(ctx context.Context, subject string) (*auth.Credential, error)
}

// Authorizer composes the cookie binding with credential restore to decide
// whether a request is authenticated.
type Authorizer struct {
	binder   *Binder
	restorer CredentialRestorer
	logger   *slog.Logger
}

func NewAuthorizer(binder *Binder, restorer CredentialRestorer) *Authorizer {
	return &Authorizer{
		binder:   binder,
		restorer: restorer,
		logger:   slog.Default().With("component", "webauth"),
	}
}

// Authorize returns the credential for the request's bound subject, or
// (nil, nil) when the request is anonymous.
//
// When a binding exists but its credential is absent or no longer usable,
// the binding is destroyed as part of the contract (not as incidental
// cleanup): the next request from that browser is plain anonymous instead
// of failing the same way again. "Not logged in" is never an error; a
// non-nil error means infrastructure failure and the caller must respond
// with a server error, not treat the user as logged out.
func (a *Authorizer) Authorize(w http.ResponseWriter, r *http.Request) (*auth.Credential, error) {
	subject, ok := a.binder.Subject(r)
	if !ok {
		return nil, nil
	}

	cred, err := a.restorer.Restore(r.Context(), subject)
	if errors.Is(err, auth.ErrRestoreFailed) {
		a.logger.Warn("clearing session binding for unusable credential", "subject", subject, "err", err)
		if uerr := a.binder.Unbind(w, r); uerr != nil {
			return nil, fmt.Errorf("clearing session binding: %w", uerr)
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if cred == nil {
		// stale binding: cookie names a subject with no stored session
		if uerr := a.binder.Unbind(w, r); uerr != nil {
			return nil, fmt.Errorf("clearing session binding: %w", uerr)
		}
		return nil, nil
	}

	return cred, nil
}
