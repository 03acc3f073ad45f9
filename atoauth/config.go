package atoauth

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/url"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// ClientConfig is the static identity of this OAuth client: its client_id,
// callback, requested scopes, and (for confidential clients) the signing
// key backing client-assertion JWTs.
//
// Clients are "public" by default. Use [NewLocalhostConfig] for local
// development against the special localhost client_id, and
// [ClientConfig.SetClientSecret] to upgrade a public web client to a
// confidential one.
type ClientConfig struct {
	ClientID    string
	CallbackURL string
	Scope       string

	secretKey   *ecdsa.PrivateKey
	secretKeyID string
}

// NewPublicConfig configures a world-reachable web client. clientID must be
// the full URL the client metadata document is served at.
func NewPublicConfig(clientID, callbackURL string, scopes []string) ClientConfig {
	return ClientConfig{
		ClientID:    clientID,
		CallbackURL: callbackURL,
		Scope:       strings.Join(scopes, " "),
	}
}

// NewLocalhostConfig configures a development-mode client using the special
// localhost client_id, which auth servers accept without fetching a
// metadata document.
func NewLocalhostConfig(callbackURL string, scopes []string) ClientConfig {
	scope := strings.Join(scopes, " ")
	params := url.Values{
		"redirect_uri": []string{callbackURL},
		"scope":        []string{scope},
	}
	return ClientConfig{
		ClientID:    "http://localhost?" + params.Encode(),
		CallbackURL: callbackURL,
		Scope:       scope,
	}
}

// SetClientSecret turns this into a confidential client, using the key to
// sign client-assertion JWTs. The corresponding public key must be
// published at the client's jwks_uri.
func (c *ClientConfig) SetClientSecret(priv *ecdsa.PrivateKey, keyID string) error {
	if priv == nil {
		return fmt.Errorf("nil client secret key")
	}
	if keyID == "" {
		return fmt.Errorf("client secret key requires a key id")
	}
	c.secretKey = priv
	c.secretKeyID = keyID
	return nil
}

func (c *ClientConfig) IsConfidential() bool {
	return c.secretKey != nil
}

// ClientMetadata renders the client registration document for this
// configuration. Callers may fill in optional display fields (client_name,
// client_uri, jwks_uri) before serving it.
func (c *ClientConfig) ClientMetadata() ClientMetadata {
	meta := ClientMetadata{
		ClientID:              c.ClientID,
		GrantTypes:            []string{"authorization_code", "refresh_token"},
		Scope:                 c.Scope,
		ResponseTypes:         []string{"code"},
		RedirectURIs:          []string{c.CallbackURL},
		DPoPBoundAccessTokens: true,
	}
	if c.IsConfidential() {
		meta.TokenEndpointAuthMethod = "private_key_jwt"
		alg := "ES256"
		meta.TokenEndpointAuthSigningAlg = &alg
	} else {
		meta.TokenEndpointAuthMethod = "none"
	}
	return meta
}

// PublicJWKS returns the public key set for this client. Empty (but valid)
// for public clients.
func (c *ClientConfig) PublicJWKS() (jwk.Set, error) {
	set := jwk.NewSet()
	if c.secretKey == nil {
		return set, nil
	}
	k, err := jwk.FromRaw(c.secretKey)
	if err != nil {
		return nil, err
	}
	pub, err := k.PublicKey()
	if err != nil {
		return nil, err
	}
	if err := pub.Set(jwk.KeyIDKey, c.secretKeyID); err != nil {
		return nil, err
	}
	if err := pub.Set(jwk.AlgorithmKey, jwa.ES256); err != nil {
		return nil, err
	}
	if err := set.AddKey(pub); err != nil {
		return nil, err
	}
	return set, nil
}

// ParsePrivateKeyPEM parses a PEM-encoded P-256 private key ("EC PRIVATE
// KEY" or PKCS#8).
func ParsePrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if priv, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return priv, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	priv, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", parsed)
	}
	return priv, nil
}
