package atoauth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Signed DPoP and client-assertion JWTs are short-lived by construction.
const jwtExpiration = 30 * time.Second

func init() {
	// tells JWT library to serialize 'aud' as regular string, not array of strings (when signing)
	jwt.MarshalSingleStringAsArray = false
}

type dpopClaims struct {
	jwt.RegisteredClaims

	HTTPMethod      string  `json:"htm"`
	TargetURI       string  `json:"htu"`
	AccessTokenHash *string `json:"ath,omitempty"`
	Nonce           *string `json:"nonce,omitempty"`
}

// generateDPoPKey creates a fresh P-256 key for one auth flow/session and
// returns it along with its JWK serialization (which is what gets persisted
// inside flow and session records).
func generateDPoPKey() (*ecdsa.PrivateKey, []byte, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	raw, err := serializeKeyJWK(priv)
	if err != nil {
		return nil, nil, err
	}
	return priv, raw, nil
}

func serializeKeyJWK(priv *ecdsa.PrivateKey) ([]byte, error) {
	k, err := jwk.FromRaw(priv)
	if err != nil {
		return nil, err
	}
	if err := k.Set(jwk.AlgorithmKey, jwa.ES256); err != nil {
		return nil, err
	}
	return json.Marshal(k)
}

func parseKeyJWK(raw []byte) (*ecdsa.PrivateKey, error) {
	k, err := jwk.ParseKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing DPoP key JWK: %w", err)
	}
	var priv ecdsa.PrivateKey
	if err := k.Raw(&priv); err != nil {
		return nil, fmt.Errorf("unsupported DPoP key type: %w", err)
	}
	return &priv, nil
}

// publicJWKHeader returns the public half of the key as a plain map, for
// embedding in the DPoP JWT "jwk" header.
func publicJWKHeader(priv *ecdsa.PrivateKey) (map[string]any, error) {
	k, err := jwk.FromRaw(priv)
	if err != nil {
		return nil, err
	}
	pub, err := k.PublicKey()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(pub)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// newDPoPJWT signs a DPoP proof for a single HTTP request. accessToken is
// empty for auth server requests; for resource server requests it is
// included as the 'ath' hash.
func newDPoPJWT(httpMethod, targetURL, serverNonce, accessToken string, key *ecdsa.PrivateKey) (string, error) {
	now := time.Now()
	claims := dpopClaims{
		HTTPMethod: httpMethod,
		TargetURI:  targetURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        randomNonce(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(jwtExpiration)),
		},
	}
	if serverNonce != "" {
		claims.Nonce = &serverNonce
	}
	if accessToken != "" {
		ath := S256CodeChallenge(accessToken)
		claims.AccessTokenHash = &ath
	}

	pubJWK, err := publicJWKHeader(key)
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = pubJWK
	return token.SignedString(key)
}

// newClientAssertionJWT signs the private_key_jwt client authentication
// assertion used by confidential clients.
func newClientAssertionJWT(clientID, audience, keyID string, key *ecdsa.PrivateKey) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:   clientID,
		Subject:  clientID,
		Audience: []string{audience},
		ID:       randomNonce(),
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = keyID
	return token.SignedString(key)
}
