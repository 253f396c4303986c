package token

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

// TestIssuer is an OpenID Connect issuer for tests, serving a discovery document and a JWKS.
type TestIssuer struct {
	URL string
	key jwk.Key
}

func NewTestIssuer(t *testing.T) *TestIssuer {
	key := NewTestKey(t, "test-key")
	publicKey, err := key.PublicKey()
	require.NoError(t, err)
	keySet := jwk.NewSet()
	require.NoError(t, keySet.AddKey(publicKey))

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	result := &TestIssuer{URL: server.URL, key: key}
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   server.URL,
			"jwks_uri": server.URL + "/jwks",
		})
	})
	mux.HandleFunc("GET /jwks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keySet)
	})
	return result
}

// NewTestKey generates an ES256 private key with the given key ID.
func NewTestKey(t *testing.T, keyID string) jwk.Key {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	key, err := jwk.FromRaw(privateKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, keyID))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.ES256))
	return key
}

// Sign issues a token valid for an hour. The given claims override the defaults.
func (i *TestIssuer) Sign(t *testing.T, claims map[string]any) string {
	return SignTestToken(t, i.key, i.URL, claims)
}

// SignTestToken signs a token with the given key.
func SignTestToken(t *testing.T, key jwk.Key, issuer string, claims map[string]any) string {
	token := jwt.New()
	require.NoError(t, token.Set(jwt.IssuerKey, issuer))
	require.NoError(t, token.Set(jwt.SubjectKey, "test-user"))
	require.NoError(t, token.Set(jwt.IssuedAtKey, time.Now()))
	require.NoError(t, token.Set(jwt.ExpirationKey, time.Now().Add(time.Hour)))
	for name, value := range claims {
		require.NoError(t, token.Set(name, value))
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256, key))
	require.NoError(t, err)
	return string(signed)
}
