package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCredential struct{}

func (fakeCredential) GetToken(_ context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: "token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func getKeyResponse(kid string, crv string, publicKey *ecdsa.PublicKey) map[string]any {
	size := (publicKey.Curve.Params().BitSize + 7) / 8
	x := make([]byte, size)
	y := make([]byte, size)
	publicKey.X.FillBytes(x)
	publicKey.Y.FillBytes(y)
	return map[string]any{
		"key": map[string]any{
			"kid":     kid,
			"kty":     "EC",
			"key_ops": []string{"sign", "verify"},
			"crv":     crv,
			"x":       base64.RawURLEncoding.EncodeToString(x),
			"y":       base64.RawURLEncoding.EncodeToString(y),
		},
		"attributes": map[string]any{
			"enabled": true,
		},
	}
}

func startKeyVault(t *testing.T, response map[string]any) *httptest.Server {
	mux := http.NewServeMux()
	httpServer := httptest.NewTLSServer(mux)
	t.Cleanup(httpServer.Close)
	mux.HandleFunc("GET /keys/keyz/", func(w http.ResponseWriter, r *http.Request) {
		data, _ := json.Marshal(response)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
	return httpServer
}

func clientOptions(httpServer *httptest.Server) *azkeys.ClientOptions {
	return &azkeys.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			InsecureAllowCredentialWithHTTP: true,
			Transport:                       httpServer.Client(),
		},
		DisableChallengeResourceVerification: true,
	}
}

func TestSigningKeyFromAzureKeyVault(t *testing.T) {
	const kid = "https://keyszzz.vault.azure.net/keys/signingkey/5072fbaaa30849298e4b3c60384cdaac"
	t.Run("ok", func(t *testing.T) {
		privateKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		httpServer := startKeyVault(t, getKeyResponse(kid, "P-256", &privateKey.PublicKey))

		signingKey, err := signingKeyFromAzureKeyVault(context.Background(), httpServer.URL, "keyz", fakeCredential{}, clientOptions(httpServer))
		require.NoError(t, err)

		assert.Equal(t, kid, signingKey.KeyID())
		assert.Equal(t, "ES256", signingKey.SigningAlgorithm())
		publicKey, ok := signingKey.Public().(*ecdsa.PublicKey)
		require.True(t, ok)
		assert.True(t, privateKey.PublicKey.Equal(publicKey))
	})
	t.Run("P-384", func(t *testing.T) {
		privateKey, _ := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		httpServer := startKeyVault(t, getKeyResponse(kid, "P-384", &privateKey.PublicKey))

		signingKey, err := signingKeyFromAzureKeyVault(context.Background(), httpServer.URL, "keyz", fakeCredential{}, clientOptions(httpServer))
		require.NoError(t, err)

		assert.Equal(t, "ES384", signingKey.SigningAlgorithm())
	})
	t.Run("no credential", func(t *testing.T) {
		_, err := SigningKeyFromAzureKeyVault(context.Background(), "https://example.vault.azure.net", "keyz", nil)

		require.EqualError(t, err, "no Azure credential configured")
	})
}
