package smart_on_fhir

import (
	"crypto"
	"crypto/rand"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/asn1"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/williamito/fhir-gateway/keys"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jws"
)

// grantTokenValidity specifies how long the grant token (used to acquire the access token) is valid.
const grantTokenValidity = 5 * time.Second

// DefaultScope is requested when BackendTokenSource.Scope is empty.
const DefaultScope = "system/*.cruds"

var _ oauth2.TokenSource = &BackendTokenSource{}

// BackendTokenSource is an oauth2.TokenSource for a SMART on FHIR backend client.
// It authenticates using a signed JWT client assertion (private_key_jwt).
type BackendTokenSource struct {
	OAuth2ASTokenEndpoint string
	ClientID              string
	SigningKey            keys.SigningKey
	Scope                 string
	// HTTPClient is used to call the token endpoint. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
}

func (p BackendTokenSource) Token() (*oauth2.Token, error) {
	log.Debug().Msg("Refreshing OAuth2 Access Token")
	grantJWT, err := p.createGrant()
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT grant: %w", err)
	}
	token, err := p.exchange(grantJWT)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve token: %w", err)
	}
	return token, nil
}

func (p BackendTokenSource) exchange(grantJWT string) (*oauth2.Token, error) {
	// Loosely inspired by golang.org/x/oauth2@v0.19.0/jwt/jwt.go
	// Specified by https://hl7.org/fhir/smart-app-launch/backend-services.html#obtain-access-token
	v := url.Values{}
	v.Set("grant_type", "client_credentials")
	v.Set("client_assertion_type", "urn:ietf:params:oauth:client-assertion-type:jwt-bearer")
	v.Set("client_assertion", grantJWT)
	scope := p.Scope
	if scope == "" {
		scope = DefaultScope
	}
	v.Set("scope", scope)
	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	response, err := httpClient.PostForm(p.OAuth2ASTokenEndpoint, v)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch token: %w", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(io.LimitReader(response.Body, 1024*1024)) // 1mb
	if err != nil {
		return nil, fmt.Errorf("cannot fetch token: %w", err)
	}
	if c := response.StatusCode; c < 200 || c > 299 {
		return nil, &oauth2.RetrieveError{
			Response: response,
			Body:     body,
		}
	}
	return parseTokenResponse(body)
}

func (p BackendTokenSource) createGrant() (string, error) {
	if p.SigningKey == nil {
		return "", errors.New("no signing key configured")
	}
	hashFunc, err := signingHash(p.SigningKey.SigningAlgorithm())
	if err != nil {
		return "", err
	}
	// Audience is a string rather than an array, which not every authorization server supports
	hdr := &jws.Header{
		Algorithm: p.SigningKey.SigningAlgorithm(),
		Typ:       "JWT",
		KeyID:     p.SigningKey.KeyID(),
	}
	now := time.Now()
	claims := &jws.ClaimSet{
		Iss: p.ClientID,
		Aud: p.OAuth2ASTokenEndpoint,
		Exp: now.Add(grantTokenValidity).Unix(),
		Iat: now.Unix(),
		Sub: p.ClientID,
		PrivateClaims: map[string]interface{}{
			"jti": uuid.NewString(),
			"nbf": now.Unix(),
		},
	}
	return jws.EncodeWithSigner(hdr, claims, func(data []byte) ([]byte, error) {
		hasher := hashFunc.New()
		hasher.Write(data)
		signature, err := p.SigningKey.Sign(rand.Reader, hasher.Sum(nil), hashFunc)
		if err != nil {
			return nil, err
		}
		return toJWSSignature(p.SigningKey.SigningAlgorithm(), signature)
	})
}

func signingHash(alg string) (crypto.Hash, error) {
	switch alg {
	case "ES256", "RS256":
		return crypto.SHA256, nil
	case "ES384", "RS384":
		return crypto.SHA384, nil
	case "ES512", "RS512":
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("unsupported signing algorithm: %s", alg)
	}
}

// toJWSSignature converts an ECDSA signature to the fixed-size r||s form JWS requires.
// Software keys produce ASN.1 DER signatures, Azure Key Vault already returns r||s.
func toJWSSignature(alg string, signature []byte) ([]byte, error) {
	var size int
	switch alg {
	case "ES256":
		size = 32
	case "ES384":
		size = 48
	case "ES512":
		size = 66
	default:
		return signature, nil
	}
	if len(signature) == 2*size {
		return signature, nil
	}
	var parsed struct {
		R, S *big.Int
	}
	if _, err := asn1.Unmarshal(signature, &parsed); err != nil {
		return nil, fmt.Errorf("invalid ECDSA signature: %w", err)
	}
	result := make([]byte, 2*size)
	parsed.R.FillBytes(result[:size])
	parsed.S.FillBytes(result[size:])
	return result, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

func parseTokenResponse(data []byte) (*oauth2.Token, error) {
	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, errors.New("token response does not contain an access token")
	}
	return &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		Expiry:      time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second).Add(-10 * time.Second), // allow for some clock skew
	}, nil
}
