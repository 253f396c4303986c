package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
)

//go:generate mockgen -destination=validator_mock.go -package=token -source=validator.go Validator

// DefaultAcceptableSkew is the clock skew tolerated when validating exp, nbf and iat.
const DefaultAcceptableSkew = 30 * time.Second

const jwksRefreshInterval = 15 * time.Minute

// Validator validates bearer tokens presented by callers.
type Validator interface {
	// Validate verifies the token and returns its claims. It returns an *AuthenticationError if the token is invalid,
	// or ErrKeysUnavailable if the issuer's keys can't be retrieved.
	Validate(ctx context.Context, rawToken string) (Claims, error)
}

var _ Validator = &JWTValidator{}

// JWTValidator validates signed JWTs issued by a single trusted issuer.
// The issuer's signing keys are fetched from its JWKS endpoint and cached.
type JWTValidator struct {
	issuer   string
	audience string
	jwksURL  string
	keys     *jwk.Cache
}

// Option configures a JWTValidator.
type Option func(*JWTValidator)

// WithJWKSURL sets the JWKS endpoint of the issuer, skipping OpenID Connect discovery.
func WithJWKSURL(jwksURL string) Option {
	return func(v *JWTValidator) {
		v.jwksURL = jwksURL
	}
}

// WithAudience requires tokens to carry the given audience.
func WithAudience(audience string) Option {
	return func(v *JWTValidator) {
		v.audience = audience
	}
}

// NewJWTValidator creates a JWTValidator for the given issuer.
// Unless WithJWKSURL is given, the JWKS endpoint is discovered from the issuer's OpenID configuration.
// The key set is fetched once before returning, so a misconfigured issuer fails at startup.
func NewJWTValidator(ctx context.Context, issuer string, options ...Option) (*JWTValidator, error) {
	if issuer == "" {
		return nil, errors.New("token issuer is required")
	}
	result := &JWTValidator{issuer: issuer}
	for _, option := range options {
		option(result)
	}
	if result.jwksURL == "" {
		jwksURL, err := discoverJWKSURL(ctx, issuer)
		if err != nil {
			return nil, err
		}
		result.jwksURL = jwksURL
	}
	result.keys = jwk.NewCache(ctx)
	if err := result.keys.Register(result.jwksURL, jwk.WithMinRefreshInterval(jwksRefreshInterval)); err != nil {
		return nil, fmt.Errorf("unable to register JWKS %s: %w", result.jwksURL, err)
	}
	if _, err := result.keys.Refresh(ctx, result.jwksURL); err != nil {
		return nil, fmt.Errorf("unable to fetch JWKS %s: %w", result.jwksURL, err)
	}
	return result, nil
}

func (v *JWTValidator) Validate(ctx context.Context, rawToken string) (Claims, error) {
	if rawToken == "" {
		return nil, &AuthenticationError{Reason: "bearer token is missing"}
	}
	keySet, err := v.keys.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeysUnavailable, err)
	}
	parseOptions := []jwt.ParseOption{
		jwt.WithKeySet(keySet, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
		jwt.WithAcceptableSkew(DefaultAcceptableSkew),
	}
	if v.audience != "" {
		parseOptions = append(parseOptions, jwt.WithAudience(v.audience))
	}
	parsed, err := jwt.Parse([]byte(rawToken), parseOptions...)
	if err != nil {
		return nil, &AuthenticationError{Reason: "invalid bearer token", Err: err}
	}
	claims, err := parsed.AsMap(ctx)
	if err != nil {
		return nil, &AuthenticationError{Reason: "unable to read token claims", Err: err}
	}
	zerolog.Ctx(ctx).Debug().Msgf("Bearer token validated (issuer=%s)", parsed.Issuer())
	return claims, nil
}

type openIDConfiguration struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// discoverJWKSURL reads the jwks_uri from the issuer's OpenID Connect discovery document.
func discoverJWKSURL(ctx context.Context, issuer string) (string, error) {
	discoveryURL := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid token issuer %s: %w", issuer, err)
	}
	httpRequest.Header.Set("Accept", "application/json")
	httpResponse, err := http.DefaultClient.Do(httpRequest)
	if err != nil {
		return "", fmt.Errorf("failed to fetch OpenID configuration: %w", err)
	}
	defer httpResponse.Body.Close()
	if httpResponse.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch OpenID configuration: status code %d", httpResponse.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(httpResponse.Body, 1024*1024))
	if err != nil {
		return "", fmt.Errorf("failed to fetch OpenID configuration: %w", err)
	}
	var config openIDConfiguration
	if err := json.Unmarshal(data, &config); err != nil {
		return "", fmt.Errorf("failed to parse OpenID configuration: %w", err)
	}
	if config.Issuer != issuer {
		return "", fmt.Errorf("issuer mismatch: expected %s, got %s", issuer, config.Issuer)
	}
	if config.JWKSURI == "" {
		return "", errors.New("OpenID configuration does not contain a jwks_uri")
	}
	return config.JWKSURI, nil
}
