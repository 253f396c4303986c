package interceptor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/williamito/fhir-gateway/fhirrequest"
	"github.com/williamito/fhir-gateway/policy"
	"github.com/williamito/fhir-gateway/token"
	"github.com/williamito/fhir-gateway/upstream"
)

const requestIDHeader = "X-Request-Id"

var _ http.Handler = &Interceptor{}

// Interceptor authenticates and authorizes inbound FHIR requests, and forwards allowed requests to the upstream FHIR store.
// It keeps no state between requests.
type Interceptor struct {
	basePath  string
	validator token.Validator
	checker   policy.AccessChecker
	client    upstream.Client
}

// New creates an Interceptor for the FHIR API mounted on basePath.
func New(basePath string, validator token.Validator, checker policy.AccessChecker, client upstream.Client) *Interceptor {
	return &Interceptor{
		basePath:  basePath,
		validator: validator,
		checker:   checker,
		client:    client,
	}
}

func (i Interceptor) ServeHTTP(httpResponse http.ResponseWriter, httpRequest *http.Request) {
	requestID := httpRequest.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		httpRequest.Header.Set(requestIDHeader, requestID)
	}
	httpResponse.Header().Set(requestIDHeader, requestID)

	sanitizedURL := *httpRequest.URL
	sanitizedURL.RawQuery = ""
	logger := log.With().
		Str("request_id", requestID).
		Str("method", httpRequest.Method).
		Str("url", sanitizedURL.String()).
		Logger()
	ctx := logger.WithContext(httpRequest.Context())

	stage, response, err := i.Intercept(ctx, httpRequest)
	if err != nil {
		writeOperationOutcomeFromError(ctx, err, httpResponse)
		return
	}
	logger.Debug().Msgf("Request %s, relaying upstream response (status=%d)", stage, response.StatusCode)
	// Upstream may echo the request id as well
	response.Header.Del(requestIDHeader)
	if err := response.Write(httpResponse); err != nil {
		logger.Warn().Err(err).Msg("Failed to write response")
	}
}

// Intercept runs the authorization pipeline for a single request. It returns the stage the request ended in.
// The request is only forwarded upstream when it ends Allowed; any error before that leaves it Denied.
func (i Interceptor) Intercept(ctx context.Context, httpRequest *http.Request) (Stage, *fhirrequest.Response, error) {
	logger := zerolog.Ctx(ctx)
	stage := Unauthenticated
	transition := func(next Stage) {
		logger.Trace().Msgf("Request stage: %s -> %s", stage, next)
		stage = next
	}

	rawToken, err := bearerToken(httpRequest.Header)
	if err != nil {
		transition(Denied)
		return stage, nil, err
	}
	transition(Authenticating)
	claims, err := i.validator.Validate(ctx, rawToken)
	if err != nil {
		transition(Denied)
		return stage, nil, ensureAuthenticationError(err)
	}
	transition(Authenticated)

	// The body is only read after authentication
	request, err := fhirrequest.FromHTTP(httpRequest, i.basePath)
	if err != nil {
		transition(Denied)
		return stage, nil, err
	}

	transition(Evaluating)
	decision, err := i.checker.CheckAccess(ctx, request, claims)
	if err != nil {
		transition(Denied)
		return stage, nil, fmt.Errorf("access policy evaluation failed: %w", err)
	}
	if !decision.CanAccess {
		transition(Denied)
		return stage, nil, &AuthorizationError{Reason: decision.Reason}
	}
	transition(Allowed)
	logger.Debug().Msgf("Request allowed: %s", decision.Reason)

	response, err := i.client.HandleRequest(ctx, request)
	if err != nil {
		return stage, nil, err
	}
	return stage, response, nil
}

// bearerToken extracts the token from the Authorization header. The scheme is case-insensitive.
func bearerToken(header http.Header) (string, error) {
	value := header.Get("Authorization")
	if value == "" {
		return "", &token.AuthenticationError{Reason: "no Authorization header", Err: errMissingBearerToken}
	}
	scheme, rawToken, found := strings.Cut(value, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", &token.AuthenticationError{Reason: "Authorization header is not a bearer token", Err: errMissingBearerToken}
	}
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return "", &token.AuthenticationError{Reason: "empty bearer token", Err: errMissingBearerToken}
	}
	return rawToken, nil
}

// ensureAuthenticationError reports any validator failure as an authentication failure,
// except an issuer outage, which isn't the caller's fault.
func ensureAuthenticationError(err error) error {
	var authenticationErr *token.AuthenticationError
	if errors.As(err, &authenticationErr) || errors.Is(err, token.ErrKeysUnavailable) {
		return err
	}
	return &token.AuthenticationError{Reason: "token validation failed", Err: err}
}
