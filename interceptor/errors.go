package interceptor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/samply/golang-fhir-models/fhir-models/fhir"
	"github.com/williamito/fhir-gateway/fhirrequest"
	"github.com/williamito/fhir-gateway/token"
	"github.com/williamito/fhir-gateway/upstream"
)

// AuthorizationError is returned when the access policy denies the request.
// Reason is logged, but never sent to the caller.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "access denied: " + e.Reason
}

var errMissingBearerToken = errors.New("missing bearer token")

// writeOperationOutcomeFromError writes err as FHIR OperationOutcome, with the status code matching the error type.
func writeOperationOutcomeFromError(ctx context.Context, err error, httpResponse http.ResponseWriter) {
	logger := zerolog.Ctx(ctx)
	statusCode := http.StatusInternalServerError
	issueType := fhir.IssueTypeException
	diagnostics := "The system tried to process the FHIR operation, but an error occurred."

	var authenticationErr *token.AuthenticationError
	var authorizationErr *AuthorizationError
	var constructionErr *upstream.RequestConstructionError
	var upstreamErr *upstream.UpstreamError
	switch {
	case errors.As(err, &authenticationErr):
		logger.Info().Err(err).Msg("Request rejected: authentication failed")
		statusCode = http.StatusUnauthorized
		issueType = fhir.IssueTypeLogin
		diagnostics = "Authentication failed."
		httpResponse.Header().Set("WWW-Authenticate", "Bearer")
	case errors.As(err, &authorizationErr):
		logger.Warn().Msgf("Request rejected: %s", authorizationErr.Reason)
		statusCode = http.StatusForbidden
		issueType = fhir.IssueTypeForbidden
		diagnostics = "Access to the requested resource is not allowed."
	case errors.As(err, &constructionErr):
		logger.Info().Err(err).Msg("Request rejected: invalid request")
		statusCode = http.StatusBadRequest
		issueType = fhir.IssueTypeStructure
		diagnostics = constructionErr.Error()
	case errors.Is(err, fhirrequest.ErrBodyTooLarge):
		logger.Info().Err(err).Msg("Request rejected")
		statusCode = http.StatusRequestEntityTooLarge
		issueType = fhir.IssueTypeTooLong
		diagnostics = err.Error()
	case errors.Is(err, fhirrequest.ErrInvalidQuery):
		logger.Info().Err(err).Msg("Request rejected")
		statusCode = http.StatusBadRequest
		issueType = fhir.IssueTypeStructure
		diagnostics = err.Error()
	case errors.Is(err, token.ErrKeysUnavailable):
		logger.Error().Err(err).Msg("Request failed: token issuer unavailable")
		statusCode = http.StatusServiceUnavailable
		issueType = fhir.IssueTypeTransient
		diagnostics = "The system is temporarily unable to authenticate requests."
	case errors.Is(err, fhirrequest.ErrOutsideBasePath):
		logger.Info().Err(err).Msg("Request rejected")
		statusCode = http.StatusNotFound
		issueType = fhir.IssueTypeNotFound
		diagnostics = err.Error()
	case errors.As(err, &upstreamErr):
		logger.Error().Err(err).Msg("Request failed: upstream FHIR store unavailable")
		statusCode = http.StatusBadGateway
		issueType = fhir.IssueTypeTransient
		diagnostics = "The system tried to proxy the FHIR operation, but an error occurred."
	default:
		logger.Error().Err(err).Msg("Request failed")
	}

	data, _ := json.Marshal(fhir.OperationOutcome{
		Issue: []fhir.OperationOutcomeIssue{
			{
				Severity:    fhir.IssueSeverityError,
				Code:        issueType,
				Diagnostics: &diagnostics,
			},
		},
	})
	httpResponse.Header().Set("Content-Type", "application/fhir+json")
	httpResponse.WriteHeader(statusCode)
	_, _ = httpResponse.Write(data)
}
