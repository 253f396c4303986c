package upstream

import (
	"net/http"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ http.RoundTripper = LoggingTransportDecorator{}

// LoggingTransportDecorator logs every request sent to the upstream FHIR store, without its query.
type LoggingTransportDecorator struct {
	RoundTripper http.RoundTripper
}

func (d LoggingTransportDecorator) RoundTrip(request *http.Request) (*http.Response, error) {
	logger := zerolog.Ctx(request.Context())
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}
	response, err := d.roundTripper().RoundTrip(request)
	if err != nil {
		logger.Warn().Err(err).Msgf("Upstream request failed: %s %s", request.Method, sanitizeRequestURL(request.URL).String())
	} else if response.StatusCode >= 400 {
		logger.Error().Msgf("Upstream request returned non-OK status %d: %s %s", response.StatusCode, request.Method, sanitizeRequestURL(request.URL).String())
	} else {
		logger.Info().Msgf("Upstream request: %s %s (status=%d)", request.Method, sanitizeRequestURL(request.URL).String(), response.StatusCode)
	}
	return response, err
}

func (d LoggingTransportDecorator) roundTripper() http.RoundTripper {
	if d.RoundTripper == nil {
		return http.DefaultTransport
	}
	return d.RoundTripper
}

var _ http.RoundTripper = authorizingTransport{}

// authorizingTransport sets the Authorization header the target requires on every outbound request.
type authorizingTransport struct {
	target Target
	next   http.RoundTripper
}

func (a authorizingTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	authHeader, err := a.target.AuthorizationHeader(request.Context())
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	if authHeader != "" {
		request = request.Clone(request.Context())
		request.Header.Set("Authorization", authHeader)
	}
	return a.next.RoundTrip(request)
}

// NewHTTPClient returns an HTTP client that authenticates to the target, for internal calls
// to the upstream FHIR store (e.g. resolving patient lists). If next is nil, http.DefaultTransport is used.
func NewHTTPClient(target Target, next http.RoundTripper) *http.Client {
	if next == nil {
		next = http.DefaultTransport
	}
	return &http.Client{
		Transport: LoggingTransportDecorator{
			RoundTripper: authorizingTransport{target: target, next: next},
		},
	}
}

func sanitizeRequestURL(requestURL *url.URL) *url.URL {
	// Query might contain PII (e.g., social security number), so do not log it.
	requestURLWithoutQuery := *requestURL
	requestURLWithoutQuery.RawQuery = ""
	requestURLWithoutQuery.User = nil
	return &requestURLWithoutQuery
}
