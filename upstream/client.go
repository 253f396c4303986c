package upstream

//go:generate mockgen -destination=client_mock.go -package=upstream -source=client.go Client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/williamito/fhir-gateway/fhirrequest"
)

// DefaultResponseHeaders are the upstream response headers relayed to the caller, if not configured otherwise.
var DefaultResponseHeaders = []string{
	"Content-Type",
	"ETag",
	"Last-Modified",
	"Location",
	"Content-Location",
	"X-Request-Id",
}

// forwardedRequestHeaders are the inbound request headers copied to the upstream request.
// The caller's Authorization header is never forwarded; the target's credentials are used instead.
var forwardedRequestHeaders = []string{
	"Content-Type",
	"Accept",
	"Prefer",
	"If-Match",
	"If-None-Match",
	"If-Modified-Since",
	"If-None-Exist",
	"X-Request-Id",
}

// Client forwards an authorized FHIR request to the upstream FHIR store.
type Client interface {
	HandleRequest(ctx context.Context, request *fhirrequest.Request) (*fhirrequest.Response, error)
}

var _ Client = &Forwarder{}

// Forwarder is the Client that sends requests to a Target over HTTP.
type Forwarder struct {
	target          Target
	httpClient      *http.Client
	responseHeaders []string
}

// NewForwarder creates a Forwarder. If transport is nil, http.DefaultTransport is used.
// If responseHeaders is empty, DefaultResponseHeaders is used.
func NewForwarder(target Target, transport http.RoundTripper, responseHeaders []string) *Forwarder {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if len(responseHeaders) == 0 {
		responseHeaders = DefaultResponseHeaders
	}
	return &Forwarder{
		target: target,
		httpClient: &http.Client{
			Transport: LoggingTransportDecorator{RoundTripper: transport},
			// Redirects are relayed to the caller as-is
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		responseHeaders: responseHeaders,
	}
}

// HandleRequest sends the request to the upstream FHIR store and returns its response, whatever its status.
// An error is only returned if the request couldn't be constructed or the store couldn't be reached.
// The request is sent exactly once.
func (f Forwarder) HandleRequest(ctx context.Context, request *fhirrequest.Request) (*fhirrequest.Response, error) {
	httpRequest, err := f.newUpstreamRequest(ctx, request)
	if err != nil {
		return nil, err
	}
	httpResponse, err := f.httpClient.Do(httpRequest)
	if err != nil {
		var upstreamErr *UpstreamError
		if errors.As(err, &upstreamErr) {
			return nil, upstreamErr
		}
		return nil, &UpstreamError{Err: err}
	}
	defer httpResponse.Body.Close()
	responseBody, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("couldn't read response body: %w", err)}
	}
	result := &fhirrequest.Response{
		StatusCode: httpResponse.StatusCode,
		Header:     http.Header{},
		Body:       responseBody,
	}
	for _, name := range f.responseHeaders {
		for _, value := range httpResponse.Header.Values(name) {
			result.Header.Add(name, value)
		}
	}
	return result, nil
}

func (f Forwarder) newUpstreamRequest(ctx context.Context, request *fhirrequest.Request) (*http.Request, error) {
	requestURL, err := f.target.ResourceURL(request.Path)
	if err != nil {
		return nil, &RequestConstructionError{Reason: "invalid resource path", Err: err}
	}
	requestURL.RawQuery = request.Query.Encode()

	// A nil reader yields no body and no Content-Length, which upstream stores require for bodiless requests.
	// Only creates, updates and POST _search carry a body; anything else sent along with a read or delete is dropped.
	var body io.Reader
	sendBody := request.HasBody() && (request.IsWrite() || (request.IsSearch() && request.Method == http.MethodPost))
	if sendBody {
		if request.Header.Get("Content-Type") == "" {
			return nil, &RequestConstructionError{Reason: "request has a body but no Content-Type"}
		}
		body = bytes.NewReader(request.Body)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, request.Method, requestURL.String(), body)
	if err != nil {
		return nil, &RequestConstructionError{Reason: "couldn't create upstream request", Err: err}
	}
	for _, name := range forwardedRequestHeaders {
		if name == "Content-Type" && !sendBody {
			continue
		}
		for _, value := range request.Header.Values(name) {
			httpRequest.Header.Add(name, value)
		}
	}
	authHeader, err := f.target.AuthorizationHeader(ctx)
	if err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("couldn't acquire upstream credentials: %w", err)}
	}
	if authHeader != "" {
		httpRequest.Header.Set("Authorization", authHeader)
	}
	return httpRequest, nil
}
