package fhirrequest

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// MaxBodySize is the maximum size of an inbound request body.
const MaxBodySize = 10 * 1024 * 1024

var ErrBodyTooLarge = errors.New("request body is too large")

var ErrOutsideBasePath = errors.New("request path is outside the FHIR base path")

// ErrInvalidQuery is returned when the query string can't be parsed in full.
var ErrInvalidQuery = errors.New("invalid query string")

// ErrInvalidSearchBody is returned when the body of a POST _search isn't a parseable form.
var ErrInvalidSearchBody = errors.New("invalid _search body")

// Request is a snapshot of an inbound FHIR API request, taken once and not modified afterwards.
type Request struct {
	Method       string
	ResourceType string
	// ResourceID is empty for type-level interactions (search, create) and for paths like Patient/_search.
	ResourceID string
	// Path is the resource path relative to the FHIR base URL, e.g. Patient/123/_history/2.
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// FromHTTP reads the HTTP request into a Request. basePath is the path the FHIR API is mounted on.
// The request body is consumed.
func FromHTTP(httpRequest *http.Request, basePath string) (*Request, error) {
	resourcePath, err := relativePath(httpRequest.URL.Path, basePath)
	if err != nil {
		return nil, err
	}
	// URL.Query() silently drops pairs it can't parse, which would narrow or widen what is forwarded
	query, err := url.ParseQuery(httpRequest.URL.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	var body []byte
	if httpRequest.Body != nil {
		body, err = io.ReadAll(io.LimitReader(httpRequest.Body, MaxBodySize+1))
		if err != nil {
			return nil, fmt.Errorf("couldn't read request body: %w", err)
		}
		if len(body) > MaxBodySize {
			return nil, ErrBodyTooLarge
		}
	}
	result := &Request{
		Method: httpRequest.Method,
		Path:   resourcePath,
		Query:  query,
		Header: httpRequest.Header.Clone(),
		Body:   body,
	}
	if result.Header == nil {
		result.Header = http.Header{}
	}
	segments := strings.Split(resourcePath, "/")
	result.ResourceType = segments[0]
	if len(segments) > 1 && isResourceID(segments[1]) {
		result.ResourceID = segments[1]
	}
	return result, nil
}

func relativePath(requestPath string, basePath string) (string, error) {
	basePath = strings.TrimSuffix(basePath, "/")
	if basePath != "" {
		if requestPath != basePath && !strings.HasPrefix(requestPath, basePath+"/") {
			return "", ErrOutsideBasePath
		}
		requestPath = strings.TrimPrefix(requestPath, basePath)
	}
	return strings.TrimPrefix(requestPath, "/"), nil
}

// isResourceID reports whether a path segment following the resource type is a logical id,
// as opposed to an operation ($everything) or a special path (_search, _history).
func isResourceID(segment string) bool {
	return segment != "" && !strings.HasPrefix(segment, "_") && !strings.HasPrefix(segment, "$")
}

// HasBody reports whether the request carries a non-empty body.
func (r Request) HasBody() bool {
	return len(r.Body) > 0
}

// IsSearch reports whether the request is a type-level search, either GET [type]?params or POST [type]/_search.
// History and operations are not searches.
func (r Request) IsSearch() bool {
	switch r.Method {
	case http.MethodGet:
		return r.ResourceType != "" && strings.TrimSuffix(r.Path, "/") == r.ResourceType
	case http.MethodPost:
		return r.ResourceType != "" && r.Path == r.ResourceType+"/_search"
	default:
		return false
	}
}

// IsWrite reports whether the request creates or updates a resource.
func (r Request) IsWrite() bool {
	switch r.Method {
	case http.MethodPost:
		return !r.IsSearch()
	case http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// SearchParameters returns the query parameters, merged with the form-encoded body of a POST _search.
// It returns ErrInvalidSearchBody if a POST _search body isn't form-encoded or can't be parsed.
func (r Request) SearchParameters() (url.Values, error) {
	result := url.Values{}
	for name, values := range r.Query {
		result[name] = append([]string(nil), values...)
	}
	if r.Method != http.MethodPost || !r.IsSearch() || !r.HasBody() {
		return result, nil
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSearchBody, err)
	}
	if mediaType != "application/x-www-form-urlencoded" {
		return nil, fmt.Errorf("%w: unsupported Content-Type %s", ErrInvalidSearchBody, mediaType)
	}
	formValues, err := url.ParseQuery(string(r.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSearchBody, err)
	}
	for name, values := range formValues {
		result[name] = append(result[name], values...)
	}
	return result, nil
}
