package fhirrequest

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHTTP(t *testing.T) {
	t.Run("read", func(t *testing.T) {
		httpRequest := httptest.NewRequest(http.MethodGet, "/fhir/Patient/123?_elements=name", nil)

		request, err := FromHTTP(httpRequest, "/fhir")

		require.NoError(t, err)
		assert.Equal(t, "Patient", request.ResourceType)
		assert.Equal(t, "123", request.ResourceID)
		assert.Equal(t, "Patient/123", request.Path)
		assert.Equal(t, url.Values{"_elements": []string{"name"}}, request.Query)
		assert.False(t, request.HasBody())
		assert.False(t, request.IsSearch())
	})
	t.Run("search with multi-valued parameter", func(t *testing.T) {
		httpRequest := httptest.NewRequest(http.MethodGet, "/Observation?subject=Patient/1&code=a&code=b", nil)

		request, err := FromHTTP(httpRequest, "/")

		require.NoError(t, err)
		assert.Equal(t, "Observation", request.ResourceType)
		assert.Empty(t, request.ResourceID)
		assert.True(t, request.IsSearch())
		assert.Equal(t, []string{"a", "b"}, request.Query["code"])
	})
	t.Run("history is not an id", func(t *testing.T) {
		httpRequest := httptest.NewRequest(http.MethodGet, "/Patient/_history", nil)

		request, err := FromHTTP(httpRequest, "")

		require.NoError(t, err)
		assert.Empty(t, request.ResourceID)
		assert.False(t, request.IsSearch())
	})
	t.Run("operation is not a search", func(t *testing.T) {
		httpRequest := httptest.NewRequest(http.MethodGet, "/Observation/$lastn?subject=Patient/1", nil)

		request, err := FromHTTP(httpRequest, "/")

		require.NoError(t, err)
		assert.False(t, request.IsSearch())
		assert.False(t, request.IsWrite())
	})
	t.Run("update with body", func(t *testing.T) {
		httpRequest := httptest.NewRequest(http.MethodPut, "/Observation/obs-1", strings.NewReader(`{"resourceType":"Observation"}`))
		httpRequest.Header.Set("Content-Type", "application/fhir+json")

		request, err := FromHTTP(httpRequest, "/")

		require.NoError(t, err)
		assert.True(t, request.HasBody())
		assert.True(t, request.IsWrite())
		assert.Equal(t, "application/fhir+json", request.Header.Get("Content-Type"))
	})
	t.Run("outside base path", func(t *testing.T) {
		httpRequest := httptest.NewRequest(http.MethodGet, "/other/Patient/1", nil)

		_, err := FromHTTP(httpRequest, "/fhir")

		require.ErrorIs(t, err, ErrOutsideBasePath)
	})
	t.Run("body too large", func(t *testing.T) {
		httpRequest := httptest.NewRequest(http.MethodPost, "/Observation", strings.NewReader(strings.Repeat("a", MaxBodySize+1)))

		_, err := FromHTTP(httpRequest, "/")

		require.ErrorIs(t, err, ErrBodyTooLarge)
	})
	t.Run("query with semicolon separator", func(t *testing.T) {
		httpRequest := httptest.NewRequest(http.MethodGet, "/Observation?subject=Patient/A&_id=1;2", nil)

		_, err := FromHTTP(httpRequest, "/")

		require.ErrorIs(t, err, ErrInvalidQuery)
	})
	t.Run("query with invalid escape", func(t *testing.T) {
		httpRequest := httptest.NewRequest(http.MethodGet, "/Observation?subject=Patient/A&_id=%zz", nil)

		_, err := FromHTTP(httpRequest, "/")

		require.ErrorIs(t, err, ErrInvalidQuery)
	})
}

func TestRequest_SearchParameters(t *testing.T) {
	t.Run("POST _search merges form body", func(t *testing.T) {
		httpRequest := httptest.NewRequest(http.MethodPost, "/Observation/_search?code=x", strings.NewReader("subject=Patient%2F1"))
		httpRequest.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		request, err := FromHTTP(httpRequest, "/")
		require.NoError(t, err)

		params, err := request.SearchParameters()

		require.NoError(t, err)
		assert.True(t, request.IsSearch())
		assert.False(t, request.IsWrite())
		assert.Equal(t, []string{"Patient/1"}, params["subject"])
		assert.Equal(t, []string{"x"}, params["code"])
	})
	t.Run("does not modify the query", func(t *testing.T) {
		request := Request{Method: http.MethodGet, ResourceType: "Observation", Path: "Observation", Query: url.Values{"subject": {"1"}}}

		params, err := request.SearchParameters()
		require.NoError(t, err)
		params.Add("subject", "2")

		assert.Equal(t, []string{"1"}, request.Query["subject"])
	})
	t.Run("Content-Type is case-insensitive", func(t *testing.T) {
		httpRequest := httptest.NewRequest(http.MethodPost, "/Observation/_search", strings.NewReader("subject=Patient%2F1"))
		httpRequest.Header.Set("Content-Type", "Application/X-WWW-Form-Urlencoded; charset=UTF-8")
		request, err := FromHTTP(httpRequest, "/")
		require.NoError(t, err)

		params, err := request.SearchParameters()

		require.NoError(t, err)
		assert.Equal(t, []string{"Patient/1"}, params["subject"])
	})
	t.Run("unparseable form body", func(t *testing.T) {
		httpRequest := httptest.NewRequest(http.MethodPost, "/Observation/_search", strings.NewReader("subject=Patient%2F1&junk=%zz"))
		httpRequest.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		request, err := FromHTTP(httpRequest, "/")
		require.NoError(t, err)

		_, err = request.SearchParameters()

		require.ErrorIs(t, err, ErrInvalidSearchBody)
	})
	t.Run("body is not a form", func(t *testing.T) {
		httpRequest := httptest.NewRequest(http.MethodPost, "/Observation/_search", strings.NewReader(`{"subject":"Patient/1"}`))
		httpRequest.Header.Set("Content-Type", "application/json")
		request, err := FromHTTP(httpRequest, "/")
		require.NoError(t, err)

		_, err = request.SearchParameters()

		require.ErrorIs(t, err, ErrInvalidSearchBody)
	})
}

func TestResponse_Write(t *testing.T) {
	recorder := httptest.NewRecorder()
	response := Response{
		StatusCode: http.StatusCreated,
		Header:     http.Header{"Content-Type": {"application/fhir+json"}, "Content-Length": {"999"}},
		Body:       []byte(`{"resourceType":"Observation"}`),
	}

	require.NoError(t, response.Write(recorder))

	assert.Equal(t, http.StatusCreated, recorder.Code)
	assert.Equal(t, "30", recorder.Header().Get("Content-Length"))
	assert.Equal(t, `{"resourceType":"Observation"}`, recorder.Body.String())
}
