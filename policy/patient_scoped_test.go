package policy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/williamito/fhir-gateway/fhirrequest"
	"github.com/williamito/fhir-gateway/token"
	"go.uber.org/mock/gomock"
)

const (
	patientAuthorized    = "be92a43f-de46-affa-b131-bbf9eea51140"
	patientNonAuthorized = "patient-non-authorized"
)

var authorizedClaims = token.Claims{"iss": "https://issuer.example.com", "patient_id": patientAuthorized}

func readTestData(t *testing.T, name string) []byte {
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func newRequest(t *testing.T, method string, target string, body []byte) *fhirrequest.Request {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpRequest := httptest.NewRequest(method, target, reader)
	if body != nil {
		httpRequest.Header.Set("Content-Type", "application/fhir+json")
	}
	request, err := fhirrequest.FromHTTP(httpRequest, "/")
	require.NoError(t, err)
	return request
}

func TestPatientScoped_CheckAccess(t *testing.T) {
	patientBody := func(id string) []byte {
		return []byte(`{"resourceType":"Patient","id":"` + id + `","active":true}`)
	}
	tests := []struct {
		name      string
		method    string
		target    string
		body      []byte
		canAccess bool
	}{
		// Patient
		{name: "read authorized patient", method: http.MethodGet, target: "/Patient/" + patientAuthorized, canAccess: true},
		{name: "read versioned authorized patient", method: http.MethodGet, target: "/Patient/" + patientAuthorized + "/_history/2", canAccess: true},
		{name: "read other patient", method: http.MethodGet, target: "/Patient/" + patientNonAuthorized, canAccess: false},
		{name: "update authorized patient", method: http.MethodPut, target: "/Patient/" + patientAuthorized, body: patientBody(patientAuthorized), canAccess: true},
		{name: "update patient without id in path", method: http.MethodPut, target: "/Patient", body: patientBody(patientAuthorized), canAccess: false},
		{name: "update patient with body of other patient", method: http.MethodPut, target: "/Patient/" + patientAuthorized, body: patientBody(patientNonAuthorized), canAccess: false},
		{name: "create patient", method: http.MethodPost, target: "/Patient", body: patientBody(""), canAccess: false},
		{name: "search patients", method: http.MethodGet, target: "/Patient?name=smith", canAccess: false},
		// Search
		{name: "search by bare authorized subject", method: http.MethodGet, target: "/Observation?subject=" + patientAuthorized, canAccess: true},
		{name: "search by authorized subject reference", method: http.MethodGet, target: "/Observation?subject=Patient/" + patientAuthorized, canAccess: true},
		{name: "search by authorized patient parameter", method: http.MethodGet, target: "/Observation?patient=" + patientAuthorized + "&code=8302-2", canAccess: true},
		{name: "search with Patient modifier", method: http.MethodGet, target: "/Observation?subject:Patient=" + patientAuthorized, canAccess: true},
		{name: "search without subject", method: http.MethodGet, target: "/Observation?code=8302-2", canAccess: false},
		{name: "search by other subject", method: http.MethodGet, target: "/Observation?subject=Patient/" + patientNonAuthorized, canAccess: false},
		{name: "search by authorized and other subject", method: http.MethodGet, target: "/Observation?subject=Patient/" + patientAuthorized + ",Patient/" + patientNonAuthorized, canAccess: false},
		{name: "search with repeated subject, one other", method: http.MethodGet, target: "/Observation?subject=" + patientAuthorized + "&patient=" + patientNonAuthorized, canAccess: false},
		{name: "search by group subject", method: http.MethodGet, target: "/Observation?subject=Group/" + patientAuthorized, canAccess: false},
		{name: "search with non-Patient modifier", method: http.MethodGet, target: "/Observation?subject:Group=" + patientAuthorized, canAccess: false},
		{name: "search with missing modifier", method: http.MethodGet, target: "/Observation?subject:missing=true", canAccess: false},
		{name: "read observation by id", method: http.MethodGet, target: "/Observation/obs-1", canAccess: false},
		{name: "delete observation", method: http.MethodDelete, target: "/Observation/obs-1", canAccess: false},
		{name: "read observation by id with subject parameter", method: http.MethodGet, target: "/Observation/obs-1?subject=" + patientAuthorized, canAccess: false},
		{name: "conditional delete observation", method: http.MethodDelete, target: "/Observation?subject=" + patientAuthorized, canAccess: false},
		{name: "observation history with subject parameter", method: http.MethodGet, target: "/Observation/_history?subject=" + patientAuthorized, canAccess: false},
		{name: "observation operation", method: http.MethodGet, target: "/Observation/$lastn?subject=" + patientAuthorized, canAccess: false},
		// Writes
		{name: "update observation", method: http.MethodPut, target: "/Observation/obs-1", body: readTestData(t, "test_obs.json"), canAccess: true},
		{name: "update observation of other patient", method: http.MethodPut, target: "/Observation/obs-2", body: readTestData(t, "test_obs_unauthorized.json"), canAccess: false},
		{name: "create observation", method: http.MethodPost, target: "/Observation", body: readTestData(t, "test_obs.json"), canAccess: true},
		{name: "create observation with performers", method: http.MethodPost, target: "/Observation", body: readTestData(t, "test_obs_performers.json"), canAccess: true},
		{name: "create observation without patient reference", method: http.MethodPost, target: "/Observation", body: readTestData(t, "test_obs_no_subject.json"), canAccess: false},
		{name: "create observation without body", method: http.MethodPost, target: "/Observation", canAccess: false},
		{name: "create observation with non-JSON body", method: http.MethodPost, target: "/Observation", body: []byte("subject=Patient/" + patientAuthorized), canAccess: false},
		{name: "create observation with condition body", method: http.MethodPost, target: "/Observation", body: []byte(`{"resourceType":"Condition","subject":{"reference":"Patient/` + patientAuthorized + `"}}`), canAccess: false},
		{name: "body governs over search parameters", method: http.MethodPut, target: "/Observation/obs-2?subject=" + patientAuthorized, body: readTestData(t, "test_obs_unauthorized.json"), canAccess: false},
		// Resource types without a rule
		{name: "create encounter", method: http.MethodPost, target: "/Encounter", body: readTestData(t, "test_obs.json"), canAccess: false},
		{name: "search encounters", method: http.MethodGet, target: "/Encounter?subject=" + patientAuthorized, canAccess: false},
		{name: "capability statement", method: http.MethodGet, target: "/metadata", canAccess: false},
	}
	checker := NewPatientScoped(ClaimResolver{Claim: "patient_id"})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := newRequest(t, tt.method, tt.target, tt.body)

			decision, err := checker.CheckAccess(context.Background(), request, authorizedClaims)

			require.NoError(t, err)
			assert.Equal(t, tt.canAccess, decision.CanAccess, decision.Reason)
			assert.NotEmpty(t, decision.Reason)
		})
	}
	t.Run("POST _search", func(t *testing.T) {
		httpRequest := httptest.NewRequest(http.MethodPost, "/Observation/_search", strings.NewReader("subject=Patient%2F"+patientAuthorized))
		httpRequest.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		request, err := fhirrequest.FromHTTP(httpRequest, "/")
		require.NoError(t, err)

		decision, err := checker.CheckAccess(context.Background(), request, authorizedClaims)

		require.NoError(t, err)
		assert.True(t, decision.CanAccess, decision.Reason)
	})
	t.Run("POST _search with unparseable body", func(t *testing.T) {
		httpRequest := httptest.NewRequest(http.MethodPost, "/Observation/_search?subject="+patientAuthorized, strings.NewReader("subject=Patient%2F"+patientNonAuthorized+"&junk=%zz"))
		httpRequest.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		request, err := fhirrequest.FromHTTP(httpRequest, "/")
		require.NoError(t, err)

		decision, err := checker.CheckAccess(context.Background(), request, authorizedClaims)

		require.NoError(t, err)
		assert.False(t, decision.CanAccess)
	})
	t.Run("POST _search with mixed-case Content-Type", func(t *testing.T) {
		httpRequest := httptest.NewRequest(http.MethodPost, "/Observation/_search?subject="+patientAuthorized, strings.NewReader("subject=Patient%2F"+patientNonAuthorized))
		httpRequest.Header.Set("Content-Type", "Application/X-WWW-Form-Urlencoded")
		request, err := fhirrequest.FromHTTP(httpRequest, "/")
		require.NoError(t, err)

		decision, err := checker.CheckAccess(context.Background(), request, authorizedClaims)

		require.NoError(t, err)
		assert.False(t, decision.CanAccess)
		assert.Contains(t, decision.Reason, patientNonAuthorized)
	})
}

// A write body may reference several patients. Access requires every one of them to be authorized,
// regardless of the element (subject or performer) it appears in.
func TestPatientScoped_CheckAccess_MixedReferences(t *testing.T) {
	checker := NewPatientScoped(ClaimResolver{Claim: "patient_id"})
	t.Run("unauthorized subject, authorized performer", func(t *testing.T) {
		request := newRequest(t, http.MethodPost, "/Observation", readTestData(t, "test_obs_mixed_subject_unauthorized.json"))

		decision, err := checker.CheckAccess(context.Background(), request, authorizedClaims)

		require.NoError(t, err)
		assert.False(t, decision.CanAccess)
		assert.Equal(t, "patient patient-non-authorized is not authorized", decision.Reason)
	})
	t.Run("authorized subject, unauthorized performer", func(t *testing.T) {
		request := newRequest(t, http.MethodPost, "/Observation", readTestData(t, "test_obs_mixed_performer_unauthorized.json"))

		decision, err := checker.CheckAccess(context.Background(), request, authorizedClaims)

		require.NoError(t, err)
		assert.False(t, decision.CanAccess)
		assert.Equal(t, "patient patient-non-authorized is not authorized", decision.Reason)
	})
	t.Run("both authorized", func(t *testing.T) {
		claims := token.Claims{"patient_list": "list-1"}
		ctrl := gomock.NewController(t)
		resolver := NewMockPatientSetResolver(ctrl)
		resolver.EXPECT().Resolve(gomock.Any(), claims).Return(NewPatientSet(patientAuthorized, patientNonAuthorized), nil)
		request := newRequest(t, http.MethodPost, "/Observation", readTestData(t, "test_obs_mixed_performer_unauthorized.json"))

		decision, err := NewPatientScoped(resolver).CheckAccess(context.Background(), request, claims)

		require.NoError(t, err)
		assert.True(t, decision.CanAccess)
	})
}

func TestPatientScoped_CheckAccess_PatientSet(t *testing.T) {
	ctx := context.Background()
	t.Run("resolved once per request", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		resolver := NewMockPatientSetResolver(ctrl)
		resolver.EXPECT().Resolve(gomock.Any(), authorizedClaims).Return(NewPatientSet("a", "b"), nil).Times(1)
		request := newRequest(t, http.MethodGet, "/Observation?subject=Patient/a,Patient/b&patient=a", nil)

		decision, err := NewPatientScoped(resolver).CheckAccess(ctx, request, authorizedClaims)

		require.NoError(t, err)
		assert.True(t, decision.CanAccess)
	})
	t.Run("resolved again for the next request", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		resolver := NewMockPatientSetResolver(ctrl)
		gomock.InOrder(
			resolver.EXPECT().Resolve(gomock.Any(), authorizedClaims).Return(NewPatientSet("a"), nil),
			resolver.EXPECT().Resolve(gomock.Any(), authorizedClaims).Return(NewPatientSet("b"), nil),
		)
		checker := NewPatientScoped(resolver)

		first, err := checker.CheckAccess(ctx, newRequest(t, http.MethodGet, "/Patient/a", nil), authorizedClaims)
		require.NoError(t, err)
		second, err := checker.CheckAccess(ctx, newRequest(t, http.MethodGet, "/Patient/a", nil), authorizedClaims)
		require.NoError(t, err)

		assert.True(t, first.CanAccess)
		assert.False(t, second.CanAccess)
	})
	t.Run("no patient context", func(t *testing.T) {
		checker := NewPatientScoped(ClaimResolver{Claim: "patient_id"})

		decision, err := checker.CheckAccess(ctx, newRequest(t, http.MethodGet, "/Patient/a", nil), token.Claims{"sub": "user"})

		require.NoError(t, err)
		assert.False(t, decision.CanAccess)
	})
	t.Run("resolution fails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		resolver := NewMockPatientSetResolver(ctrl)
		resolver.EXPECT().Resolve(gomock.Any(), authorizedClaims).Return(nil, errors.New("upstream unavailable"))

		decision, err := NewPatientScoped(resolver).CheckAccess(ctx, newRequest(t, http.MethodGet, "/Patient/a", nil), authorizedClaims)

		require.EqualError(t, err, "upstream unavailable")
		assert.False(t, decision.CanAccess)
	})
	t.Run("rule without patient lookup does not resolve", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		resolver := NewMockPatientSetResolver(ctrl)

		decision, err := NewPatientScoped(resolver).CheckAccess(ctx, newRequest(t, http.MethodGet, "/Encounter?subject=a", nil), authorizedClaims)

		require.NoError(t, err)
		assert.False(t, decision.CanAccess)
	})
}

func TestPermissive_CheckAccess(t *testing.T) {
	requests := []*fhirrequest.Request{
		newRequest(t, http.MethodGet, "/Patient/"+patientNonAuthorized, nil),
		newRequest(t, http.MethodGet, "/Observation", nil),
		newRequest(t, http.MethodPost, "/Encounter", readTestData(t, "test_obs_unauthorized.json")),
		newRequest(t, http.MethodDelete, "/Observation/obs-1", nil),
	}
	for _, request := range requests {
		for _, claims := range []token.Claims{authorizedClaims, {}, nil} {
			decision, err := Permissive{}.CheckAccess(context.Background(), request, claims)

			require.NoError(t, err)
			assert.True(t, decision.CanAccess)
		}
	}
}
