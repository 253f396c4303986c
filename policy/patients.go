package policy

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/samply/golang-fhir-models/fhir-models/fhir"
	"github.com/williamito/fhir-gateway/resource"
	"github.com/williamito/fhir-gateway/token"
)

//go:generate mockgen -destination=patients_mock.go -package=policy -source=patients.go PatientSetResolver

// ErrNoPatientContext is returned when the token doesn't name a patient or patient list.
var ErrNoPatientContext = errors.New("token carries no patient context")

// PatientSet is the set of patient ids a caller may act on.
type PatientSet map[string]struct{}

func NewPatientSet(ids ...string) PatientSet {
	result := make(PatientSet, len(ids))
	for _, id := range ids {
		result[id] = struct{}{}
	}
	return result
}

func (s PatientSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// PatientSetResolver resolves the patients the caller is authorized for from the token claims.
type PatientSetResolver interface {
	// Resolve returns the authorized patients. It returns ErrNoPatientContext if the claims don't name any.
	Resolve(ctx context.Context, claims token.Claims) (PatientSet, error)
}

var _ PatientSetResolver = ClaimResolver{}

// ClaimResolver authorizes the single patient named by a token claim.
type ClaimResolver struct {
	Claim string
}

func (c ClaimResolver) Resolve(_ context.Context, claims token.Claims) (PatientSet, error) {
	patientID, ok := claims.String(c.Claim)
	if !ok {
		return nil, ErrNoPatientContext
	}
	return NewPatientSet(patientID), nil
}

var _ PatientSetResolver = ListResolver{}

// ListResolver authorizes the patients in a FHIR List resource, whose id is given by a token claim.
// The List is read from the upstream FHIR store.
type ListResolver struct {
	Claim  string
	Client fhirclient.Client
}

func (l ListResolver) Resolve(ctx context.Context, claims token.Claims) (PatientSet, error) {
	listID, ok := claims.String(l.Claim)
	if !ok {
		return nil, ErrNoPatientContext
	}
	var list fhir.List
	if err := l.Client.ReadWithContext(ctx, "List/"+url.PathEscape(listID), &list); err != nil {
		return nil, fmt.Errorf("unable to read patient list %s: %w", listID, err)
	}
	result := NewPatientSet()
	for _, entry := range list.Entry {
		if entry.Deleted != nil && *entry.Deleted {
			continue
		}
		if entry.Item.Reference == nil {
			continue
		}
		reference, err := resource.ParseReference(*entry.Item.Reference)
		if err != nil || !reference.IsPatient() {
			continue
		}
		result[reference.ID] = struct{}{}
	}
	return result, nil
}

var _ PatientSetResolver = ContextResolver{}

// ContextResolver uses the patient list if the token names one, and the single patient claim otherwise.
type ContextResolver struct {
	Patient ClaimResolver
	List    ListResolver
}

func (c ContextResolver) Resolve(ctx context.Context, claims token.Claims) (PatientSet, error) {
	if _, ok := claims.String(c.List.Claim); ok && c.List.Client != nil {
		return c.List.Resolve(ctx, claims)
	}
	return c.Patient.Resolve(ctx, claims)
}

// requestPatients resolves the authorized patients at most once for a single request.
// It is not shared between requests, so a changed patient list takes effect on the next request.
type requestPatients struct {
	resolver PatientSetResolver
	claims   token.Claims
	resolved bool
	patients PatientSet
	err      error
}

func newRequestPatients(resolver PatientSetResolver, claims token.Claims) *requestPatients {
	return &requestPatients{resolver: resolver, claims: claims}
}

func (r *requestPatients) get(ctx context.Context) (PatientSet, error) {
	if !r.resolved {
		r.patients, r.err = r.resolver.Resolve(ctx, r.claims)
		r.resolved = true
	}
	return r.patients, r.err
}
