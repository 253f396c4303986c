package policy

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/williamito/fhir-gateway/fhirrequest"
	"github.com/williamito/fhir-gateway/resource"
	"github.com/williamito/fhir-gateway/token"
)

// DefaultSearchParameters lists, per supported resource type, the search parameters that link a search to a patient.
var DefaultSearchParameters = map[string][]string{
	"Observation":       {"subject", "patient"},
	"Condition":         {"subject", "patient"},
	"DiagnosticReport":  {"subject", "patient"},
	"Procedure":         {"subject", "patient"},
	"MedicationRequest": {"subject", "patient"},
	"Immunization":      {"patient"},
	"CarePlan":          {"subject", "patient"},
}

var _ AccessChecker = &PatientScoped{}

// PatientScoped allows a request only if every patient it touches is in the caller's authorized patient set.
// Resource types without a rule are denied.
type PatientScoped struct {
	resolver         PatientSetResolver
	scanner          *resource.Scanner
	searchParameters map[string][]string
}

// NewPatientScoped creates a PatientScoped checker with the default rules.
func NewPatientScoped(resolver PatientSetResolver) *PatientScoped {
	return &PatientScoped{
		resolver:         resolver,
		scanner:          resource.DefaultScanner(),
		searchParameters: DefaultSearchParameters,
	}
}

func (p *PatientScoped) CheckAccess(ctx context.Context, request *fhirrequest.Request, claims token.Claims) (AccessDecision, error) {
	patients := newRequestPatients(p.resolver, claims)
	if request.ResourceType == resource.PatientType {
		return p.checkPatient(ctx, request, patients)
	}
	searchParameters, ok := p.searchParameters[request.ResourceType]
	if !ok || !p.scanner.Supports(request.ResourceType) {
		return deny("no access rule for resource type %s", request.ResourceType), nil
	}
	if request.IsWrite() {
		if !request.HasBody() {
			return deny("%s %s without a body", request.Method, request.ResourceType), nil
		}
		return p.checkBody(ctx, request, patients)
	}
	// Reads and deletes by id can't be scoped without fetching the resource
	if !request.IsSearch() {
		return deny("%s %s is not a search", request.Method, request.Path), nil
	}
	return p.checkSearch(ctx, request, searchParameters, patients)
}

func (p *PatientScoped) checkPatient(ctx context.Context, request *fhirrequest.Request, patients *requestPatients) (AccessDecision, error) {
	if request.ResourceID == "" {
		return deny("no Patient id in request path %s", request.Path), nil
	}
	if request.IsWrite() && request.HasBody() {
		body, err := resource.Parse(request.Body)
		if err != nil {
			return deny("request body is not a FHIR resource: %v", err), nil
		}
		if body.Type() != resource.PatientType || (body.ID() != "" && body.ID() != request.ResourceID) {
			return deny("request body %s/%s does not match request path %s", body.Type(), body.ID(), request.Path), nil
		}
	}
	return p.checkPatientIDs(ctx, patients, []string{request.ResourceID})
}

func (p *PatientScoped) checkBody(ctx context.Context, request *fhirrequest.Request, patients *requestPatients) (AccessDecision, error) {
	body, err := resource.Parse(request.Body)
	if err != nil {
		return deny("request body is not a FHIR resource: %v", err), nil
	}
	if body.Type() != request.ResourceType {
		return deny("request body resource type %s does not match request path %s", body.Type(), request.Path), nil
	}
	references := p.scanner.PatientReferences(body)
	if len(references) == 0 {
		return deny("%s does not reference a Patient", body.Type()), nil
	}
	ids := make([]string, len(references))
	for i, reference := range references {
		ids[i] = reference.ID
	}
	return p.checkPatientIDs(ctx, patients, ids)
}

func (p *PatientScoped) checkSearch(ctx context.Context, request *fhirrequest.Request, parameterNames []string, patients *requestPatients) (AccessDecision, error) {
	searchParameters, err := request.SearchParameters()
	if err != nil {
		return deny("%v", err), nil
	}
	var ids []string
	for key, values := range searchParameters {
		name, modifier, _ := strings.Cut(key, ":")
		if !slices.Contains(parameterNames, name) {
			continue
		}
		if modifier != "" && modifier != resource.PatientType {
			return deny("search parameter %s is not limited to patients", key), nil
		}
		for _, value := range values {
			for _, item := range strings.Split(value, ",") {
				id, ok := searchValueToPatientID(item)
				if !ok {
					return deny("search parameter %s=%s does not name a patient", key, item), nil
				}
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return deny("%s search is not limited to a patient (expected one of %v)", request.ResourceType, parameterNames), nil
	}
	return p.checkPatientIDs(ctx, patients, ids)
}

// checkPatientIDs allows access only if every id is authorized.
func (p *PatientScoped) checkPatientIDs(ctx context.Context, patients *requestPatients, ids []string) (AccessDecision, error) {
	authorized, err := patients.get(ctx)
	if errors.Is(err, ErrNoPatientContext) {
		return deny("%v", err), nil
	}
	if err != nil {
		return AccessDecision{}, err
	}
	for _, id := range ids {
		if !authorized.Contains(id) {
			return deny("patient %s is not authorized", id), nil
		}
	}
	return allow("all referenced patients are authorized"), nil
}

// searchValueToPatientID accepts Patient/<id> or a bare <id>.
func searchValueToPatientID(value string) (string, bool) {
	if value == "" {
		return "", false
	}
	if !strings.Contains(value, "/") {
		return value, true
	}
	reference, err := resource.ParseReference(value)
	if err != nil || !reference.IsPatient() {
		return "", false
	}
	return reference.ID, true
}
