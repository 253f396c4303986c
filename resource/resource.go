package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PatientType is the FHIR resource type of patients.
const PatientType = "Patient"

var ErrMissingResourceType = errors.New("resource has no resourceType")

// Resource is a parsed FHIR resource in its JSON tree form.
type Resource map[string]any

// Parse parses a FHIR resource from its JSON representation.
func Parse(data []byte) (Resource, error) {
	var result Resource
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("invalid FHIR resource: %w", err)
	}
	if result.Type() == "" {
		return nil, ErrMissingResourceType
	}
	return result, nil
}

// Type returns the resourceType of the resource.
func (r Resource) Type() string {
	resourceType, _ := r["resourceType"].(string)
	return resourceType
}

// ID returns the logical id of the resource, or an empty string if it has none.
func (r Resource) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Reference identifies a resource by type and logical id.
type Reference struct {
	ResourceType string
	ID           string
}

func (r Reference) String() string {
	return r.ResourceType + "/" + r.ID
}

// IsPatient reports whether the reference points to a Patient.
func (r Reference) IsPatient() bool {
	return r.ResourceType == PatientType
}

// ParseReference parses a relative literal reference (Type/id or Type/id/_history/version).
// Absolute URLs, contained (#) and URN references can't be resolved against the local store and are rejected.
func ParseReference(reference string) (Reference, error) {
	if strings.Contains(reference, "://") || strings.HasPrefix(reference, "#") || strings.HasPrefix(reference, "urn:") {
		return Reference{}, fmt.Errorf("not a relative reference: %s", reference)
	}
	resourceType, rest, ok := strings.Cut(reference, "/")
	if !ok || !isResourceType(resourceType) {
		return Reference{}, fmt.Errorf("invalid reference: %s", reference)
	}
	id, _, _ := strings.Cut(rest, "/")
	if id == "" {
		return Reference{}, fmt.Errorf("invalid reference (no id): %s", reference)
	}
	return Reference{ResourceType: resourceType, ID: id}, nil
}

func isResourceType(s string) bool {
	if s == "" || s[0] < 'A' || s[0] > 'Z' {
		return false
	}
	for _, c := range s {
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
