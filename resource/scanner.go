package resource

import "strings"

// FieldExtractor returns the literal reference strings found in a resource.
type FieldExtractor func(resource Resource) []string

// Path returns a FieldExtractor that follows a dot-separated element path (e.g. performer.actor)
// and collects Reference.reference at its end. Array-valued elements are followed at any depth.
func Path(path string) FieldExtractor {
	segments := strings.Split(path, ".")
	return func(resource Resource) []string {
		return collectReferences(map[string]any(resource), segments)
	}
}

func collectReferences(node any, segments []string) []string {
	switch value := node.(type) {
	case []any:
		var result []string
		for _, item := range value {
			result = append(result, collectReferences(item, segments)...)
		}
		return result
	case map[string]any:
		if len(segments) == 0 {
			if reference, ok := value["reference"].(string); ok {
				return []string{reference}
			}
			return nil
		}
		return collectReferences(value[segments[0]], segments[1:])
	default:
		return nil
	}
}

// DefaultFields lists the reference-bearing elements per supported resource type.
var DefaultFields = map[string][]FieldExtractor{
	"Observation":       {Path("subject"), Path("performer")},
	"Condition":         {Path("subject"), Path("asserter"), Path("recorder")},
	"DiagnosticReport":  {Path("subject"), Path("performer")},
	"Procedure":         {Path("subject"), Path("performer.actor"), Path("recorder"), Path("asserter")},
	"MedicationRequest": {Path("subject"), Path("requester"), Path("performer")},
	"Immunization":      {Path("patient"), Path("performer.actor")},
	"CarePlan":          {Path("subject")},
}

// Scanner finds references in resources, using a fixed table of extractors per resource type.
// It is safe for concurrent use.
type Scanner struct {
	fields map[string][]FieldExtractor
}

// NewScanner creates a Scanner for the given table. The table is copied.
func NewScanner(fields map[string][]FieldExtractor) *Scanner {
	result := &Scanner{fields: make(map[string][]FieldExtractor, len(fields))}
	for resourceType, extractors := range fields {
		result.fields[resourceType] = append([]FieldExtractor(nil), extractors...)
	}
	return result
}

// DefaultScanner returns a Scanner for DefaultFields.
func DefaultScanner() *Scanner {
	return NewScanner(DefaultFields)
}

// Supports reports whether the scanner knows the reference-bearing elements of the resource type.
func (s *Scanner) Supports(resourceType string) bool {
	_, ok := s.fields[resourceType]
	return ok
}

// References returns the references in the resource in document order, deduplicated.
// Malformed references are skipped.
func (s *Scanner) References(resource Resource) []Reference {
	var result []Reference
	seen := make(map[Reference]bool)
	for _, extract := range s.fields[resource.Type()] {
		for _, literal := range extract(resource) {
			reference, err := ParseReference(literal)
			if err != nil {
				continue
			}
			if !seen[reference] {
				seen[reference] = true
				result = append(result, reference)
			}
		}
	}
	return result
}

// PatientReferences returns the Patient references in the resource.
func (s *Scanner) PatientReferences(resource Resource) []Reference {
	var result []Reference
	for _, reference := range s.References(resource) {
		if reference.IsPatient() {
			result = append(result, reference)
		}
	}
	return result
}
