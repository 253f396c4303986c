package policy

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
)

const (
	// PermissiveName selects Permissive. It is the value used when no access checker is configured.
	PermissiveName = ""
	// PatientScopedName selects PatientScoped.
	PatientScopedName = "patient"
)

// Options holds the dependencies an access checker may need.
type Options struct {
	Resolver PatientSetResolver
}

// Factory creates an AccessChecker.
type Factory func(options Options) (AccessChecker, error)

var factories = map[string]Factory{
	PermissiveName: func(_ Options) (AccessChecker, error) {
		log.Warn().Msg("No access checker configured; every authenticated caller can access all FHIR data!")
		return Permissive{}, nil
	},
	PatientScopedName: func(options Options) (AccessChecker, error) {
		if options.Resolver == nil {
			return nil, fmt.Errorf("access checker %q requires a patient set resolver", PatientScopedName)
		}
		return NewPatientScoped(options.Resolver), nil
	},
}

// New creates the access checker registered under the given name.
func New(name string, options Options) (AccessChecker, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown access checker: %q (supported: %v)", name, Names())
	}
	return factory(options)
}

// Names returns the names of the registered access checkers.
func Names() []string {
	var result []string
	for name := range factories {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Exists reports whether an access checker is registered under the given name.
func Exists(name string) bool {
	_, ok := factories[name]
	return ok
}
