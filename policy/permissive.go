package policy

import (
	"context"

	"github.com/williamito/fhir-gateway/fhirrequest"
	"github.com/williamito/fhir-gateway/token"
)

var _ AccessChecker = Permissive{}

// Permissive allows every authenticated request. It disables all data-level protection.
type Permissive struct{}

func (Permissive) CheckAccess(_ context.Context, _ *fhirrequest.Request, _ token.Claims) (AccessDecision, error) {
	return allow("permissive access checker"), nil
}
