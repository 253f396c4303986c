package policy

import (
	"context"
	"fmt"

	"github.com/williamito/fhir-gateway/fhirrequest"
	"github.com/williamito/fhir-gateway/token"
)

//go:generate mockgen -destination=checker_mock.go -package=policy -source=checker.go

// AccessDecision is the outcome of an access check. Reason is for logging only and must not be returned to the caller.
type AccessDecision struct {
	CanAccess bool
	Reason    string
}

func allow(format string, args ...any) AccessDecision {
	return AccessDecision{CanAccess: true, Reason: fmt.Sprintf(format, args...)}
}

func deny(format string, args ...any) AccessDecision {
	return AccessDecision{CanAccess: false, Reason: fmt.Sprintf(format, args...)}
}

// AccessChecker decides whether the caller may perform the request.
// Implementations must not modify the request.
type AccessChecker interface {
	// CheckAccess evaluates the request against the validated token claims.
	// An error means the decision couldn't be made; callers must treat it as a denial.
	CheckAccess(ctx context.Context, request *fhirrequest.Request, claims token.Claims) (AccessDecision, error)
}
