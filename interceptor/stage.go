package interceptor

// Stage is the state of a request in the authorization pipeline.
// Every request starts Unauthenticated and ends either Allowed or Denied.
type Stage int

const (
	Unauthenticated Stage = iota
	Authenticating
	Authenticated
	Evaluating
	Allowed
	Denied
)

func (s Stage) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Evaluating:
		return "evaluating"
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}
