package token

import "errors"

// ErrKeysUnavailable is returned when the issuer's signing keys can't be retrieved.
// It is an issuer outage rather than a problem with the caller's token.
var ErrKeysUnavailable = errors.New("issuer signing keys are unavailable")

// AuthenticationError is returned when the caller's bearer token is missing or can't be validated.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return "authentication failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}
