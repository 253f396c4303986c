package token

import "github.com/lestrrat-go/jwx/v2/jwt"

// Claims holds the claims of a validated bearer token.
type Claims map[string]any

// Issuer returns the iss claim.
func (c Claims) Issuer() string {
	value, _ := c.String(jwt.IssuerKey)
	return value
}

// Subject returns the sub claim.
func (c Claims) Subject() string {
	value, _ := c.String(jwt.SubjectKey)
	return value
}

// String returns the named claim if it is a non-empty string.
func (c Claims) String(name string) (string, bool) {
	value, ok := c[name].(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}
