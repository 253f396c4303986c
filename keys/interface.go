package keys

import "crypto"

// SigningKey is a private key used to sign OAuth2 client assertions for the upstream FHIR store.
// Sign expects a digest hashed according to SigningAlgorithm.
type SigningKey interface {
	crypto.Signer
	// SigningAlgorithm returns the JWS algorithm, e.g. ES256.
	SigningAlgorithm() string
	KeyID() string
}
