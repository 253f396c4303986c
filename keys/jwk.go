package keys

import (
	"crypto"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

var _ SigningKey = &JWKSigningKey{}

type JWKSigningKey struct {
	JWK jwk.Key
}

func (j JWKSigningKey) Public() crypto.PublicKey {
	publicJWK, err := j.JWK.PublicKey()
	if err != nil {
		return nil
	}
	var pubKey crypto.PublicKey
	if err := publicJWK.Raw(&pubKey); err != nil {
		return nil
	}
	return pubKey
}

func (j JWKSigningKey) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) (signature []byte, err error) {
	var signer crypto.Signer
	if err := j.JWK.Raw(&signer); err != nil {
		return nil, fmt.Errorf("unable to create signer from JWK: %w", err)
	}
	return signer.Sign(rand, digest, opts)
}

func (j JWKSigningKey) SigningAlgorithm() string {
	return j.JWK.Algorithm().String()
}

func (j JWKSigningKey) KeyID() string {
	return j.JWK.KeyID()
}

// SigningKeyFromJWKFile reads a JWK file and returns a SigningKey.
// The file either contains a single JWK, or a JWK set containing exactly one private key.
func SigningKeyFromJWKFile(jwkFile string) (SigningKey, error) {
	data, err := os.ReadFile(jwkFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read JWK file: %w", err)
	}
	jwkSet, err := jwk.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JWK file: %w", err)
	}
	var jwkKey jwk.Key
	for i := 0; i < jwkSet.Len(); i++ {
		key, _ := jwkSet.Key(i)
		if !isPrivateKey(key) {
			continue
		}
		if jwkKey != nil {
			return nil, errors.New("JWK file contains more than one private key")
		}
		jwkKey = key
	}
	if jwkKey == nil {
		return nil, errors.New("JWK file does not contain a private key")
	}
	if jwkKey.KeyID() == "" {
		return nil, errors.New("JWK file does not contain a key ID")
	}
	if jwkKey.Algorithm().String() == "" {
		return nil, errors.New("JWK file does not contain a signing algorithm")
	}

	return &JWKSigningKey{JWK: jwkKey}, nil
}

func isPrivateKey(key jwk.Key) bool {
	switch key.(type) {
	case jwk.ECDSAPrivateKey, jwk.RSAPrivateKey, jwk.OKPPrivateKey:
		return true
	default:
		return false
	}
}
