// Command jwkgen generates the key pair the proxy uses to sign SMART on FHIR client assertions.
// The private JWK is written to the given file, the public JWKS (to register at the authorization server) to stdout.
package main

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

func main() {
	alg := flag.String("alg", "ES384", "signing algorithm: ES256, ES384, ES512 or RS384")
	out := flag.String("out", "private.jwk", "file to write the private JWK to")
	flag.Parse()

	privateKey, publicSet, err := generate(jwa.SignatureAlgorithm(*alg))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	privateData, _ := json.MarshalIndent(privateKey, "", "  ")
	if err := os.WriteFile(*out, privateData, 0600); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	publicData, _ := json.MarshalIndent(publicSet, "", "  ")
	fmt.Println(string(publicData))
}

func generate(alg jwa.SignatureAlgorithm) (jwk.Key, jwk.Set, error) {
	var raw crypto.Signer
	var err error
	switch alg {
	case jwa.ES256:
		raw, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case jwa.ES384:
		raw, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case jwa.ES512:
		raw, err = ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case jwa.RS384:
		raw, err = rsa.GenerateKey(rand.Reader, 3072)
	default:
		return nil, nil, fmt.Errorf("unsupported algorithm: %s", alg)
	}
	if err != nil {
		return nil, nil, err
	}
	privateKey, err := jwk.FromRaw(raw)
	if err != nil {
		return nil, nil, err
	}
	for name, value := range map[string]any{
		jwk.KeyIDKey:     uuid.NewString(),
		jwk.AlgorithmKey: alg,
		jwk.KeyUsageKey:  jwk.ForSignature,
	} {
		if err := privateKey.Set(name, value); err != nil {
			return nil, nil, err
		}
	}
	publicKey, err := privateKey.PublicKey()
	if err != nil {
		return nil, nil, err
	}
	publicSet := jwk.NewSet()
	if err := publicSet.AddKey(publicKey); err != nil {
		return nil, nil, err
	}
	return privateKey, publicSet, nil
}
