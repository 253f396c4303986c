package keys

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const AzureKeyVaultTimeout = 10 * time.Second

// SigningKeyFromAzureKeyVault reads a key from Azure Key Vault and returns it as SigningKey.
// The private key never leaves Key Vault: signing is done by Key Vault's sign operation.
// It must be an Elliptic Curve key.
func SigningKeyFromAzureKeyVault(ctx context.Context, keyVaultURL, keyName string, credential azcore.TokenCredential) (SigningKey, error) {
	if credential == nil {
		return nil, errors.New("no Azure credential configured")
	}
	return signingKeyFromAzureKeyVault(ctx, keyVaultURL, keyName, credential, nil)
}

func signingKeyFromAzureKeyVault(ctx context.Context, keyVaultURL, keyName string, credential azcore.TokenCredential, clientOptions *azkeys.ClientOptions) (SigningKey, error) {
	ctx, cancel := context.WithTimeout(ctx, AzureKeyVaultTimeout)
	defer cancel()
	client, err := azkeys.NewClient(keyVaultURL, credential, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to create Azure Key Vault client: %w", err)
	}
	keyResponse, err := client.GetKey(ctx, keyName, "", nil)
	if err != nil {
		return nil, fmt.Errorf("unable to get key from Azure KeyVault: %w", err)
	}
	key := keyResponse.Key
	if key == nil {
		return nil, errors.New("Azure KeyVault returned no key")
	}
	// Parse into jwk.Key
	jwkBytes, _ := json.Marshal(key)
	parsedKey, err := jwk.ParseKey(jwkBytes)
	if err != nil {
		return nil, fmt.Errorf("unable to parse key from Azure KeyVault: %w", err)
	}
	// Find out SigningAlgorithm
	if err := setKeyAlg(parsedKey, key); err != nil {
		return nil, fmt.Errorf("unable to set JWK alg: %w", err)
	}
	// Pre-parse the PublicKey
	publicKeyJWK, err := parsedKey.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("unable to parse public key from Azure KeyVault: %w", err)
	}
	var publicKey crypto.PublicKey
	if err = publicKeyJWK.Raw(&publicKey); err != nil {
		return nil, fmt.Errorf("unable to parse public key from Azure KeyVault: %w", err)
	}
	return &azureSigningKey{
		keyName:   keyName,
		key:       parsedKey,
		publicKey: publicKey,
		client:    client,
	}, nil
}

var _ SigningKey = &azureSigningKey{}

type azureSigningKey struct {
	keyName   string
	key       jwk.Key
	publicKey crypto.PublicKey
	client    *azkeys.Client
}

// Sign signs the digest using Key Vault. For EC keys, the signature is returned in JWS (r||s) form.
func (a azureSigningKey) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) (signature []byte, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), AzureKeyVaultTimeout)
	defer cancel()

	// Sanity check
	if opts != nil && opts.HashFunc() == 0 {
		return nil, errors.New("hashing should've been done")
	}

	response, err := a.client.Sign(ctx, a.keyName, "", azkeys.SignParameters{
		Algorithm: to.Ptr(azkeys.SignatureAlgorithm(a.SigningAlgorithm())),
		Value:     digest,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to sign with Azure KeyVault: %w", err)
	}
	return response.Result, nil
}

func (a azureSigningKey) Public() crypto.PublicKey {
	return a.publicKey
}

func (a azureSigningKey) SigningAlgorithm() string {
	return a.key.Algorithm().String()
}

func (a azureSigningKey) KeyID() string {
	return a.key.KeyID()
}

func setKeyAlg(parsedKey jwk.Key, key *azkeys.JSONWebKey) error {
	switch parsedKey.KeyType() {
	case jwa.EC:
		if key.Crv == nil {
			return errors.New("EC key without curve")
		}
		switch *key.Crv {
		case azkeys.CurveNameP256:
			return parsedKey.Set(jwk.AlgorithmKey, jwa.ES256)
		case azkeys.CurveNameP256K:
			return parsedKey.Set(jwk.AlgorithmKey, jwa.ES256K)
		case azkeys.CurveNameP384:
			return parsedKey.Set(jwk.AlgorithmKey, jwa.ES384)
		case azkeys.CurveNameP521:
			return parsedKey.Set(jwk.AlgorithmKey, jwa.ES512)
		default:
			return fmt.Errorf("unsupported curve: %s", *key.Crv)
		}
	default:
		return fmt.Errorf("unsupported key type: %s", parsedKey.KeyType())
	}
}
