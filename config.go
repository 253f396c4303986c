package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/williamito/fhir-gateway/policy"
	"github.com/williamito/fhir-gateway/upstream"
)

const envPrefix = "FHIRPROXY_"

const (
	UpstreamAuthNone         = "none"
	UpstreamAuthSMARTBackend = "smartbackend"
	UpstreamAuthAzure        = "azure"
)

type Config struct {
	// ListenAddress holds the address to listen on.
	ListenAddress string `koanf:"listenaddress"`
	// BasePath is the path the FHIR API is served on, e.g. /fhir.
	BasePath string        `koanf:"basepath"`
	LogLevel zerolog.Level `koanf:"loglevel"`
	// AccessChecker selects the access policy. Empty means every authenticated caller can access all data.
	AccessChecker string         `koanf:"accesschecker"`
	Upstream      UpstreamConfig `koanf:"upstream"`
	Token         TokenConfig    `koanf:"token"`
	Policy        PolicyConfig   `koanf:"policy"`
}

// UpstreamConfig holds the configuration for the FHIR store requests are forwarded to.
type UpstreamConfig struct {
	URL string `koanf:"url"`
	// Auth is the way the proxy authenticates to the FHIR store: none, smartbackend or azure.
	Auth string `koanf:"auth"`
	// ClientID, JWKFile, KeyVault and Scope configure the SMART on FHIR backend services client.
	ClientID        string         `koanf:"clientid"`
	JWKFile         string         `koanf:"jwkfile"`
	KeyVault        KeyVaultConfig `koanf:"keyvault"`
	Scope           string         `koanf:"scope"`
	ResponseHeaders []string       `koanf:"responseheaders"`
}

type KeyVaultConfig struct {
	URL string `koanf:"url"`
	Key string `koanf:"key"`
}

// TokenConfig holds the configuration for validating the callers' bearer tokens.
type TokenConfig struct {
	Issuer string `koanf:"issuer"`
	// JWKSURL is optional, if not set it's discovered from the issuer's OpenID configuration.
	JWKSURL  string `koanf:"jwksurl"`
	Audience string `koanf:"audience"`
}

// PolicyConfig holds the token claims the patient-scoped access checker takes the authorized patients from.
type PolicyConfig struct {
	PatientClaim     string `koanf:"patientclaim"`
	PatientListClaim string `koanf:"patientlistclaim"`
}

func (c Config) Validate() error {
	if c.ListenAddress == "" {
		return errors.New("listen address is not configured")
	}
	if !strings.HasPrefix(c.BasePath, "/") {
		return errors.New("base path must start with /")
	}
	if !policy.Exists(c.AccessChecker) {
		return fmt.Errorf("unknown access checker: %q (supported: %v)", c.AccessChecker, policy.Names())
	}
	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("invalid upstream configuration: %w", err)
	}
	if err := c.Token.Validate(); err != nil {
		return fmt.Errorf("invalid token configuration: %w", err)
	}
	if c.AccessChecker == policy.PatientScopedName && c.Policy.PatientClaim == "" && c.Policy.PatientListClaim == "" {
		return errors.New("patient access checker requires a patient claim or patient list claim")
	}
	return nil
}

func (c UpstreamConfig) Validate() error {
	if c.URL == "" {
		return errors.New("URL is not configured")
	}
	if err := validateAbsoluteURL(c.URL); err != nil {
		return err
	}
	switch c.Auth {
	case "", UpstreamAuthNone, UpstreamAuthAzure:
	case UpstreamAuthSMARTBackend:
		if c.ClientID == "" {
			return errors.New("smartbackend: client ID is not configured")
		}
		if c.JWKFile == "" && (c.KeyVault.URL == "" || c.KeyVault.Key == "") {
			return errors.New("smartbackend: either a JWK file or an Azure Key Vault key must be configured")
		}
		if c.JWKFile != "" && c.KeyVault.URL != "" {
			return errors.New("smartbackend: configure either a JWK file or an Azure Key Vault key, not both")
		}
	default:
		return fmt.Errorf("unsupported auth: %q", c.Auth)
	}
	return nil
}

func (c TokenConfig) Validate() error {
	if c.Issuer == "" {
		return errors.New("issuer is not configured")
	}
	if err := validateAbsoluteURL(c.Issuer); err != nil {
		return fmt.Errorf("issuer: %w", err)
	}
	if c.JWKSURL != "" {
		if err := validateAbsoluteURL(c.JWKSURL); err != nil {
			return fmt.Errorf("JWKS URL: %w", err)
		}
	}
	return nil
}

func validateAbsoluteURL(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return fmt.Errorf("invalid URL (must be absolute): %s", value)
	}
	return nil
}

// LoadConfig loads the configuration from the environment.
func LoadConfig() (*Config, error) {
	result := DefaultConfig()
	err := loadConfigInto(&result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func loadConfigInto(target any) error {
	k := koanf.New(".")
	err := k.Load(env.ProviderWithValue(envPrefix, ".", func(key string, value string) (string, interface{}) {
		key = strings.Replace(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "_", ".", -1)
		if len(value) == 0 {
			return key, nil
		}
		sliceValues := splitWithEscaping(value, ",", "\\")
		for i, s := range sliceValues {
			sliceValues[i] = strings.TrimSpace(s)
		}
		var parsedValue any = sliceValues
		if len(sliceValues) == 1 {
			parsedValue = sliceValues[0]
		}
		return key, parsedValue
	}), nil)
	if err != nil {
		return err
	}
	return k.Unmarshal("", target)
}

func splitWithEscaping(s, separator, escape string) []string {
	s = strings.ReplaceAll(s, escape+separator, "\x00")
	tokens := strings.Split(s, separator)
	for i, token := range tokens {
		tokens[i] = strings.ReplaceAll(token, "\x00", separator)
	}
	return tokens
}

// DefaultConfig returns sensible, but not complete, default configuration values.
func DefaultConfig() Config {
	return Config{
		ListenAddress: ":8080",
		BasePath:      "/",
		LogLevel:      zerolog.InfoLevel,
		AccessChecker: policy.PermissiveName,
		Upstream: UpstreamConfig{
			Auth:            UpstreamAuthNone,
			ResponseHeaders: upstream.DefaultResponseHeaders,
		},
		Policy: PolicyConfig{
			PatientClaim:     "patient_id",
			PatientListClaim: "patient_list",
		},
	}
}
