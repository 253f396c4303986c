package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/williamito/fhir-gateway/interceptor"
	"github.com/williamito/fhir-gateway/keys"
	"github.com/williamito/fhir-gateway/policy"
	"github.com/williamito/fhir-gateway/smart_on_fhir"
	"github.com/williamito/fhir-gateway/token"
	"github.com/williamito/fhir-gateway/upstream"
	"golang.org/x/oauth2"
)

func main() {
	config, err := LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := config.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	zerolog.SetGlobalLevel(config.LogLevel)
	zerolog.DefaultContextLogger = &log.Logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().Msgf("Listening on: %s", config.ListenAddress)
	log.Info().Msgf("Proxying to: %s (auth: %s)", config.Upstream.URL, config.Upstream.Auth)
	log.Info().Msgf("Trusted token issuer: %s", config.Token.Issuer)

	handler, err := create(ctx, *config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start")
	}
	server := &http.Server{
		Addr:              config.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shut down HTTP server")
		}
	}()
	err = server.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("HTTP server failed")
	}
	log.Info().Msg("Shutdown complete")
}

// create builds the request pipeline. It contacts the token issuer and, depending on the upstream auth,
// the upstream FHIR store, so misconfiguration surfaces at startup.
func create(ctx context.Context, config Config) (*interceptor.Interceptor, error) {
	upstreamURL, err := url.Parse(config.Upstream.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	target, err := createTarget(ctx, config.Upstream, upstreamURL)
	if err != nil {
		return nil, err
	}

	var validatorOptions []token.Option
	if config.Token.JWKSURL != "" {
		validatorOptions = append(validatorOptions, token.WithJWKSURL(config.Token.JWKSURL))
	}
	if config.Token.Audience != "" {
		validatorOptions = append(validatorOptions, token.WithAudience(config.Token.Audience))
	}
	validator, err := token.NewJWTValidator(ctx, config.Token.Issuer, validatorOptions...)
	if err != nil {
		return nil, fmt.Errorf("unable to create token validator: %w", err)
	}

	// Patient lists are read from the upstream FHIR store, using the proxy's own credentials
	fhirClient := fhirclient.New(upstreamURL, upstream.NewHTTPClient(target, nil), nil)
	checker, err := policy.New(config.AccessChecker, policy.Options{
		Resolver: policy.ContextResolver{
			Patient: policy.ClaimResolver{Claim: config.Policy.PatientClaim},
			List:    policy.ListResolver{Claim: config.Policy.PatientListClaim, Client: fhirClient},
		},
	})
	if err != nil {
		return nil, err
	}
	forwarder := upstream.NewForwarder(target, nil, config.Upstream.ResponseHeaders)
	return interceptor.New(config.BasePath, validator, checker, forwarder), nil
}

func createTarget(ctx context.Context, config UpstreamConfig, upstreamURL *url.URL) (upstream.Target, error) {
	switch config.Auth {
	case UpstreamAuthNone, "":
		return upstream.FHIRServerTarget{BaseURL: upstreamURL}, nil
	case UpstreamAuthAzure:
		credential, err := azureCredential()
		if err != nil {
			return nil, err
		}
		return upstream.NewAzureTarget(upstreamURL, credential), nil
	case UpstreamAuthSMARTBackend:
		signingKey, err := loadSigningKey(ctx, config)
		if err != nil {
			return nil, err
		}
		// Discover SMART on FHIR configuration
		smartConfig, err := smart_on_fhir.DiscoverConfiguration(ctx, upstreamURL, nil)
		if err != nil {
			return nil, err
		}
		log.Info().Msgf("Upstream OAuth2 token endpoint: %s (client ID: %s)", smartConfig.TokenEndpoint, config.ClientID)
		return upstream.FHIRServerTarget{
			BaseURL: upstreamURL,
			TokenSource: oauth2.ReuseTokenSource(nil, smart_on_fhir.BackendTokenSource{
				OAuth2ASTokenEndpoint: smartConfig.TokenEndpoint,
				ClientID:              config.ClientID,
				SigningKey:            signingKey,
				Scope:                 config.Scope,
			}),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported upstream auth: %q", config.Auth)
	}
}

// loadSigningKey loads the key for signing OAuth2 client assertions.
func loadSigningKey(ctx context.Context, config UpstreamConfig) (keys.SigningKey, error) {
	if config.JWKFile != "" {
		return keys.SigningKeyFromJWKFile(config.JWKFile)
	}
	credential, err := azureCredential()
	if err != nil {
		return nil, err
	}
	return keys.SigningKeyFromAzureKeyVault(ctx, config.KeyVault.URL, config.KeyVault.Key, credential)
}

func azureCredential() (azcore.TokenCredential, error) {
	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("unable to acquire Azure credential: %w", err)
	}
	return credential, nil
}
