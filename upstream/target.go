package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"golang.org/x/oauth2"
)

// Target is an upstream FHIR store the proxy forwards to.
type Target interface {
	// ResourceURL resolves a resource path (e.g. Patient/123) against the store's base URL.
	ResourceURL(resourcePath string) (*url.URL, error)
	// AuthorizationHeader returns the Authorization header value the proxy uses to authenticate to the store,
	// or an empty string if the store requires none.
	AuthorizationHeader(ctx context.Context) (string, error)
}

var _ Target = FHIRServerTarget{}

// FHIRServerTarget is a FHIR server that accepts OAuth2 bearer tokens, e.g. acquired through SMART on FHIR backend services.
type FHIRServerTarget struct {
	BaseURL *url.URL
	// TokenSource supplies upstream access tokens. If nil, requests are sent without Authorization header.
	TokenSource oauth2.TokenSource
}

func (f FHIRServerTarget) ResourceURL(resourcePath string) (*url.URL, error) {
	return resourceURL(f.BaseURL, resourcePath)
}

func (f FHIRServerTarget) AuthorizationHeader(_ context.Context) (string, error) {
	if f.TokenSource == nil {
		return "", nil
	}
	return authorizationHeader(f.TokenSource)
}

var _ Target = &AzureTarget{}

// AzureTarget is an Azure Health Data Services FHIR service. It authenticates using an Azure credential,
// e.g. the Managed Identity of the environment.
type AzureTarget struct {
	BaseURL     *url.URL
	tokenSource oauth2.TokenSource
}

// NewAzureTarget creates an AzureTarget. The token scope is derived from the FHIR service's host.
func NewAzureTarget(baseURL *url.URL, credential azcore.TokenCredential) *AzureTarget {
	return &AzureTarget{
		BaseURL: baseURL,
		tokenSource: oauth2.ReuseTokenSource(nil, azureTokenSource{
			credential: credential,
			scopes:     []string{baseURL.Scheme + "://" + baseURL.Host + "/.default"},
			timeOut:    10 * time.Second,
		}),
	}
}

func (a *AzureTarget) ResourceURL(resourcePath string) (*url.URL, error) {
	result, err := resourceURL(a.BaseURL, resourcePath)
	if err != nil {
		return nil, err
	}
	// Azure FHIR service rejects resource paths with a trailing slash
	result.Path = strings.TrimSuffix(result.Path, "/")
	result.RawPath = ""
	return result, nil
}

func (a *AzureTarget) AuthorizationHeader(_ context.Context) (string, error) {
	return authorizationHeader(a.tokenSource)
}

var _ oauth2.TokenSource = &azureTokenSource{}

type azureTokenSource struct {
	credential azcore.TokenCredential
	scopes     []string
	timeOut    time.Duration
}

func (a azureTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeOut)
	defer cancel()
	accessToken, err := a.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: a.scopes})
	if err != nil {
		return nil, fmt.Errorf("unable to get OAuth2 access token using Azure credential: %w", err)
	}
	return &oauth2.Token{
		AccessToken: accessToken.Token,
		TokenType:   "Bearer",
		Expiry:      accessToken.ExpiresOn,
	}, nil
}

func authorizationHeader(tokenSource oauth2.TokenSource) (string, error) {
	token, err := tokenSource.Token()
	if err != nil {
		return "", err
	}
	return token.Type() + " " + token.AccessToken, nil
}

// resourceURL joins the resource path to the base URL. Paths that would escape the base URL are rejected.
func resourceURL(baseURL *url.URL, resourcePath string) (*url.URL, error) {
	if baseURL == nil {
		return nil, errors.New("upstream base URL is not configured")
	}
	resourcePath = strings.TrimPrefix(resourcePath, "/")
	for _, segment := range strings.Split(resourcePath, "/") {
		if segment == "." || segment == ".." {
			return nil, fmt.Errorf("invalid resource path: %s", resourcePath)
		}
	}
	result := baseURL.JoinPath(resourcePath)
	result.RawQuery = ""
	result.Fragment = ""
	return result, nil
}
