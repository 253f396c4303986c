package smart_on_fhir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// SMARTConfiguration is the subset of the SMART on FHIR configuration (.well-known/smart-configuration) the proxy uses.
type SMARTConfiguration struct {
	TokenEndpoint         string   `json:"token_endpoint"`
	AuthorizationEndpoint string   `json:"authorization_endpoint,omitempty"`
	Capabilities          []string `json:"capabilities,omitempty"`
}

// DiscoverConfiguration fetches the SMART on FHIR configuration of the FHIR server at fhirBaseURL.
func DiscoverConfiguration(ctx context.Context, fhirBaseURL *url.URL, httpClient *http.Client) (*SMARTConfiguration, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	discoveryURL := fhirBaseURL.JoinPath(".well-known", "smart-configuration")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch SMART configuration: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch SMART configuration: status code %d", resp.StatusCode)
	}
	var config SMARTConfiguration
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1024*1024)).Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse SMART configuration: %w", err)
	}
	if config.TokenEndpoint == "" {
		return nil, errors.New("SMART configuration does not contain a token_endpoint")
	}
	return &config, nil
}
