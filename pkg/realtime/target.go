package realtime

import (
	"fmt"
	"net/url"
	"strings"
)

// UpgradePath is the well-known path of the real-time endpoint.
const UpgradePath = "/ws"

// DeriveTarget builds the WebSocket URL for an API served at apiBase when
// the dashboard itself was loaded from pageOrigin. The scheme follows the
// page (https pages use wss), the host follows the API. An empty pageOrigin
// falls back to the scheme of apiBase.
func DeriveTarget(pageOrigin, apiBase string) (string, error) {
	api, err := url.Parse(apiBase)
	if err != nil {
		return "", fmt.Errorf("invalid API base URL: %w", err)
	}
	if api.Host == "" {
		return "", fmt.Errorf("API base URL %q has no host", apiBase)
	}

	scheme := api.Scheme
	if pageOrigin != "" {
		origin, err := url.Parse(pageOrigin)
		if err != nil {
			return "", fmt.Errorf("invalid page origin: %w", err)
		}
		scheme = origin.Scheme
	}

	wsScheme := "ws"
	switch strings.ToLower(scheme) {
	case "https", "wss":
		wsScheme = "wss"
	}

	target := url.URL{Scheme: wsScheme, Host: api.Host, Path: UpgradePath}
	return target.String(), nil
}
