package api

import (
	"context"
	"errors"
	"net/url"
	"strings"

	platformerrors "velofood-client-go/internal/platform/errors"
)

// ErrMaintenance reports that the backend answered 503 during discovery.
var ErrMaintenance = errors.New("server under maintenance")

// CheckServer probes a base URL and returns the scheme-qualified form that
// answered with a hypermedia entrypoint. Bare hostnames are tried over https
// first, then http.
func CheckServer(ctx context.Context, baseURL string, opts ...Option) (string, error) {
	candidates := discoveryCandidates(baseURL)

	var lastErr error
	for _, candidate := range candidates {
		client := NewClient(candidate, nil, opts...)
		doc, err := client.Get(ctx, "/api", Anonymous())
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == 503 {
				return "", ErrMaintenance
			}
			lastErr = err
			continue
		}
		if doc.String("@context") == "" || doc.String("@id") == "" || doc.String("@type") == "" {
			lastErr = platformerrors.New(platformerrors.KindServer, "api.discovery", "not a hypermedia entrypoint")
			continue
		}
		return candidate, nil
	}
	if lastErr == nil {
		lastErr = platformerrors.New(platformerrors.KindClient, "api.discovery", "no base URL candidates")
	}
	return "", lastErr
}

func discoveryCandidates(baseURL string) []string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil
	}
	if u, err := url.Parse(trimmed); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return []string{trimmed}
	}
	return []string{"https://" + trimmed, "http://" + trimmed}
}
