package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"ratelimiter/internal/models"
)

// UnknownKey is the bucket used for every request whose key cannot be
// derived. All such requests share one budget.
const UnknownKey = "unknown"

// RequestDescriptor carries the parts of a request that key extraction needs.
type RequestDescriptor struct {
	ClientAddress string
	Path          string
	Headers       http.Header
}

// KeyExtractor maps a request to its bucket key. It must be deterministic and
// free of side effects. Returning an error (normally ErrMalformedRequest) or
// an empty key sends the request to UnknownKey.
type KeyExtractor func(RequestDescriptor) (string, error)

// KeyByClientPath buckets by client address and route path: "{client}:{path}".
func KeyByClientPath(d RequestDescriptor) (string, error) {
	if d.ClientAddress == "" {
		return "", fmt.Errorf("%w: missing client address", ErrMalformedRequest)
	}
	return d.ClientAddress + ":" + normalizePath(d.Path), nil
}

// KeyByClient buckets by client address across all routes.
func KeyByClient(d RequestDescriptor) (string, error) {
	if d.ClientAddress == "" {
		return "", fmt.Errorf("%w: missing client address", ErrMalformedRequest)
	}
	return d.ClientAddress, nil
}

// KeyByPath buckets by route path, shared by every client.
func KeyByPath(d RequestDescriptor) (string, error) {
	return normalizePath(d.Path), nil
}

// KeyExtractorFor resolves a configured key strategy name.
func KeyExtractorFor(strategy string) (KeyExtractor, error) {
	switch strategy {
	case "", models.KeyStrategyClientPath:
		return KeyByClientPath, nil
	case models.KeyStrategyClient:
		return KeyByClient, nil
	case models.KeyStrategyPath:
		return KeyByPath, nil
	default:
		return nil, &ConfigError{Field: "key_strategy", Reason: fmt.Sprintf("unknown strategy %q", strategy)}
	}
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

// FromHTTPRequest builds a descriptor from an incoming request. Forwarding
// headers are only honoured when trustProxy is set; otherwise a client could
// pick its own bucket.
func FromHTTPRequest(r *http.Request, trustProxy bool) RequestDescriptor {
	return RequestDescriptor{
		ClientAddress: clientAddress(r, trustProxy),
		Path:          r.URL.Path,
		Headers:       r.Header,
	}
}

func clientAddress(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ips := strings.Split(xff, ",")
			if ip := strings.TrimSpace(ips[0]); ip != "" {
				return ip
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
