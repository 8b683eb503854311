package ratelimit

import (
	"errors"
	"fmt"

	"ratelimiter/internal/storage"
)

var (
	// ErrInvalidConfig is the root of every construction-time configuration error.
	ErrInvalidConfig = errors.New("ratelimit: invalid configuration")

	// ErrMalformedRequest is returned by a KeyExtractor that cannot derive a
	// key. The limiter recovers by charging the request to UnknownKey.
	ErrMalformedRequest = errors.New("ratelimit: malformed request descriptor")

	// ErrStoreUnavailable is the store failure that the FailurePolicy resolves.
	ErrStoreUnavailable = storage.ErrUnavailable
)

// ConfigError reports which field of a Config was rejected.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidConfig, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}
