package storage

import "errors"

var (
	// ErrNotFound is returned when a key has no counter entry.
	ErrNotFound = errors.New("storage: counter not found")

	// ErrUnavailable wraps failures to reach the backing store.
	ErrUnavailable = errors.New("storage: backend unavailable")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("storage: store closed")
)
