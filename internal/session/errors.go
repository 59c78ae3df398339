package session

import "errors"

var (
	// ErrNoActiveLocation is returned by Start when no position fix is available.
	// It wraps the sampler error (permission denied or unavailable).
	ErrNoActiveLocation = errors.New("no active location")

	// ErrStoreUnavailable is returned by Start when the initial record cannot be written.
	ErrStoreUnavailable = errors.New("trip store unavailable")

	// ErrInvalidDestination is returned for out-of-range destination coordinates.
	ErrInvalidDestination = errors.New("invalid destination")

	// ErrNotFound is returned by the registry for unknown session ids.
	ErrNotFound = errors.New("session not found")

	// ErrClosed is returned when using a closed session.
	ErrClosed = errors.New("session closed")
)
