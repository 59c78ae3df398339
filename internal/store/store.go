// Package store defines the contract between trip sessions and the shared
// real-time store that observers read from.
package store

import (
	"context"
	"errors"
	"time"

	"tripshare/internal/domain"
)

var (
	// ErrNotFound is returned when no record exists for a trip id.
	ErrNotFound = errors.New("trip not found")

	// ErrExists is returned by Create when the trip id is already taken.
	ErrExists = errors.New("trip already exists")

	// ErrUnavailable wraps transport failures talking to the store.
	ErrUnavailable = errors.New("trip store unavailable")
)

// Event is delivered to subscribers. Gone is set once the record is deleted
// (or when it does not exist at subscription time); Trip is nil in that case.
type Event struct {
	Trip *domain.Trip
	Gone bool
}

// Handler receives subscription events in write order.
type Handler func(Event)

// TripStore is the single-writer/many-reader record store.
type TripStore interface {
	// Create writes the initial record. Returns ErrExists if id is taken.
	Create(ctx context.Context, id domain.TripID, trip *domain.Trip) error

	// Get returns the current record or ErrNotFound.
	Get(ctx context.Context, id domain.TripID) (*domain.Trip, error)

	// Patch shallow-merges patch into the record, replacing the timestamp.
	// Returns ErrNotFound or domain.ErrInvalidTransition.
	Patch(ctx context.Context, id domain.TripID, patch domain.TripPatch) (*domain.Trip, error)

	// Remove deletes the record and notifies live subscribers with a Gone event.
	// Removing a missing record is not an error.
	Remove(ctx context.Context, id domain.TripID) error

	// Subscribe delivers the current record, every subsequent change and a final
	// Gone event. The returned func stops delivery.
	Subscribe(ctx context.Context, id domain.TripID, h Handler) (func(), error)
}

// DeletionQueue holds trip deletions scheduled for the future. Entries survive
// the session (and, for durable backends, the process) that scheduled them.
type DeletionQueue interface {
	// Schedule sets the deadline for id, replacing any earlier one.
	Schedule(ctx context.Context, id domain.TripID, at time.Time) error

	// Due returns up to limit ids whose deadline is at or before now.
	Due(ctx context.Context, now time.Time, limit int) ([]domain.TripID, error)

	// Ack removes id from the queue.
	Ack(ctx context.Context, id domain.TripID) error

	// Fail records a failed attempt and returns the attempt count so far.
	Fail(ctx context.Context, id domain.TripID) (int, error)
}

// Locker guards work on a trip across processes.
type Locker interface {
	AcquireTripLock(ctx context.Context, id domain.TripID, ttl time.Duration) (bool, error)
	ReleaseTripLock(ctx context.Context, id domain.TripID) error
}
