package repository

import (
	"context"
	"time"

	"tripshare/internal/domain"
)

// ArchivedTrip is the last state of a trip kept after its live record is deleted.
type ArchivedTrip struct {
	Trip       *domain.Trip
	ArchivedAt time.Time
}

// TripArchiveRepository defines the persistence operations for archived trips.
type TripArchiveRepository interface {
	// Archive stores the final state of a trip. Archiving the same trip twice
	// overwrites the earlier copy.
	Archive(ctx context.Context, trip *domain.Trip) error

	// GetByID retrieves an archived trip by ID.
	GetByID(ctx context.Context, id domain.TripID) (*ArchivedTrip, error)

	// ListArchivedSince returns trips archived at or after since, newest first.
	ListArchivedSince(ctx context.Context, since time.Time, limit int) ([]*ArchivedTrip, error)
}
