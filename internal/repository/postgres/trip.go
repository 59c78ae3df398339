package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"tripshare/internal/domain"
	"tripshare/internal/repository"
)

// Querier is the subset of *sql.DB the archive uses.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TripArchiveRepository is a PostgreSQL implementation of repository.TripArchiveRepository.
type TripArchiveRepository struct {
	q Querier
}

// NewTripArchiveRepository creates a new PostgreSQL trip archive repository.
func NewTripArchiveRepository(db *sql.DB) *TripArchiveRepository {
	return &TripArchiveRepository{q: db}
}

// Archive upserts the final state of a trip.
func (r *TripArchiveRepository) Archive(ctx context.Context, trip *domain.Trip) error {
	query := `
		INSERT INTO trip_archive (trip_id, status, destination_lat, destination_lng, destination_addr,
			total_distance_m, last_lat, last_lng, progress_percent, last_update_at, archived_at, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), $11)
		ON CONFLICT (trip_id) DO UPDATE SET
			status = EXCLUDED.status,
			total_distance_m = EXCLUDED.total_distance_m,
			last_lat = EXCLUDED.last_lat,
			last_lng = EXCLUDED.last_lng,
			progress_percent = EXCLUDED.progress_percent,
			last_update_at = EXCLUDED.last_update_at,
			archived_at = now(),
			record = EXCLUDED.record
	`

	record, err := json.Marshal(trip)
	if err != nil {
		return err
	}

	var totalDistance, progressPercent, lastLat, lastLng sql.NullFloat64
	if trip.Route != nil {
		totalDistance = sql.NullFloat64{Float64: trip.Route.TotalDistance, Valid: true}
		if trip.Route.ProgressPercent != nil {
			progressPercent = sql.NullFloat64{Float64: *trip.Route.ProgressPercent, Valid: true}
		}
	}
	if trip.CurrentLocation != nil {
		lastLat = sql.NullFloat64{Float64: trip.CurrentLocation.Lat, Valid: true}
		lastLng = sql.NullFloat64{Float64: trip.CurrentLocation.Lng, Valid: true}
	}

	_, err = r.q.ExecContext(ctx, query,
		string(trip.TripID),
		string(trip.Status),
		trip.Destination.Lat,
		trip.Destination.Lng,
		trip.Destination.Address,
		totalDistance,
		lastLat,
		lastLng,
		progressPercent,
		trip.Timestamp,
		record,
	)

	return err
}

// GetByID retrieves an archived trip by ID.
func (r *TripArchiveRepository) GetByID(ctx context.Context, id domain.TripID) (*repository.ArchivedTrip, error) {
	query := `SELECT record, archived_at FROM trip_archive WHERE trip_id = $1`

	row, err := scanArchived(r.q.QueryRowContext(ctx, query, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return row, err
}

// ListArchivedSince returns trips archived at or after since, newest first.
func (r *TripArchiveRepository) ListArchivedSince(ctx context.Context, since time.Time, limit int) ([]*repository.ArchivedTrip, error) {
	query := `
		SELECT record, archived_at FROM trip_archive
		WHERE archived_at >= $1
		ORDER BY archived_at DESC
		LIMIT $2
	`

	rows, err := r.q.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*repository.ArchivedTrip
	for rows.Next() {
		a, err := scanArchived(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}

	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArchived(s scanner) (*repository.ArchivedTrip, error) {
	var record []byte
	var archivedAt time.Time
	if err := s.Scan(&record, &archivedAt); err != nil {
		return nil, err
	}

	var trip domain.Trip
	if err := json.Unmarshal(record, &trip); err != nil {
		return nil, err
	}
	return &repository.ArchivedTrip{Trip: &trip, ArchivedAt: archivedAt}, nil
}

// Ensure TripArchiveRepository implements the interface.
var _ repository.TripArchiveRepository = (*TripArchiveRepository)(nil)
