package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripshare/internal/domain"
	"tripshare/internal/repository"
	"tripshare/migrations"
)

// newTestDB connects to TEST_DATABASE_URL and applies migrations. The test is
// skipped when the variable is unset.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(context.Background()))

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	require.NoError(t, err)
	_, err = provider.Up(context.Background())
	require.NoError(t, err)

	return db
}

func TestTripArchiveRepository_ArchiveAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewTripArchiveRepository(db)
	ctx := context.Background()

	pct := 85.8
	trip := &domain.Trip{
		TripID:          domain.NewTripID(time.Now()),
		Status:          domain.TripStatusStopped,
		Timestamp:       time.Now().UTC().Truncate(time.Millisecond),
		Destination:     domain.Destination{Lat: 37, Lng: -122, Address: "X"},
		CurrentLocation: &domain.Location{Lat: 37.001, Lng: -122.001},
		Route:           &domain.RouteProgress{TotalDistance: 1000, RemainingDistance: 142.3, ProgressPercent: &pct},
	}
	t.Cleanup(func() { _, _ = db.Exec(`DELETE FROM trip_archive WHERE trip_id = $1`, string(trip.TripID)) })

	require.NoError(t, repo.Archive(ctx, trip))
	require.NoError(t, repo.Archive(ctx, trip), "archiving twice is an upsert")

	got, err := repo.GetByID(ctx, trip.TripID)
	require.NoError(t, err)
	assert.Equal(t, trip.TripID, got.Trip.TripID)
	assert.Equal(t, domain.TripStatusStopped, got.Trip.Status)
	assert.True(t, trip.Timestamp.Equal(got.Trip.Timestamp))

	list, err := repo.ListArchivedSince(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.NotEmpty(t, list)

	_, err = repo.GetByID(ctx, "trip_missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
