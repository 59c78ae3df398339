package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripshare/internal/domain"
	"tripshare/internal/store"
)

// recorder collects subscription events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []store.Event
}

func (r *recorder) handle(ev store.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []store.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]store.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) waitFor(t *testing.T, n int) []store.Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.snapshot()) >= n }, 2*time.Second, 5*time.Millisecond)
	return r.snapshot()
}

func newTrip(id domain.TripID) *domain.Trip {
	return &domain.Trip{
		TripID:      id,
		Status:      domain.TripStatusStarted,
		Destination: domain.Destination{Lat: 37, Lng: -122, Address: "X"},
	}
}

func TestStore_CreateTwiceFails(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "trip_a", newTrip("trip_a")))
	err := s.Create(ctx, "trip_a", newTrip("trip_a"))
	assert.True(t, errors.Is(err, store.ErrExists))
}

func TestStore_PatchMergesAndRejectsAfterStop(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "trip_a", newTrip("trip_a")))

	status := domain.TripStatusEnRoute
	got, err := s.Patch(ctx, "trip_a", domain.TripPatch{
		Status:          &status,
		CurrentLocation: &domain.Location{Lat: 37.001, Lng: -122.001},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TripStatusEnRoute, got.Status)
	assert.Equal(t, "X", got.Destination.Address)

	_, err = s.Patch(ctx, "trip_a", domain.StatusPatch(domain.TripStatusStopped))
	require.NoError(t, err)

	_, err = s.Patch(ctx, "trip_a", domain.StatusPatch(domain.TripStatusEnRoute))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = s.Patch(ctx, "trip_missing", domain.StatusPatch(domain.TripStatusStopped))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_SubscribersSeeSameOrder(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "trip_a", newTrip("trip_a")))

	var a, b recorder
	unsubA, err := s.Subscribe(ctx, "trip_a", a.handle)
	require.NoError(t, err)
	defer unsubA()
	unsubB, err := s.Subscribe(ctx, "trip_a", b.handle)
	require.NoError(t, err)
	defer unsubB()

	status := domain.TripStatusEnRoute
	for i := 0; i < 20; i++ {
		_, err := s.Patch(ctx, "trip_a", domain.TripPatch{
			Status:          &status,
			CurrentLocation: &domain.Location{Lat: float64(i), Lng: 0},
		})
		require.NoError(t, err)
	}

	evA := a.waitFor(t, 21)
	evB := b.waitFor(t, 21)

	assert.Equal(t, domain.TripStatusStarted, evA[0].Trip.Status, "initial state first")
	for i := 1; i <= 20; i++ {
		assert.Equal(t, float64(i-1), evA[i].Trip.CurrentLocation.Lat)
		assert.Equal(t, evA[i].Trip.CurrentLocation.Lat, evB[i].Trip.CurrentLocation.Lat)
	}
}

func TestStore_RemoveNotifiesGone(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "trip_a", newTrip("trip_a")))

	var r recorder
	_, err := s.Subscribe(ctx, "trip_a", r.handle)
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, "trip_a"))
	require.NoError(t, s.Remove(ctx, "trip_a"), "remove is idempotent")

	events := r.waitFor(t, 2)
	assert.True(t, events[len(events)-1].Gone)
	assert.Equal(t, 0, s.SubscriberCount("trip_a"))

	_, err = s.Get(ctx, "trip_a")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_SubscribeToMissingTripIsGone(t *testing.T) {
	t.Parallel()

	s := NewStore()
	var r recorder
	_, err := s.Subscribe(context.Background(), "trip_none", r.handle)
	require.NoError(t, err)

	events := r.waitFor(t, 1)
	assert.True(t, events[0].Gone)
}

func TestDeletionQueue_DueAckFail(t *testing.T) {
	t.Parallel()

	q := NewDeletionQueue()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Schedule(ctx, "trip_late", now.Add(time.Hour)))
	require.NoError(t, q.Schedule(ctx, "trip_b", now.Add(-time.Minute)))
	require.NoError(t, q.Schedule(ctx, "trip_a", now.Add(-2*time.Minute)))

	due, err := q.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []domain.TripID{"trip_a", "trip_b"}, due)

	n, err := q.Fail(ctx, "trip_a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, q.Ack(ctx, "trip_a"))
	due, _ = q.Due(ctx, now, 10)
	assert.Equal(t, []domain.TripID{"trip_b"}, due)

	require.NoError(t, q.Schedule(ctx, "trip_late", now.Add(-time.Second)))
	due, _ = q.Due(ctx, now, 1)
	assert.Len(t, due, 1)
}
