package reaper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripshare/internal/domain"
	"tripshare/internal/store"
	"tripshare/internal/store/memory"
)

type failingRemoveStore struct {
	*memory.Store
	removeErr error
}

func (s *failingRemoveStore) Remove(ctx context.Context, id domain.TripID) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	return s.Store.Remove(ctx, id)
}

type mockArchiver struct {
	mu       sync.Mutex
	archived []domain.TripID
	records  []*domain.Trip
	err      error
}

func (a *mockArchiver) Archive(ctx context.Context, trip *domain.Trip) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, trip.TripID)
	a.records = append(a.records, trip)
	return a.err
}

type mockLocker struct {
	held     sync.Map
	acquires int32
}

func (l *mockLocker) AcquireTripLock(ctx context.Context, id domain.TripID, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&l.acquires, 1)
	_, loaded := l.held.LoadOrStore(id, true)
	return !loaded, nil
}

func (l *mockLocker) ReleaseTripLock(ctx context.Context, id domain.TripID) error {
	l.held.Delete(id)
	return nil
}

func seed(t *testing.T, st store.TripStore, q store.DeletionQueue, at time.Time) domain.TripID {
	t.Helper()
	ctx := context.Background()
	id := domain.NewTripID(time.Now())
	require.NoError(t, st.Create(ctx, id, &domain.Trip{Status: domain.TripStatusStarted}))
	_, err := st.Patch(ctx, id, domain.StatusPatch(domain.TripStatusStopped))
	require.NoError(t, err)
	require.NoError(t, q.Schedule(ctx, id, at))
	return id
}

func TestReaper_RemovesDueTrips(t *testing.T) {
	t.Parallel()

	st := memory.NewStore()
	q := memory.NewDeletionQueue()
	arch := &mockArchiver{}
	locker := &mockLocker{}
	r := New(st, q, locker, arch, nil, DefaultConfig())
	ctx := context.Background()
	now := time.Now()

	due := seed(t, st, q, now.Add(-time.Minute))
	notYet := seed(t, st, q, now.Add(time.Hour))

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = st.Get(ctx, due)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Get(ctx, notYet)
	assert.NoError(t, err)

	_, queued := q.Deadline(due)
	assert.False(t, queued)
	assert.Equal(t, []domain.TripID{due}, arch.archived)
	assert.Equal(t, int32(1), atomic.LoadInt32(&locker.acquires))
}

func TestReaper_ArchiveOmitsUserInfo(t *testing.T) {
	t.Parallel()

	st := memory.NewStore()
	q := memory.NewDeletionQueue()
	arch := &mockArchiver{}
	r := New(st, q, nil, arch, nil, DefaultConfig())
	ctx := context.Background()

	id := domain.NewTripID(time.Now())
	require.NoError(t, st.Create(ctx, id, &domain.Trip{
		Status:      domain.TripStatusStarted,
		Destination: domain.Destination{Lat: 37, Lng: -122, Address: "X"},
		UserInfo:    &domain.UserInfo{Name: "Sam", Phone: "+15550100"},
	}))
	_, err := st.Patch(ctx, id, domain.StatusPatch(domain.TripStatusStopped))
	require.NoError(t, err)
	require.NoError(t, q.Schedule(ctx, id, time.Now().Add(-time.Second)))

	_, err = r.RunOnce(ctx)
	require.NoError(t, err)

	require.Len(t, arch.records, 1)
	assert.Nil(t, arch.records[0].UserInfo)
	assert.Equal(t, "X", arch.records[0].Destination.Address)
}

func TestReaper_SubscriberSeesGone(t *testing.T) {
	t.Parallel()

	st := memory.NewStore()
	q := memory.NewDeletionQueue()
	r := New(st, q, nil, nil, nil, DefaultConfig())
	ctx := context.Background()

	id := seed(t, st, q, time.Now().Add(-time.Second))

	gone := make(chan struct{})
	unsub, err := st.Subscribe(ctx, id, func(ev store.Event) {
		if ev.Gone {
			close(gone)
		}
	})
	require.NoError(t, err)
	defer unsub()

	_, err = r.RunOnce(ctx)
	require.NoError(t, err)

	select {
	case <-gone:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never saw gone")
	}
}

func TestReaper_AlreadyExpiredIsAcked(t *testing.T) {
	t.Parallel()

	st := memory.NewStore()
	q := memory.NewDeletionQueue()
	r := New(st, q, nil, nil, nil, DefaultConfig())
	ctx := context.Background()

	id := domain.NewTripID(time.Now())
	require.NoError(t, q.Schedule(ctx, id, time.Now().Add(-time.Second)))

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, queued := q.Deadline(id)
	assert.False(t, queued)
}

func TestReaper_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	st := &failingRemoveStore{Store: memory.NewStore(), removeErr: errors.New("redis down")}
	q := memory.NewDeletionQueue()
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	r := New(st, q, nil, nil, nil, cfg)
	ctx := context.Background()

	id := seed(t, st, q, time.Now().Add(-time.Second))

	for i := 1; i < cfg.MaxAttempts; i++ {
		_, err := r.RunOnce(ctx)
		require.NoError(t, err)
		_, queued := q.Deadline(id)
		require.True(t, queued, "still queued after attempt %d", i)
	}

	_, err := r.RunOnce(ctx)
	require.NoError(t, err)
	_, queued := q.Deadline(id)
	assert.False(t, queued, "dropped after max attempts")
}

func TestReaper_SkipsLockedTrips(t *testing.T) {
	t.Parallel()

	st := memory.NewStore()
	q := memory.NewDeletionQueue()
	locker := &mockLocker{}
	r := New(st, q, locker, nil, nil, DefaultConfig())
	ctx := context.Background()

	id := seed(t, st, q, time.Now().Add(-time.Second))
	_, _ = locker.AcquireTripLock(ctx, id, time.Minute)

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = st.Get(ctx, id)
	assert.NoError(t, err, "held lock means another replica owns the deletion")
	_, queued := q.Deadline(id)
	assert.True(t, queued)
}

func TestReaper_ArchiveFailureDoesNotBlockDeletion(t *testing.T) {
	t.Parallel()

	st := memory.NewStore()
	q := memory.NewDeletionQueue()
	r := New(st, q, nil, &mockArchiver{err: errors.New("pg down")}, nil, DefaultConfig())
	ctx := context.Background()

	id := seed(t, st, q, time.Now().Add(-time.Second))
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = st.Get(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReaper_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	st := memory.NewStore()
	q := memory.NewDeletionQueue()
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	r := New(st, q, nil, nil, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	id := seed(t, st, q, time.Now().Add(-time.Second))
	require.Eventually(t, func() bool {
		_, err := st.Get(context.Background(), id)
		return errors.Is(err, store.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	r.Wait()
}
