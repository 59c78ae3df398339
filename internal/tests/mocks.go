package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"tripshare/internal/app"
	"tripshare/internal/directions"
	"tripshare/internal/domain"
	"tripshare/internal/handler"
	"tripshare/internal/link"
	"tripshare/internal/metrics"
	"tripshare/internal/reaper"
	"tripshare/internal/repository"
	"tripshare/internal/sampler"
	"tripshare/internal/service"
	"tripshare/internal/session"
	"tripshare/internal/store/memory"
	"tripshare/internal/viewer"
)

// ──────────────────────────────────────────────
// MOCK TRIP STORE
// ──────────────────────────────────────────────

// MockTripStore wraps the in-memory store with call counters and error injection.
type MockTripStore struct {
	*memory.Store

	// Counters for verification
	CreateCallCount int32
	PatchCallCount  int32
	RemoveCallCount int32

	mu          sync.RWMutex
	createError error
	patchError  error
}

// NewMockTripStore creates a new mock trip store.
func NewMockTripStore() *MockTripStore {
	return &MockTripStore{Store: memory.NewStore()}
}

// SetCreateError makes every Create fail with err until cleared with nil.
func (m *MockTripStore) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createError = err
}

// SetPatchError makes every Patch fail with err until cleared with nil.
func (m *MockTripStore) SetPatchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patchError = err
}

func (m *MockTripStore) Create(ctx context.Context, id domain.TripID, trip *domain.Trip) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	m.mu.RLock()
	err := m.createError
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	return m.Store.Create(ctx, id, trip)
}

func (m *MockTripStore) Patch(ctx context.Context, id domain.TripID, patch domain.TripPatch) (*domain.Trip, error) {
	atomic.AddInt32(&m.PatchCallCount, 1)
	m.mu.RLock()
	err := m.patchError
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return m.Store.Patch(ctx, id, patch)
}

func (m *MockTripStore) Remove(ctx context.Context, id domain.TripID) error {
	atomic.AddInt32(&m.RemoveCallCount, 1)
	return m.Store.Remove(ctx, id)
}

// ──────────────────────────────────────────────
// MOCK ARCHIVE REPOSITORY
// ──────────────────────────────────────────────

// MockArchiveRepository is a mock implementation of TripArchiveRepository.
type MockArchiveRepository struct {
	mu    sync.RWMutex
	trips map[domain.TripID]*repository.ArchivedTrip

	// Counters for verification
	ArchiveCallCount int32

	// Error injection
	ArchiveError error
}

// NewMockArchiveRepository creates a new mock archive repository.
func NewMockArchiveRepository() *MockArchiveRepository {
	return &MockArchiveRepository{trips: make(map[domain.TripID]*repository.ArchivedTrip)}
}

func (m *MockArchiveRepository) Archive(ctx context.Context, trip *domain.Trip) error {
	atomic.AddInt32(&m.ArchiveCallCount, 1)
	if m.ArchiveError != nil {
		return m.ArchiveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[trip.TripID] = &repository.ArchivedTrip{Trip: trip.Clone(), ArchivedAt: time.Now()}
	return nil
}

func (m *MockArchiveRepository) GetByID(ctx context.Context, id domain.TripID) (*repository.ArchivedTrip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.trips[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &repository.ArchivedTrip{Trip: a.Trip.Clone(), ArchivedAt: a.ArchivedAt}, nil
}

func (m *MockArchiveRepository) ListArchivedSince(ctx context.Context, since time.Time, limit int) ([]*repository.ArchivedTrip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*repository.ArchivedTrip, 0, len(m.trips))
	for _, a := range m.trips {
		if !a.ArchivedAt.Before(since) {
			result = append(result, &repository.ArchivedTrip{Trip: a.Trip.Clone(), ArchivedAt: a.ArchivedAt})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ArchivedAt.After(result[j].ArchivedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CountArchived returns the number of archived trips.
func (m *MockArchiveRepository) CountArchived() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trips)
}

// ──────────────────────────────────────────────
// MOCK PUBLISHER
// ──────────────────────────────────────────────

// MockPublisher records published notification subjects.
type MockPublisher struct {
	mu       sync.Mutex
	subjects []string

	PublishCallCount int32
	PublishError     error
}

func (m *MockPublisher) Publish(subject string, msg any) error {
	atomic.AddInt32(&m.PublishCallCount, 1)
	if m.PublishError != nil {
		return m.PublishError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	return nil
}

// Subjects returns a copy of the published subjects in order.
func (m *MockPublisher) Subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subjects...)
}

// ──────────────────────────────────────────────
// TEST SERVER
// ──────────────────────────────────────────────

const testViewerBase = "https://share.example.com"

// TestEnv is a fully wired application backed by in-memory fakes.
type TestEnv struct {
	Store     *MockTripStore
	Deletions *memory.DeletionQueue
	Archive   *MockArchiveRepository
	Publisher *MockPublisher
	Metrics   *metrics.Collector
	Registry  *session.Registry
	Reaper    *reaper.Reaper
	Router    *gin.Engine
}

// NewTestEnv wires the HTTP surface the way the server does. Retention is
// kept short so tests can reap ended trips without waiting.
func NewTestEnv(retention time.Duration) *TestEnv {
	env := &TestEnv{
		Store:     NewMockTripStore(),
		Deletions: memory.NewDeletionQueue(),
		Archive:   NewMockArchiveRepository(),
		Publisher: &MockPublisher{},
		Metrics:   metrics.NewCollector(retention),
	}

	links := link.NewCodec(testViewerBase)
	notifications := service.NewNotificationService(env.Publisher, "tripshare.trips")

	env.Registry = session.NewRegistry(
		session.Deps{
			Store:      env.Store,
			Deletions:  env.Deletions,
			Directions: directions.StraightLine{},
			Links:      links,
			Notifier:   notifications,
			Metrics:    env.Metrics,
		},
		session.Options{
			Retention:           retention,
			WriteTimeout:        time.Second,
			ArrivalRadiusMeters: 30,
		},
		sampler.MetersPerSecond,
		0,
	)

	v := viewer.New(env.Store, 2*time.Minute, env.Metrics)
	env.Reaper = reaper.New(env.Store, env.Deletions, nil, env.Archive, env.Metrics, reaper.DefaultConfig())

	env.Router = app.NewRouter(app.RouterDeps{
		SessionHandler: handler.NewSessionHandler(env.Registry),
		TripHandler:    handler.NewTripHandler(v, links, env.Archive),
		Metrics:        env.Metrics,
	})
	return env
}

// Do performs a request against the router.
func (e *TestEnv) Do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.Router.ServeHTTP(rec, req)
	return rec
}
