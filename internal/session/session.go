// Package session drives one device's trip sharing: it creates the trip
// record, streams position samples into it and ends it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tripshare/internal/directions"
	"tripshare/internal/domain"
	"tripshare/internal/geo"
	"tripshare/internal/link"
	"tripshare/internal/progress"
	"tripshare/internal/sampler"
	"tripshare/internal/store"
)

// maxCreateAttempts bounds retries when a freshly generated id already exists.
const maxCreateAttempts = 3

// State is the session state.
type State int

const (
	StateIdle State = iota
	StateSharing
)

func (s State) String() string {
	if s == StateSharing {
		return "sharing"
	}
	return "idle"
}

// Options tune a session.
type Options struct {
	Retention           time.Duration
	WriteTimeout        time.Duration
	ArrivalRadiusMeters float64
	Sampler             sampler.Options
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Retention:           time.Hour,
		WriteTimeout:        5 * time.Second,
		ArrivalRadiusMeters: 30,
		Sampler:             sampler.DefaultOptions,
	}
}

// Deps are the collaborators of a session. Directions, Notifier and Metrics
// are optional.
type Deps struct {
	Store      store.TripStore
	Deletions  store.DeletionQueue
	Sampler    sampler.LocationSampler
	Directions directions.Provider
	Links      link.Codec
	Notifier   Notifier
	Metrics    Metrics
}

// StartRequest describes a trip to share.
type StartRequest struct {
	Destination         domain.Destination
	UserInfo            *domain.UserInfo
	RouteDistanceMeters float64
}

// activeTrip is the write authority for one trip. Only the holder of s.trip
// may write; whoever detaches it ends the trip.
type activeTrip struct {
	id          domain.TripID
	destination geo.Point
	route       directions.Route
	writer      *writer
	sub         sampler.Subscription // guarded by Session.mu
	ended       bool                 // guarded by Session.mu
}

// Session is one device's sharing state machine: Idle -> Sharing(id) -> Idle.
type Session struct {
	deps Deps
	opts Options
	now  func() time.Time

	// opMu serializes Start, Stop and Close.
	opMu sync.Mutex

	mu     sync.Mutex
	trip   *activeTrip
	closed bool

	finishing sync.WaitGroup
}

// New creates an idle session.
func New(deps Deps, opts Options) *Session {
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultOptions().WriteTimeout
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultOptions().Retention
	}
	return &Session{deps: deps, opts: opts, now: time.Now}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trip != nil {
		return StateSharing
	}
	return StateIdle
}

// IsSharing reports whether a trip is active.
func (s *Session) IsSharing() bool {
	return s.State() == StateSharing
}

// TripID returns the active trip id, or "" when idle.
func (s *Session) TripID() domain.TripID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trip == nil {
		return ""
	}
	return s.trip.id
}

// ShareLink returns the viewer URL for id.
func (s *Session) ShareLink(id domain.TripID) string {
	return s.deps.Links.Generate(id)
}

// ParseShareLink extracts the trip id from a viewer URL.
func (s *Session) ParseShareLink(raw string) (domain.TripID, error) {
	return s.deps.Links.Parse(raw)
}

// Start begins sharing a new trip. A trip already being shared is stopped
// first, so one session never has two open trips.
func (s *Session) Start(ctx context.Context, req StartRequest) (domain.TripID, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isClosed() {
		return "", ErrClosed
	}

	dest := geo.Point{Lat: req.Destination.Lat, Lng: req.Destination.Lng}
	if !dest.Valid() {
		return "", ErrInvalidDestination
	}

	fix, err := s.deps.Sampler.CurrentPosition(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrNoActiveLocation, err)
		_ = s.deps.Notifier.NotifySharingStartFailed(ctx, err)
		return "", err
	}

	if prev := s.detach(); prev != nil {
		log.Printf("[SESSION] starting a new trip while %s is active, stopping it first", prev.id)
		s.finish(ctx, prev, domain.TripStatusStopped, nil)
	}

	from := geo.Point{Lat: fix.Lat, Lng: fix.Lng}
	route := directions.Resolve(ctx, s.deps.Directions, req.RouteDistanceMeters, from, dest)

	record := &domain.Trip{
		Status:      domain.TripStatusStarted,
		Timestamp:   s.now(),
		Destination: req.Destination,
		Route: &domain.RouteProgress{
			TotalDistance:     route.DistanceMeters,
			RemainingDistance: geo.Distance(from, dest),
			EstimatedDuration: positiveOrNil(route.DurationSeconds),
		},
	}
	if req.UserInfo != nil {
		u := *req.UserInfo
		record.UserInfo = &u
	}

	id, err := s.create(ctx, record)
	if err != nil {
		log.Printf("[SESSION] failed to create trip: %v", err)
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		_ = s.deps.Notifier.NotifySharingStartFailed(ctx, err)
		return "", err
	}
	record.TripID = id

	t := &activeTrip{
		id:          id,
		destination: dest,
		route:       route,
		writer:      newWriter(s.deps.Store, id, s.opts.WriteTimeout, s.deps.Metrics, s.deps.Notifier),
	}

	s.mu.Lock()
	s.trip = t
	s.mu.Unlock()

	s.deps.Metrics.TripStarted()
	log.Printf("[SESSION] sharing trip %s to %q (baseline %.0fm, approximate=%t)",
		id, req.Destination.Address, route.DistanceMeters, route.Approximate)
	_ = s.deps.Notifier.NotifySharingStarted(ctx, record, s.ShareLink(id))

	// The one-shot fix is the first sample, so the record leaves Started
	// without waiting for the watch.
	s.ReportLocation(fix)

	sub, err := s.deps.Sampler.Watch(s.opts.Sampler, s.ReportLocation)
	if err != nil {
		log.Printf("[SESSION] watch for %s failed: %v", id, err)
		if dt := s.detachTrip(t); dt != nil {
			s.finish(ctx, dt, domain.TripStatusStopped, nil)
		}
		return "", fmt.Errorf("%w: %w", ErrNoActiveLocation, err)
	}

	s.mu.Lock()
	if t.ended {
		s.mu.Unlock()
		sub.Cancel()
	} else {
		t.sub = sub
		s.mu.Unlock()
	}

	return id, nil
}

func (s *Session) create(ctx context.Context, record *domain.Trip) (domain.TripID, error) {
	var err error
	for i := 0; i < maxCreateAttempts; i++ {
		id := domain.NewTripID(s.now())
		err = s.deps.Store.Create(ctx, id, record)
		if !errors.Is(err, store.ErrExists) {
			return id, err
		}
	}
	return "", err
}

// ReportLocation feeds one sample into the active trip. It is a no-op when
// idle and never waits for the store.
func (s *Session) ReportLocation(sample sampler.Sample) {
	s.mu.Lock()
	t := s.trip
	if t == nil {
		s.mu.Unlock()
		return
	}

	pos := geo.Point{Lat: sample.Lat, Lng: sample.Lng}
	res := progress.Estimate(pos, t.destination, t.route.DistanceMeters, sample.Speed)

	patch := domain.TripPatch{
		CurrentLocation: &domain.Location{Lat: sample.Lat, Lng: sample.Lng, Accuracy: sample.Accuracy},
		Route: &domain.RouteProgress{
			TotalDistance:     t.route.DistanceMeters,
			RemainingDistance: res.RemainingMeters,
			EstimatedDuration: positiveOrNil(t.route.DurationSeconds),
			RemainingDuration: res.ETASeconds,
			ProgressPercent:   res.ProgressPercent,
		},
		Speed:   sample.Speed,
		Heading: sample.Heading,
	}

	arrived := s.opts.ArrivalRadiusMeters > 0 && res.RemainingMeters <= s.opts.ArrivalRadiusMeters
	if !arrived {
		s.mu.Unlock()
		status := domain.TripStatusEnRoute
		patch.Status = &status
		t.writer.offer(patch)
		return
	}

	// Arrival ends the trip. This may run inside the sampler callback, and
	// cancelling the watch waits for that callback, so the ending is async.
	s.trip = nil
	s.finishing.Add(1)
	s.mu.Unlock()

	log.Printf("[SESSION] trip %s arrived (%.0fm from destination)", t.id, res.RemainingMeters)
	go func() {
		defer s.finishing.Done()
		s.finish(context.Background(), t, domain.TripStatusArrived, &patch)
	}()
}

// Stop ends the active trip with status stopped. It is a no-op when idle.
// Store failures are logged, not returned.
func (s *Session) Stop(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if t := s.detach(); t != nil {
		s.finish(ctx, t, domain.TripStatusStopped, nil)
	}
	return nil
}

// Close stops any active trip, waits for endings in progress and disposes of
// the session.
func (s *Session) Close(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if t := s.detach(); t != nil {
		s.finish(ctx, t, domain.TripStatusStopped, nil)
	}
	s.finishing.Wait()
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// detach takes write authority away from the session. After it returns, no
// new sample reaches the trip's writer.
func (s *Session) detach() *activeTrip {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.trip
	s.trip = nil
	return t
}

// detachTrip detaches t only if it is still the active trip.
func (s *Session) detachTrip(t *activeTrip) *activeTrip {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trip != t {
		return nil
	}
	s.trip = nil
	return t
}

// finish ends a detached trip: the watch is cancelled, the writer drained,
// the terminal status written and the deletion scheduled.
func (s *Session) finish(ctx context.Context, t *activeTrip, status domain.TripStatus, last *domain.TripPatch) {
	s.mu.Lock()
	t.ended = true
	sub := t.sub
	t.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	t.writer.close()

	final := domain.StatusPatch(status)
	if last != nil {
		final = *last
		final.Status = &status
	}

	// Each follow-up call gets its own deadline detached from the caller, so a
	// slow terminal write cannot starve the deletion schedule.
	start := time.Now()
	err := s.detachedCall(ctx, func(wctx context.Context) error {
		_, err := s.deps.Store.Patch(wctx, t.id, final)
		return err
	})
	s.deps.Metrics.WriteCompleted(time.Since(start), err)
	if err != nil {
		log.Printf("[SESSION] failed to mark trip %s %s: %v", t.id, status, err)
		_ = s.detachedCall(ctx, func(nctx context.Context) error {
			return s.deps.Notifier.NotifyWriteFailed(nctx, t.id, err)
		})
	}

	at := s.now().Add(s.opts.Retention)
	if s.deps.Deletions != nil {
		err := s.detachedCall(ctx, func(dctx context.Context) error {
			return s.deps.Deletions.Schedule(dctx, t.id, at)
		})
		if err != nil {
			log.Printf("[SESSION] trip %s ended with status %s, failed to schedule deletion: %v", t.id, status, err)
		} else {
			log.Printf("[SESSION] trip %s ended with status %s, deletion due at %s", t.id, status, at.Format(time.RFC3339))
		}
	} else {
		log.Printf("[SESSION] trip %s ended with status %s", t.id, status)
	}

	s.deps.Metrics.TripEnded(status)
	_ = s.detachedCall(ctx, func(nctx context.Context) error {
		return s.deps.Notifier.NotifySharingEnded(nctx, t.id, status)
	})
}

// detachedCall runs fn under a fresh WriteTimeout deadline that survives
// cancellation of ctx (HTTP request, shutdown).
func (s *Session) detachedCall(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	defer cancel()
	return fn(cctx)
}

func positiveOrNil(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}
