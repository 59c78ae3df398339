// Package memory is an in-process TripStore and DeletionQueue, used when no
// Redis is configured and throughout the tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"tripshare/internal/domain"
	"tripshare/internal/store"
)

// Store is an in-memory TripStore.
type Store struct {
	mu     sync.Mutex
	trips  map[domain.TripID]*domain.Trip
	subs   map[domain.TripID]map[uint64]*mailbox
	nextID uint64
	now    func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		trips: make(map[domain.TripID]*domain.Trip),
		subs:  make(map[domain.TripID]map[uint64]*mailbox),
		now:   time.Now,
	}
}

// Create writes the initial record.
func (s *Store) Create(ctx context.Context, id domain.TripID, trip *domain.Trip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trips[id]; ok {
		return store.ErrExists
	}
	t := trip.Clone()
	t.TripID = id
	if t.Timestamp.IsZero() {
		t.Timestamp = s.now()
	}
	s.trips[id] = t
	s.broadcast(id, store.Event{Trip: t.Clone()})
	return nil
}

// Get returns a copy of the current record.
func (s *Store) Get(ctx context.Context, id domain.TripID) (*domain.Trip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trips[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.Clone(), nil
}

// Patch merges patch into the stored record.
func (s *Store) Patch(ctx context.Context, id domain.TripID, patch domain.TripPatch) (*domain.Trip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.trips[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	next := cur.Clone()
	if err := patch.Apply(next, s.now()); err != nil {
		return nil, err
	}
	s.trips[id] = next
	s.broadcast(id, store.Event{Trip: next.Clone()})
	return next.Clone(), nil
}

// Remove deletes the record and sends Gone to subscribers.
func (s *Store) Remove(ctx context.Context, id domain.TripID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trips[id]; !ok {
		return nil
	}
	delete(s.trips, id)
	s.broadcast(id, store.Event{Gone: true})
	delete(s.subs, id)
	return nil
}

// Subscribe registers h for changes to id. The initial state is queued under the
// same lock as writes, so it always precedes later changes.
func (s *Store) Subscribe(ctx context.Context, id domain.TripID, h store.Handler) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	mb := newMailbox(h)
	go mb.run()

	t, ok := s.trips[id]
	if !ok {
		mb.push(store.Event{Gone: true})
		return mb.stop, nil
	}
	mb.push(store.Event{Trip: t.Clone()})

	s.nextID++
	subID := s.nextID
	if s.subs[id] == nil {
		s.subs[id] = make(map[uint64]*mailbox)
	}
	s.subs[id][subID] = mb

	return func() {
		s.mu.Lock()
		if m := s.subs[id]; m != nil {
			delete(m, subID)
			if len(m) == 0 {
				delete(s.subs, id)
			}
		}
		s.mu.Unlock()
		mb.stop()
	}, nil
}

// SubscriberCount returns live subscribers for id.
func (s *Store) SubscriberCount(id domain.TripID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[id])
}

// broadcast must be called with s.mu held.
func (s *Store) broadcast(id domain.TripID, ev store.Event) {
	for _, mb := range s.subs[id] {
		if ev.Trip != nil {
			mb.push(store.Event{Trip: ev.Trip.Clone()})
			continue
		}
		mb.push(ev)
	}
}

// mailbox delivers events to one subscriber in order without ever blocking the writer.
type mailbox struct {
	h      store.Handler
	mu     sync.Mutex
	queue  []store.Event
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newMailbox(h store.Handler) *mailbox {
	return &mailbox{
		h:      h,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (m *mailbox) push(ev store.Event) {
	m.mu.Lock()
	m.queue = append(m.queue, ev)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) stop() {
	m.once.Do(func() { close(m.done) })
}

func (m *mailbox) run() {
	for {
		select {
		case <-m.done:
			return
		case <-m.signal:
		}

		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		m.mu.Unlock()

		for _, ev := range batch {
			select {
			case <-m.done:
				return
			default:
			}
			m.h(ev)
			if ev.Gone {
				m.stop()
				return
			}
		}
	}
}

// DeletionQueue is an in-memory store.DeletionQueue. It does not survive the
// process; production deployments use the Redis queue.
type DeletionQueue struct {
	mu      sync.Mutex
	entries map[domain.TripID]*deletion
}

type deletion struct {
	at       time.Time
	attempts int
}

// NewDeletionQueue creates an empty DeletionQueue.
func NewDeletionQueue() *DeletionQueue {
	return &DeletionQueue{entries: make(map[domain.TripID]*deletion)}
}

// Schedule sets the deadline for id.
func (q *DeletionQueue) Schedule(ctx context.Context, id domain.TripID, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[id]; ok {
		e.at = at
		return nil
	}
	q.entries[id] = &deletion{at: at}
	return nil
}

// Due returns ids whose deadline has passed, earliest first.
func (q *DeletionQueue) Due(ctx context.Context, now time.Time, limit int) ([]domain.TripID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []domain.TripID
	for id, e := range q.entries {
		if !e.at.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return q.entries[due[i]].at.Before(q.entries[due[j]].at)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Ack drops id from the queue.
func (q *DeletionQueue) Ack(ctx context.Context, id domain.TripID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, id)
	return nil
}

// Fail bumps the attempt counter for id.
func (q *DeletionQueue) Fail(ctx context.Context, id domain.TripID) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return 0, nil
	}
	e.attempts++
	return e.attempts, nil
}

// Deadline returns the scheduled deadline for id, for assertions.
func (q *DeletionQueue) Deadline(id domain.TripID) (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Ensure types implement the store interfaces.
var (
	_ store.TripStore     = (*Store)(nil)
	_ store.DeletionQueue = (*DeletionQueue)(nil)
)
