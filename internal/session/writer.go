package session

import (
	"context"
	"log"
	"sync"
	"time"

	"tripshare/internal/domain"
	"tripshare/internal/store"
)

// writer owns all location writes for one trip. It holds at most one pending
// patch; a newer patch replaces an unsent one, so a slow store costs freshness
// but never blocks the sampler and never queues stale positions.
type writer struct {
	store    store.TripStore
	id       domain.TripID
	timeout  time.Duration
	metrics  Metrics
	notifier Notifier

	mu      sync.Mutex
	pending *domain.TripPatch

	signal   chan struct{}
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
}

func newWriter(s store.TripStore, id domain.TripID, timeout time.Duration, m Metrics, n Notifier) *writer {
	w := &writer{
		store:    s,
		id:       id,
		timeout:  timeout,
		metrics:  m,
		notifier: n,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go w.run()
	return w
}

// offer replaces the pending patch and wakes the loop. It never blocks.
func (w *writer) offer(p domain.TripPatch) {
	w.mu.Lock()
	if w.pending != nil {
		w.metrics.WriteSuperseded()
	}
	w.pending = &p
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// close stops the loop, dropping any pending patch, and waits for an in-flight
// write to return.
func (w *writer) close() {
	w.once.Do(func() { close(w.done) })
	<-w.finished
}

func (w *writer) run() {
	defer close(w.finished)

	for {
		select {
		case <-w.done:
			return
		case <-w.signal:
		}

		select {
		case <-w.done:
			return
		default:
		}

		w.mu.Lock()
		p := w.pending
		w.pending = nil
		w.mu.Unlock()

		if p != nil {
			w.write(*p)
		}
	}
}

func (w *writer) write(p domain.TripPatch) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	start := time.Now()
	_, err := w.store.Patch(ctx, w.id, p)
	w.metrics.WriteCompleted(time.Since(start), err)
	if err != nil {
		log.Printf("[SESSION] location write for %s failed: %v", w.id, err)
		_ = w.notifier.NotifyWriteFailed(context.Background(), w.id, err)
	}
}
