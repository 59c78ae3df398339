// Package viewer is the read side of trip sharing: it follows a trip record
// and renders what an observer sees.
package viewer

import (
	"context"
	"sync"
	"time"

	"tripshare/internal/domain"
	"tripshare/internal/store"
)

// updateBuffer lets a short burst of changes queue up before the store's
// delivery goroutine waits on a slow consumer.
const updateBuffer = 16

// Update is one change seen by a viewer. Gone means the trip no longer exists.
type Update struct {
	Trip *domain.Trip
	Gone bool
}

// Viewer reads trips for observers.
type Viewer struct {
	store      store.TripStore
	staleAfter time.Duration
	metrics    Metrics
}

// Metrics tracks live viewer subscriptions.
type Metrics interface {
	ViewerSubscribed()
	ViewerUnsubscribed()
}

type nopMetrics struct{}

func (nopMetrics) ViewerSubscribed()   {}
func (nopMetrics) ViewerUnsubscribed() {}

// New creates a Viewer. m may be nil.
func New(st store.TripStore, staleAfter time.Duration, m Metrics) *Viewer {
	if m == nil {
		m = nopMetrics{}
	}
	return &Viewer{store: st, staleAfter: staleAfter, metrics: m}
}

// Get returns the current record.
func (v *Viewer) Get(ctx context.Context, id domain.TripID) (*domain.Trip, error) {
	return v.store.Get(ctx, id)
}

// Watch follows id until ctx is done or the trip is gone. The first update is
// the current record (or Gone); the channel is closed after the last update.
func (v *Viewer) Watch(ctx context.Context, id domain.TripID) (<-chan Update, error) {
	out := make(chan Update, updateBuffer)
	done := make(chan struct{})

	var (
		once   sync.Once
		mu     sync.Mutex
		closed bool
	)
	finish := func() { once.Do(func() { close(done) }) }

	unsubscribe, err := v.store.Subscribe(ctx, id, func(ev store.Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- Update{Trip: ev.Trip, Gone: ev.Gone}:
		case <-done:
			return
		}
		if ev.Gone {
			finish()
		}
	})
	if err != nil {
		return nil, err
	}
	v.metrics.ViewerSubscribed()

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		finish()
		unsubscribe()
		v.metrics.ViewerUnsubscribed()

		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	return out, nil
}
