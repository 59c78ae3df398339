// Package reaper deletes trip records whose retention window has elapsed.
// It runs server-side, so a deletion survives the session that scheduled it.
package reaper

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"tripshare/internal/domain"
	"tripshare/internal/store"
)

// Archiver keeps a copy of a trip before it is deleted.
type Archiver interface {
	Archive(ctx context.Context, trip *domain.Trip) error
}

// Metrics receives reaper counters.
type Metrics interface {
	TripReaped()
	ReapFailed()
	ReapDropped()
}

type nopMetrics struct{}

func (nopMetrics) TripReaped()  {}
func (nopMetrics) ReapFailed()  {}
func (nopMetrics) ReapDropped() {}

// Config controls the reaper.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
	Batch       int
	LockTTL     time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		MaxAttempts: 5,
		Batch:       100,
		LockTTL:     time.Minute,
	}
}

// Reaper drains the deletion queue.
type Reaper struct {
	store    store.TripStore
	queue    store.DeletionQueue
	locker   store.Locker
	archiver Archiver
	metrics  Metrics
	cfg      Config
	now      func() time.Time

	wg sync.WaitGroup
}

// New creates a Reaper. locker, archiver and m may be nil.
func New(st store.TripStore, q store.DeletionQueue, locker store.Locker, archiver Archiver, m Metrics, cfg Config) *Reaper {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Batch <= 0 {
		cfg.Batch = def.Batch
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if m == nil {
		m = nopMetrics{}
	}
	return &Reaper{
		store:    st,
		queue:    q,
		locker:   locker,
		archiver: archiver,
		metrics:  m,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Start runs the reaper loop in the background until ctx is done.
func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Run(ctx)
	}()
}

// Wait blocks until a loop started with Start has returned.
func (r *Reaper) Wait() {
	r.wg.Wait()
}

// Run polls the queue every Interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	log.Printf("[REAPER] started, polling every %s", r.cfg.Interval)

	// immediate pass on start picks up deletions that came due while down
	if _, err := r.RunOnce(ctx); err != nil {
		log.Printf("[REAPER] pass failed: %v", err)
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[REAPER] stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				log.Printf("[REAPER] pass failed: %v", err)
			}
		}
	}
}

// RunOnce processes one batch of due deletions and returns how many trips
// were removed.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	ids, err := r.queue.Due(ctx, r.now(), r.cfg.Batch)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return reaped, ctx.Err()
		}
		if r.reap(ctx, id) {
			reaped++
		}
	}
	if reaped > 0 {
		log.Printf("[REAPER] removed %d of %d due trips", reaped, len(ids))
	}
	return reaped, nil
}

func (r *Reaper) reap(ctx context.Context, id domain.TripID) bool {
	if r.locker != nil {
		acquired, err := r.locker.AcquireTripLock(ctx, id, r.cfg.LockTTL)
		if err != nil {
			log.Printf("[REAPER] lock %s: %v", id, err)
			r.fail(ctx, id)
			return false
		}
		if !acquired {
			// another replica is on it
			return false
		}
		defer func() {
			if err := r.locker.ReleaseTripLock(ctx, id); err != nil {
				log.Printf("[REAPER] release lock %s: %v", id, err)
			}
		}()
	}

	trip, err := r.store.Get(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// already expired through the TTL backstop
		r.ack(ctx, id)
		return false
	case err != nil:
		log.Printf("[REAPER] read %s: %v", id, err)
		r.fail(ctx, id)
		return false
	}

	if r.archiver != nil {
		// the archive has no retention limit, so it never holds personal details
		if err := r.archiver.Archive(ctx, trip.Anonymized()); err != nil {
			log.Printf("[REAPER] archive %s: %v", id, err)
		}
	}

	if err := r.store.Remove(ctx, id); err != nil {
		log.Printf("[REAPER] remove %s: %v", id, err)
		r.fail(ctx, id)
		return false
	}

	r.ack(ctx, id)
	r.metrics.TripReaped()
	return true
}

func (r *Reaper) ack(ctx context.Context, id domain.TripID) {
	if err := r.queue.Ack(ctx, id); err != nil {
		log.Printf("[REAPER] ack %s: %v", id, err)
	}
}

// fail counts an attempt. After MaxAttempts the entry is dropped; the store's
// own expiry still applies to the record.
func (r *Reaper) fail(ctx context.Context, id domain.TripID) {
	r.metrics.ReapFailed()

	attempts, err := r.queue.Fail(ctx, id)
	if err != nil {
		log.Printf("[REAPER] record failure for %s: %v", id, err)
		return
	}
	if attempts >= r.cfg.MaxAttempts {
		log.Printf("[REAPER] giving up on %s after %d attempts", id, attempts)
		r.metrics.ReapDropped()
		r.ack(ctx, id)
	}
}
