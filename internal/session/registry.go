package session

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tripshare/internal/sampler"
)

// Device is a registered device session: its state machine plus the sampler
// its location reports are pushed into.
type Device struct {
	ID        string
	Session   *Session
	Sampler   *sampler.PushSampler
	CreatedAt time.Time

	lastSeen atomic.Int64
}

// Touch records activity from the device.
func (d *Device) Touch(at time.Time) { d.lastSeen.Store(at.UnixNano()) }

// LastSeen is the time of the device's most recent activity.
func (d *Device) LastSeen() time.Time { return time.Unix(0, d.lastSeen.Load()) }

// Registry holds the device sessions served by this process.
type Registry struct {
	deps      Deps
	opts      Options
	unit      sampler.SpeedUnit
	fixMaxAge time.Duration

	mu      sync.RWMutex
	devices map[string]*Device
}

// NewRegistry creates a Registry. deps.Sampler is ignored: every device gets
// its own push sampler reporting speed in unit.
func NewRegistry(deps Deps, opts Options, unit sampler.SpeedUnit, fixMaxAge time.Duration) *Registry {
	return &Registry{
		deps:      deps,
		opts:      opts,
		unit:      unit,
		fixMaxAge: fixMaxAge,
		devices:   make(map[string]*Device),
	}
}

// Create registers a new idle device session.
func (r *Registry) Create() *Device {
	ps := sampler.NewPushSampler(r.unit, r.fixMaxAge)
	deps := r.deps
	deps.Sampler = ps

	d := &Device{
		ID:        uuid.New().String(),
		Session:   New(deps, r.opts),
		Sampler:   ps,
		CreatedAt: time.Now(),
	}
	d.Touch(d.CreatedAt)

	r.mu.Lock()
	r.devices[d.ID] = d
	r.mu.Unlock()

	log.Printf("[SESSION] registered device session %s", d.ID)
	return d
}

// Get returns the device session with the given id.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

// Close stops and removes a device session.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	d, ok := r.devices[id]
	delete(r.devices, id)
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	return d.Session.Close(ctx)
}

// CloseAll stops every session, typically on shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	devices := r.devices
	r.devices = make(map[string]*Device)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, d := range devices {
		wg.Add(1)
		go func(d *Device) {
			defer wg.Done()
			if err := d.Session.Close(ctx); err != nil {
				log.Printf("[SESSION] close %s: %v", d.ID, err)
			}
		}(d)
	}
	wg.Wait()
}

// CloseIdle closes every device session whose last activity precedes cutoff.
// An abandoned session would otherwise keep its trip shared indefinitely.
func (r *Registry) CloseIdle(ctx context.Context, cutoff time.Time) int {
	r.mu.Lock()
	var idle []*Device
	for id, d := range r.devices {
		if d.LastSeen().Before(cutoff) {
			idle = append(idle, d)
			delete(r.devices, id)
		}
	}
	r.mu.Unlock()

	for _, d := range idle {
		if err := d.Session.Close(ctx); err != nil {
			log.Printf("[SESSION] close idle %s: %v", d.ID, err)
			continue
		}
		log.Printf("[SESSION] closed idle device session %s (last seen %s)", d.ID, d.LastSeen().Format(time.RFC3339))
	}
	return len(idle)
}

// SweepIdle runs CloseIdle every interval until ctx is cancelled.
func (r *Registry) SweepIdle(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.CloseIdle(ctx, now.Add(-idle)); n > 0 {
				log.Printf("[SESSION] idle sweep closed %d sessions", n)
			}
		}
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
