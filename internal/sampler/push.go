package sampler

import (
	"context"
	"math"
	"sync"
	"time"

	"tripshare/internal/geo"
)

// Reading is a raw fix as reported by the device, speed in the sampler's unit.
type Reading struct {
	Lat      float64
	Lng      float64
	Accuracy *float64
	Speed    *float64
	Heading  *float64
	Time     time.Time
}

// PushSampler implements LocationSampler for fixes pushed by a remote device.
// Speed is converted from the configured unit exactly once, in Push.
type PushSampler struct {
	unit   SpeedUnit
	maxAge time.Duration
	now    func() time.Time

	mu     sync.Mutex
	latest *Sample
	denied bool
	watch  *pushWatch
}

// NewPushSampler creates a sampler whose readings report speed in unit.
// Fixes older than maxAge are not returned by CurrentPosition; zero disables the check.
func NewPushSampler(unit SpeedUnit, maxAge time.Duration) *PushSampler {
	if unit == "" {
		unit = MetersPerSecond
	}
	return &PushSampler{unit: unit, maxAge: maxAge, now: time.Now}
}

// Unit returns the speed unit readings are expected in.
func (s *PushSampler) Unit() SpeedUnit { return s.unit }

// Push records a reading and offers it to the active watch.
func (s *PushSampler) Push(r Reading) error {
	sample, err := s.normalize(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.denied {
		s.mu.Unlock()
		return ErrPermissionDenied
	}
	s.latest = &sample
	w := s.watch
	s.mu.Unlock()

	if w != nil {
		w.offer(sample)
	}
	return nil
}

// Deny marks location permission as revoked; the last fix is forgotten.
func (s *PushSampler) Deny() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied = true
	s.latest = nil
}

// Grant restores location permission.
func (s *PushSampler) Grant() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied = false
}

// CurrentPosition returns the latest fix.
func (s *PushSampler) CurrentPosition(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.denied {
		return Sample{}, ErrPermissionDenied
	}
	if s.latest == nil {
		return Sample{}, ErrUnavailable
	}
	if s.maxAge > 0 && s.now().Sub(s.latest.Time) > s.maxAge {
		return Sample{}, ErrUnavailable
	}
	return *s.latest, nil
}

// Watch installs fn as the single consumer, replacing any previous watch.
func (s *PushSampler) Watch(opts Options, fn func(Sample)) (Subscription, error) {
	w := &pushWatch{sampler: s, opts: opts, fn: fn}

	s.mu.Lock()
	if s.denied {
		s.mu.Unlock()
		return nil, ErrPermissionDenied
	}
	prev := s.watch
	s.watch = w
	s.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
	return w, nil
}

func (s *PushSampler) normalize(r Reading) (Sample, error) {
	p := geo.Point{Lat: r.Lat, Lng: r.Lng}
	if !p.Valid() {
		return Sample{}, ErrInvalidSample
	}

	sample := Sample{
		Lat:      r.Lat,
		Lng:      r.Lng,
		Accuracy: finiteOrNil(r.Accuracy),
		Heading:  finiteOrNil(r.Heading),
		Time:     r.Time,
	}
	if sample.Time.IsZero() {
		sample.Time = s.now()
	}
	if v := finiteOrNil(r.Speed); v != nil {
		mps := s.unit.ToMetersPerSecond(*v)
		sample.Speed = &mps
	}
	return sample, nil
}

func finiteOrNil(f *float64) *float64 {
	if f == nil || math.IsNaN(*f) || math.IsInf(*f, 0) {
		return nil
	}
	v := *f
	return &v
}

type pushWatch struct {
	sampler *PushSampler
	opts    Options
	fn      func(Sample)

	// deliverMu is held for the whole callback, so Cancel waits for an
	// in-progress delivery and nothing is delivered after it returns.
	deliverMu sync.Mutex
	cancelled bool
	last      *Sample
}

func (w *pushWatch) offer(sample Sample) {
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()

	if w.cancelled || !w.due(sample) {
		return
	}
	w.last = &sample
	w.fn(sample)
}

func (w *pushWatch) due(sample Sample) bool {
	if w.last == nil {
		return true
	}
	if w.opts.MinInterval <= 0 && w.opts.MinDistance <= 0 {
		return true
	}
	if w.opts.MinInterval > 0 && sample.Time.Sub(w.last.Time) >= w.opts.MinInterval {
		return true
	}
	if w.opts.MinDistance > 0 {
		moved := geo.Distance(geo.Point{Lat: w.last.Lat, Lng: w.last.Lng}, geo.Point{Lat: sample.Lat, Lng: sample.Lng})
		if moved >= w.opts.MinDistance {
			return true
		}
	}
	return false
}

// Cancel stops delivery.
func (w *pushWatch) Cancel() {
	w.deliverMu.Lock()
	w.cancelled = true
	w.deliverMu.Unlock()

	s := w.sampler
	s.mu.Lock()
	if s.watch == w {
		s.watch = nil
	}
	s.mu.Unlock()
}

// Ensure PushSampler implements LocationSampler.
var _ LocationSampler = (*PushSampler)(nil)
