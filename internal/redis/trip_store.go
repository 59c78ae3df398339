package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"tripshare/internal/domain"
	"tripshare/internal/store"
)

// Key prefixes
const (
	tripKeyPrefix    = "trip:"
	tripEventsSuffix = ":events"
)

// existsCheckInterval is how often a subscriber confirms the record still
// exists, so a key that expired on its own still ends the stream.
const existsCheckInterval = 30 * time.Second

// maxPatchRetries bounds optimistic-lock retries when two writers race on a key.
const maxPatchRetries = 5

const (
	eventSnapshot = "snapshot"
	eventGone     = "gone"
)

// envelope is the pub/sub payload on trip:<id>:events.
type envelope struct {
	Type string       `json:"type"`
	Trip *domain.Trip `json:"trip,omitempty"`
}

// TripStore keeps trip records as JSON strings and fans changes out over pub/sub.
type TripStore struct {
	client      *redis.Client
	terminalTTL time.Duration
	activeTTL   time.Duration
	checkEvery  time.Duration
	now         func() time.Time
}

// NewTripStore creates a new TripStore. terminalTTL, when positive, is applied to
// a record once it reaches a terminal status so it expires even if no reaper runs.
// activeTTL, when positive, is a sliding expiry on records still being shared:
// every write renews it, so a trip abandoned by a crashed writer still expires.
func NewTripStore(client *redis.Client, terminalTTL, activeTTL time.Duration) *TripStore {
	return &TripStore{
		client:      client,
		terminalTTL: terminalTTL,
		activeTTL:   activeTTL,
		checkEvery:  existsCheckInterval,
		now:         time.Now,
	}
}

// ttlFor picks the expiry written with a record in status.
func (s *TripStore) ttlFor(status domain.TripStatus) time.Duration {
	switch {
	case status.IsTerminal() && s.terminalTTL > 0:
		return s.terminalTTL
	case !status.IsTerminal() && s.activeTTL > 0:
		return s.activeTTL
	default:
		return redis.KeepTTL
	}
}

func tripKey(id domain.TripID) string { return tripKeyPrefix + string(id) }
func eventsChannel(id domain.TripID) string { return tripKeyPrefix + string(id) + tripEventsSuffix }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

// Create writes the initial record with SETNX.
func (s *TripStore) Create(ctx context.Context, id domain.TripID, trip *domain.Trip) error {
	t := trip.Clone()
	t.TripID = id
	if t.Timestamp.IsZero() {
		t.Timestamp = s.now()
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}

	var ttl time.Duration
	if s.activeTTL > 0 {
		ttl = s.activeTTL
	}
	ok, err := s.client.SetNX(ctx, tripKey(id), data, ttl).Result()
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return store.ErrExists
	}

	if err := s.publish(ctx, id, envelope{Type: eventSnapshot, Trip: t}); err != nil {
		log.Printf("[STORE] publish create for %s failed: %v", id, err)
	}
	return nil
}

// Get retrieves a trip record.
func (s *TripStore) Get(ctx context.Context, id domain.TripID) (*domain.Trip, error) {
	data, err := s.client.Get(ctx, tripKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}

	var trip domain.Trip
	if err := json.Unmarshal(data, &trip); err != nil {
		return nil, err
	}
	return &trip, nil
}

// Patch applies patch under WATCH so concurrent writers cannot lose updates.
// The write and its change event are committed in one MULTI block, so the
// event order on the channel matches the write order.
func (s *TripStore) Patch(ctx context.Context, id domain.TripID, patch domain.TripPatch) (*domain.Trip, error) {
	key := tripKey(id)
	var result *domain.Trip

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return store.ErrNotFound
			}
			return err
		}

		var trip domain.Trip
		if err := json.Unmarshal(data, &trip); err != nil {
			return err
		}
		if err := patch.Apply(&trip, s.now()); err != nil {
			return err
		}
		out, err := json.Marshal(&trip)
		if err != nil {
			return err
		}
		msg, err := json.Marshal(envelope{Type: eventSnapshot, Trip: &trip})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.ttlFor(trip.Status))
			pipe.Publish(ctx, eventsChannel(id), msg)
			return nil
		})
		if err != nil {
			return err
		}
		result = &trip
		return nil
	}

	for i := 0; i < maxPatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, store.ErrNotFound), errors.Is(err, domain.ErrInvalidTransition):
			return nil, err
		default:
			return nil, unavailable(err)
		}
	}
	return nil, unavailable(redis.TxFailedErr)
}

// Remove deletes the record and publishes gone in the same MULTI block. Gone
// is published even when the key is already missing, so a retry after a
// failed publish still reaches live subscribers.
func (s *TripStore) Remove(ctx context.Context, id domain.TripID) error {
	msg, err := json.Marshal(envelope{Type: eventGone})
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, tripKey(id))
		pipe.Publish(ctx, eventsChannel(id), msg)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Subscribe listens on the trip's channel. The subscription is confirmed before
// the current record is read so no change between the two is lost. While
// idle, the subscriber periodically checks the key still exists and reports
// gone once it does not.
func (s *TripStore) Subscribe(ctx context.Context, id domain.TripID, h store.Handler) (func(), error) {
	pubsub := s.client.Subscribe(ctx, eventsChannel(id))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, unavailable(err)
	}

	current, err := s.Get(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		_ = pubsub.Close()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		if current == nil {
			h(store.Event{Gone: true})
			return
		}
		h(store.Event{Trip: current})
		f := newEventFilter(current.Timestamp)

		check := time.NewTicker(s.checkEvery)
		defer check.Stop()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, deliver, err := f.accept([]byte(msg.Payload))
				if err != nil {
					log.Printf("[STORE] bad event on %s: %v", msg.Channel, err)
					continue
				}
				if !deliver {
					continue
				}
				h(ev)
				if ev.Gone {
					return
				}
			case <-check.C:
				n, err := s.client.Exists(subCtx, tripKey(id)).Result()
				if err != nil {
					if subCtx.Err() == nil {
						log.Printf("[STORE] exists check for %s failed: %v", id, err)
					}
					continue
				}
				if n == 0 {
					h(store.Event{Gone: true})
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

// eventFilter turns channel payloads into events for one subscriber. Snapshots
// not newer than the last delivered one are dropped, so a subscriber never
// sees a record go backwards.
type eventFilter struct {
	last time.Time
}

func newEventFilter(last time.Time) *eventFilter {
	return &eventFilter{last: last}
}

func (f *eventFilter) accept(payload []byte) (store.Event, bool, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return store.Event{}, false, err
	}

	switch env.Type {
	case eventGone:
		return store.Event{Gone: true}, true, nil
	case eventSnapshot:
		if env.Trip == nil || !env.Trip.Timestamp.After(f.last) {
			return store.Event{}, false, nil
		}
		f.last = env.Trip.Timestamp
		return store.Event{Trip: env.Trip}, true, nil
	default:
		return store.Event{}, false, fmt.Errorf("unknown event type %q", env.Type)
	}
}

func (s *TripStore) publish(ctx context.Context, id domain.TripID, env envelope) error {
	msg, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, eventsChannel(id), msg).Err()
}
