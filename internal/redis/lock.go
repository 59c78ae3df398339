package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tripshare/internal/domain"
)

const reapLockPrefix = "lock:reap:"

// releaseScript deletes the lock only while it still holds our token, so a
// holder whose TTL lapsed cannot release a lock another instance now owns.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore hands out per-trip reap locks so only one instance deletes a
// given trip at a time.
type LockStore struct {
	client *redis.Client
	owner  string
}

// NewLockStore creates a new LockStore with a fresh owner token.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client, owner: uuid.NewString()}
}

func reapLockKey(id domain.TripID) string { return reapLockPrefix + string(id) }

// AcquireTripLock attempts to acquire the reap lock for the given trip.
// Returns true if the lock was acquired, false if already held.
func (s *LockStore) AcquireTripLock(ctx context.Context, id domain.TripID, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, reapLockKey(id), s.owner, ttl).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

// ReleaseTripLock releases the reap lock for the given trip if this store
// still owns it.
func (s *LockStore) ReleaseTripLock(ctx context.Context, id domain.TripID) error {
	if err := releaseScript.Run(ctx, s.client, []string{reapLockKey(id)}, s.owner).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
