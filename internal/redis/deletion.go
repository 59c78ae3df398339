package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tripshare/internal/domain"
)

const (
	deletionQueueKey    = "trips:deletions"
	deletionAttemptsKey = "trips:deletions:attempts"
)

// DeletionQueue keeps scheduled trip deletions in a sorted set scored by deadline
// (unix millis). It outlives the process that scheduled the deletion.
type DeletionQueue struct {
	client *redis.Client
}

// NewDeletionQueue creates a new DeletionQueue.
func NewDeletionQueue(client *redis.Client) *DeletionQueue {
	return &DeletionQueue{client: client}
}

// Schedule sets the deletion deadline for a trip using ZADD.
func (q *DeletionQueue) Schedule(ctx context.Context, id domain.TripID, at time.Time) error {
	err := q.client.ZAdd(ctx, deletionQueueKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: string(id),
	}).Err()
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Due returns trip ids whose deadline is at or before now, earliest first.
func (q *DeletionQueue) Due(ctx context.Context, now time.Time, limit int) ([]domain.TripID, error) {
	members, err := q.client.ZRangeByScore(ctx, deletionQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	ids := make([]domain.TripID, 0, len(members))
	for _, m := range members {
		ids = append(ids, domain.TripID(m))
	}
	return ids, nil
}

// Ack removes a trip from the queue and clears its attempt counter.
func (q *DeletionQueue) Ack(ctx context.Context, id domain.TripID) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, deletionQueueKey, string(id))
	pipe.HDel(ctx, deletionAttemptsKey, string(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// Fail increments the attempt counter for a trip.
func (q *DeletionQueue) Fail(ctx context.Context, id domain.TripID) (int, error) {
	n, err := q.client.HIncrBy(ctx, deletionAttemptsKey, string(id), 1).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}
