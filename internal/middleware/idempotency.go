package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
)

// Replay is a stored outcome of a keyed request.
type Replay struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// ReplayStore keeps request outcomes by idempotency key.
type ReplayStore interface {
	// Claim reserves key for a request in flight. It reports false if the
	// key is already claimed or holds an outcome.
	Claim(ctx context.Context, key string) (bool, error)
	// Load returns the stored outcome, or nil while the claim is pending.
	Load(ctx context.Context, key string) (*Replay, error)
	Save(ctx context.Context, key string, r *Replay) error
	Release(ctx context.Context, key string) error
}

// IdempotencyMiddleware keys POST requests by their Idempotency-Key header in
// Redis. A nil client disables it.
func IdempotencyMiddleware(redisClient *redis.Client) gin.HandlerFunc {
	if redisClient == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return ReplayMiddleware(NewRedisReplayStore(redisClient))
}

// ReplayMiddleware makes a retried POST return the first successful outcome
// instead of running again, so a retried "start trip" does not open a second
// trip. A duplicate arriving while the first is still running gets 409.
// Failed outcomes are not kept and may be retried.
func ReplayMiddleware(rs ReplayStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(idempotencyHeader)
		if key == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		scoped := c.Request.URL.Path + ":" + key

		claimed, err := rs.Claim(ctx, scoped)
		if err != nil {
			log.Printf("[IDEMPOTENCY] claim %s failed, proceeding without replay: %v", scoped, err)
			c.Next()
			return
		}
		if !claimed {
			replayOrConflict(c, rs, scoped)
			return
		}

		rec := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		// the outcome is stored even if the client has gone away
		bg := context.WithoutCancel(ctx)
		status := rec.Status()
		if status < 200 || status >= 300 {
			if err := rs.Release(bg, scoped); err != nil {
				log.Printf("[IDEMPOTENCY] release %s: %v", scoped, err)
			}
			return
		}
		out := &Replay{
			Status:      status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.buf.Bytes(),
		}
		if err := rs.Save(bg, scoped, out); err != nil {
			log.Printf("[IDEMPOTENCY] save %s: %v", scoped, err)
		}
	}
}

func replayOrConflict(c *gin.Context, rs ReplayStore, key string) {
	prev, err := rs.Load(c.Request.Context(), key)
	if err != nil {
		log.Printf("[IDEMPOTENCY] load %s: %v", key, err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency store unavailable"})
		return
	}
	if prev == nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "a request with this idempotency key is in progress"})
		return
	}

	c.Header(replayedHeader, "true")
	contentType := prev.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(prev.Status, contentType, prev.Body)
	c.Abort()
}

// recordingWriter tees the response body.
type recordingWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

// RedisReplayStore keeps outcomes as JSON under idempotency:<path>:<key>. A
// claim is a short-lived placeholder value that Save overwrites.
type RedisReplayStore struct {
	client   *redis.Client
	claimTTL time.Duration
	keepFor  time.Duration
}

const pendingReplay = "pending"

// NewRedisReplayStore creates a RedisReplayStore.
func NewRedisReplayStore(client *redis.Client) *RedisReplayStore {
	return &RedisReplayStore{client: client, claimTTL: time.Minute, keepFor: 24 * time.Hour}
}

func replayKey(key string) string { return "idempotency:" + key }

func (s *RedisReplayStore) Claim(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, replayKey(key), pendingReplay, s.claimTTL).Result()
}

func (s *RedisReplayStore) Load(ctx context.Context, key string) (*Replay, error) {
	data, err := s.client.Get(ctx, replayKey(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		// claim expired or was released between Claim and Load
		return nil, nil
	case err != nil:
		return nil, err
	case string(data) == pendingReplay:
		return nil, nil
	}

	var r Replay
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RedisReplayStore) Save(ctx context.Context, key string, r *Replay) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, replayKey(key), data, s.keepFor).Err()
}

func (s *RedisReplayStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, replayKey(key)).Err()
}
