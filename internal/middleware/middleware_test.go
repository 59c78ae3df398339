package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func TestIdempotencyMiddleware_NilClientPassesThrough(t *testing.T) {
	t.Parallel()

	calls := 0
	r := gin.New()
	r.Use(IdempotencyMiddleware(nil))
	r.POST("/x", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"n": calls})
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set(idempotencyHeader, "abc")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusCreated, rec.Code)
	}
	assert.Equal(t, 2, calls)
}

// mapReplayStore is an in-memory ReplayStore.
type mapReplayStore struct {
	mu      sync.Mutex
	pending map[string]bool
	done    map[string]*Replay
}

func newMapReplayStore() *mapReplayStore {
	return &mapReplayStore{pending: make(map[string]bool), done: make(map[string]*Replay)}
}

func (s *mapReplayStore) Claim(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[key] || s.done[key] != nil {
		return false, nil
	}
	s.pending[key] = true
	return true, nil
}

func (s *mapReplayStore) Load(ctx context.Context, key string) (*Replay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done[key], nil
}

func (s *mapReplayStore) Save(ctx context.Context, key string, r *Replay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, key)
	s.done[key] = r
	return nil
}

func (s *mapReplayStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, key)
	return nil
}

func postWithKey(r http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestReplayMiddleware_ReplaysSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	r := gin.New()
	r.Use(ReplayMiddleware(newMapReplayStore()))
	r.POST("/trip", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"n": calls})
	})

	first := postWithKey(r, "/trip", "k1")
	require.Equal(t, http.StatusCreated, first.Code)

	again := postWithKey(r, "/trip", "k1")
	assert.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, first.Body.String(), again.Body.String())
	assert.Equal(t, "true", again.Header().Get(replayedHeader))
	assert.Equal(t, 1, calls)

	other := postWithKey(r, "/trip", "k2")
	assert.Equal(t, http.StatusCreated, other.Code)
	postWithKey(r, "/trip", "")
	assert.Equal(t, 3, calls, "a new key or no key runs the handler")
}

func TestReplayMiddleware_FailureIsNotKept(t *testing.T) {
	t.Parallel()

	fail := true
	r := gin.New()
	r.Use(ReplayMiddleware(newMapReplayStore()))
	r.POST("/trip", func(c *gin.Context) {
		if fail {
			c.JSON(http.StatusConflict, gin.H{"error": "no location"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	assert.Equal(t, http.StatusConflict, postWithKey(r, "/trip", "k").Code)
	fail = false
	rec := postWithKey(r, "/trip", "k")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Header().Get(replayedHeader))
}

func TestReplayMiddleware_InFlightDuplicateConflicts(t *testing.T) {
	t.Parallel()

	rs := newMapReplayStore()
	_, err := rs.Claim(context.Background(), "/trip:k")
	require.NoError(t, err)

	calls := 0
	r := gin.New()
	r.Use(ReplayMiddleware(rs))
	r.POST("/trip", func(c *gin.Context) {
		calls++
		c.Status(http.StatusCreated)
	})

	assert.Equal(t, http.StatusConflict, postWithKey(r, "/trip", "k").Code)
	assert.Equal(t, 0, calls)
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	t.Parallel()

	r := gin.New()
	r.Use(CORSMiddleware())
	r.GET("/v1/trips/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/v1/trips/trip_1", nil)
	req.Header.Set("Origin", "https://somewhere.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMaxBodySize(t *testing.T) {
	t.Parallel()

	r := gin.New()
	r.Use(MaxBodySize(100))
	r.POST("/x", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})

	testCases := []struct {
		name string
		size int
		want int
	}{
		{"within limit", 50, http.StatusOK},
		{"over limit", 200, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range testCases {
		req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(strings.Repeat("x", tc.size)))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, tc.name)
	}
}
