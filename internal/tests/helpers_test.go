package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tripshare/internal/handler"
)

func newEnv(t *testing.T, retention time.Duration) *TestEnv {
	t.Helper()
	env := NewTestEnv(retention)
	t.Cleanup(func() { env.Registry.CloseAll(context.Background()) })
	return env
}

func request(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func createSession(t *testing.T, env *TestEnv) string {
	t.Helper()
	rec := env.Do(request(t, http.MethodPost, "/v1/sessions", nil))
	expectStatus(t, rec, http.StatusCreated)
	return decode[handler.SessionResponse](t, rec).SessionID
}

func pushLocation(t *testing.T, env *TestEnv, sid string, lat, lng, speed float64) {
	t.Helper()
	rec := env.Do(request(t, http.MethodPost, "/v1/sessions/"+sid+"/location", map[string]any{
		"lat": lat, "lng": lng, "speed": speed,
	}))
	expectStatus(t, rec, http.StatusAccepted)
}

func startTrip(t *testing.T, env *TestEnv, sid string) handler.StartTripResponse {
	t.Helper()
	rec := env.Do(request(t, http.MethodPost, "/v1/sessions/"+sid+"/trip", map[string]any{
		"destination": map[string]any{"lat": 37.0, "lng": -122.0, "address": "Pier 39"},
		"user_info":   map[string]any{"name": "Sam"},
	}))
	expectStatus(t, rec, http.StatusCreated)
	return decode[handler.StartTripResponse](t, rec)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
