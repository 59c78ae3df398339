package tests

import (
	"bufio"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// ──────────────────────────────────────────────
// 5. LIVE STREAM
// ──────────────────────────────────────────────

func TestStream_TripEventsThenGone(t *testing.T) {
	t.Parallel()

	env := newEnv(t, 10*time.Millisecond)
	srv := httptest.NewServer(env.Router)
	t.Cleanup(srv.Close)

	sid := createSession(t, env)
	pushLocation(t, env, sid, 37.001, -122.001, 8)
	started := startTrip(t, env, sid)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/v1/trips/"+started.TripID+"/stream", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	events := make(chan string, 64)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if name, ok := strings.CutPrefix(line, "event:"); ok {
				events <- strings.TrimSpace(name)
			}
		}
	}()

	next := func() string {
		t.Helper()
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("stream closed early")
			}
			return ev
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for stream event")
		}
		return ""
	}

	if ev := next(); ev != "trip" {
		t.Fatalf("expected first event trip, got %s", ev)
	}

	rec := env.Do(request(t, http.MethodDelete, "/v1/sessions/"+sid+"/trip", nil))
	expectStatus(t, rec, http.StatusNoContent)

	time.Sleep(20 * time.Millisecond)
	if _, err := env.Reaper.RunOnce(t.Context()); err != nil {
		t.Fatalf("reap: %v", err)
	}

	for {
		ev := next()
		if ev == "gone" {
			break
		}
		if ev != "trip" && ev != "ping" {
			t.Fatalf("unexpected event %s", ev)
		}
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected no events after gone")
		}
	case <-time.After(3 * time.Second):
		t.Error("stream not closed after gone")
	}
}

func TestStream_UnknownTripEndsImmediately(t *testing.T) {
	t.Parallel()

	env := newEnv(t, time.Hour)
	srv := httptest.NewServer(env.Router)
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + "/v1/trips/trip_0_missing/stream")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	// The handler returns after the gone event, so the body ends.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.Contains(string(body), "event:gone") {
		t.Errorf("expected a gone event, got %q", body)
	}
	if strings.Contains(string(body), "event:trip") {
		t.Errorf("unexpected trip event for a missing trip")
	}
}
