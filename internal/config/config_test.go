package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.Sharing.Retention)
	assert.Equal(t, 5*time.Second, cfg.Sharing.WriteTimeout)
	assert.Equal(t, 30.0, cfg.Sharing.ArrivalRadiusMeters)
	assert.Equal(t, "mps", cfg.Sharing.SpeedUnit)
	assert.Equal(t, 15*time.Minute, cfg.Sharing.IdleTimeout)
	assert.Equal(t, 6*time.Hour, cfg.Sharing.ActiveTripTTL)
	assert.Equal(t, 30*time.Second, cfg.Reaper.Interval)
	assert.Equal(t, 5, cfg.Reaper.MaxAttempts)
	assert.Equal(t, StoreBackendRedis, cfg.StoreBackend)
	assert.Equal(t, time.Hour+10*time.Minute, cfg.TerminalTTL())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TRIP_RETENTION", "30m")
	t.Setenv("ARRIVAL_RADIUS_METERS", "50.5")
	t.Setenv("SAMPLER_SPEED_UNIT", "kmh")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("REAPER_MAX_ATTEMPTS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.Sharing.Retention)
	assert.Equal(t, 50.5, cfg.Sharing.ArrivalRadiusMeters)
	assert.Equal(t, "kmh", cfg.Sharing.SpeedUnit)
	assert.Equal(t, StoreBackendMemory, cfg.StoreBackend)
	assert.Equal(t, 5, cfg.Reaper.MaxAttempts, "unparsable values fall back to the default")
}

func TestLoad_Invalid(t *testing.T) {
	testCases := []struct {
		name, key, value string
	}{
		{"unknown backend", "STORE_BACKEND", "etcd"},
		{"unknown speed unit", "SAMPLER_SPEED_UNIT", "knots"},
		{"bad viewer url", "VIEWER_BASE_URL", "not a url"},
		{"bad nats url", "NATS_URL", "::"},
		{"non-numeric port", "SERVER_PORT", "http"},
		{"zero idle timeout", "SESSION_IDLE_TIMEOUT", "0s"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
