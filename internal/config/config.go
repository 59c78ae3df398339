package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreBackendRedis  = "redis"
	StoreBackendMemory = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	NATS         NATSConfig
	NewRelic     NewRelicConfig
	Sharing      SharingConfig
	Reaper       ReaperConfig
	Metrics      MetricsConfig
	StoreBackend string `validate:"oneof=redis memory"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string        `validate:"required,numeric"`
	ReadTimeout  time.Duration `validate:"gt=0"`
	WriteTimeout time.Duration `validate:"gte=0"`
}

// DatabaseConfig holds PostgreSQL configuration for the trip archive.
type DatabaseConfig struct {
	Enabled  bool
	Host     string `validate:"required_if=Enabled true"`
	Port     string `validate:"required_if=Enabled true"`
	User     string
	Password string
	DBName   string `validate:"required_if=Enabled true"`
	SSLMode  string `validate:"omitempty,oneof=disable require verify-ca verify-full prefer allow"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string `validate:"required"`
	Password string
	DB       int `validate:"gte=0"`
}

// NATSConfig holds NATS configuration. An empty URL disables publishing.
type NATSConfig struct {
	URL           string `validate:"omitempty,url"`
	SubjectPrefix string `validate:"required"`
	LogSubjects   bool
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// SharingConfig holds trip sharing behavior.
type SharingConfig struct {
	ViewerBaseURL       string        `validate:"required,url"`
	Retention           time.Duration `validate:"gt=0"`
	WriteTimeout        time.Duration `validate:"gt=0"`
	ArrivalRadiusMeters float64       `validate:"gte=0"`
	SpeedUnit           string        `validate:"oneof=mps kmh mph"`
	SampleInterval      time.Duration `validate:"gte=0"`
	SampleDistance      float64       `validate:"gte=0"`
	FixMaxAge           time.Duration `validate:"gte=0"`
	StaleAfter          time.Duration `validate:"gt=0"`
	// IdleTimeout closes a device session that has not reported for this long.
	IdleTimeout   time.Duration `validate:"gt=0"`
	IdleSweep     time.Duration `validate:"gt=0"`
	ActiveTripTTL time.Duration `validate:"gte=0"`
}

// ReaperConfig holds deletion worker configuration.
type ReaperConfig struct {
	Enabled     bool
	Interval    time.Duration `validate:"gt=0"`
	MaxAttempts int           `validate:"gt=0"`
	Batch       int           `validate:"gt=0"`
	TTLGrace    time.Duration `validate:"gte=0"`
}

// MetricsConfig holds Prometheus configuration.
type MetricsConfig struct {
	Enabled bool
}

// Load loads configuration from a .env file, if present, and environment
// variables, then validates it.
func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			ReadTimeout: getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			// Zero: viewer streams are long-lived.
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolEnv("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "tripshare"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", ""),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "tripshare.trips"),
			LogSubjects:   getBoolEnv("LOG_NATS_SUBJECTS", false),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "tripshare"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Sharing: SharingConfig{
			ViewerBaseURL:       getEnv("VIEWER_BASE_URL", "http://localhost:8080"),
			Retention:           getDurationEnv("TRIP_RETENTION", time.Hour),
			WriteTimeout:        getDurationEnv("TRIP_WRITE_TIMEOUT", 5*time.Second),
			ArrivalRadiusMeters: getFloatEnv("ARRIVAL_RADIUS_METERS", 30),
			SpeedUnit:           getEnv("SAMPLER_SPEED_UNIT", "mps"),
			SampleInterval:      getDurationEnv("SAMPLE_INTERVAL", time.Second),
			SampleDistance:      getFloatEnv("SAMPLE_DISTANCE_METERS", 5),
			FixMaxAge:           getDurationEnv("FIX_MAX_AGE", 2*time.Minute),
			StaleAfter:          getDurationEnv("VIEW_STALE_AFTER", 2*time.Minute),
			IdleTimeout:         getDurationEnv("SESSION_IDLE_TIMEOUT", 15*time.Minute),
			IdleSweep:           getDurationEnv("SESSION_IDLE_SWEEP", time.Minute),
			ActiveTripTTL:       getDurationEnv("TRIP_ACTIVE_TTL", 6*time.Hour),
		},
		Reaper: ReaperConfig{
			Enabled:     getBoolEnv("REAPER_ENABLED", true),
			Interval:    getDurationEnv("REAPER_INTERVAL", 30*time.Second),
			MaxAttempts: getIntEnv("REAPER_MAX_ATTEMPTS", 5),
			Batch:       getIntEnv("REAPER_BATCH", 100),
			TTLGrace:    getDurationEnv("TRIP_TTL_GRACE", 10*time.Minute),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("METRICS_ENABLED", true),
		},
		StoreBackend: getEnv("STORE_BACKEND", StoreBackendRedis),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// TerminalTTL is how long the store keeps an ended trip on its own, as a
// backstop for a reaper that never runs.
func (c *Config) TerminalTTL() time.Duration {
	return c.Sharing.Retention + c.Reaper.TTLGrace
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
