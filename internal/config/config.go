package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	// DefaultGeofenceRadiusM applies when an event row carries no radius.
	DefaultGeofenceRadiusM float64
	LocationTimeout        time.Duration
	MonitorInterval        time.Duration
	SampleMaxAge           time.Duration
	EventCacheTTL          time.Duration

	FreeDailyQuota int
	// DemoMatchMode replaces reciprocal matching with a fixed-probability
	// outcome. Off by default; only for demos.
	DemoMatchMode        bool
	DemoMatchProbability float64

	FCMEndpoint string
	FCMKey      string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:               ":8080",
		ReadTimeout:            5 * time.Second,
		WriteTimeout:           10 * time.Second,
		IdleTimeout:            120 * time.Second,
		ShutdownTimeout:        15 * time.Second,
		KafkaTopic:             "swipe-events",
		DefaultGeofenceRadiusM: 50,
		LocationTimeout:        10 * time.Second,
		MonitorInterval:        60 * time.Second,
		SampleMaxAge:           2 * time.Minute,
		EventCacheTTL:          30 * time.Second,
		FreeDailyQuota:         10,
		DemoMatchProbability:   0.3,
		LogLevel:               "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setFloatFromEnv(&cfg.DefaultGeofenceRadiusM, "GEOFENCE_DEFAULT_RADIUS_M", &errs)
	setDurationFromEnv(&cfg.LocationTimeout, "LOCATION_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.MonitorInterval, "MONITOR_INTERVAL", &errs)
	setDurationFromEnv(&cfg.SampleMaxAge, "LOCATION_SAMPLE_MAX_AGE", &errs)
	setDurationFromEnv(&cfg.EventCacheTTL, "EVENT_CACHE_TTL", &errs)

	setIntFromEnv(&cfg.FreeDailyQuota, "FREE_DAILY_QUOTA", &errs)
	cfg.DemoMatchMode = strings.EqualFold(os.Getenv("DEMO_MATCH_MODE"), "true")
	setFloatFromEnv(&cfg.DemoMatchProbability, "DEMO_MATCH_PROBABILITY", &errs)

	setStringFromEnv(&cfg.FCMEndpoint, "FCM_ENDPOINT")
	cfg.FCMKey = os.Getenv("FCM_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.DefaultGeofenceRadiusM <= 0 {
		errs = append(errs, fmt.Errorf("GEOFENCE_DEFAULT_RADIUS_M must be > 0"))
	}
	if cfg.MonitorInterval <= 0 {
		errs = append(errs, fmt.Errorf("MONITOR_INTERVAL must be > 0"))
	}
	if cfg.FreeDailyQuota < 0 {
		errs = append(errs, fmt.Errorf("FREE_DAILY_QUOTA must be >= 0"))
	}
	if cfg.DemoMatchProbability < 0 || cfg.DemoMatchProbability > 1 {
		errs = append(errs, fmt.Errorf("DEMO_MATCH_PROBABILITY must be in [0,1]"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
