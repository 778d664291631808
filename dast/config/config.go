// Package config reads service configuration from the environment. Every
// setting has a development-friendly default so a bare `dastd` starts
// against sqlite with no broker or cache attached.
package config

import (
	"log/slog"
	"os"
	"time"
)

// Config is the resolved service configuration.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string
	// DBDriver selects the database backend: postgres or sqlite.
	DBDriver string
	// DBDSN is passed through to the selected driver unchanged.
	DBDSN string
	// ValkeyAddr enables the progress/summary cache when non-empty.
	ValkeyAddr string
	// RabbitMQURL enables queue-driven scan starts and event publishing
	// when non-empty.
	RabbitMQURL string
	// TickInterval is how often the schedule runner checks for due
	// schedules.
	TickInterval time.Duration
}

// Load resolves the configuration from QA_GUARDIAN_* environment
// variables.
func Load() Config {
	cfg := Config{
		ListenAddr:   getenv("QA_GUARDIAN_LISTEN_ADDR", ":8080"),
		DBDriver:     getenv("QA_GUARDIAN_DB_DRIVER", "sqlite"),
		DBDSN:        getenv("QA_GUARDIAN_DB_DSN", "file:qa-guardian.db"),
		ValkeyAddr:   os.Getenv("QA_GUARDIAN_VALKEY_ADDR"),
		RabbitMQURL:  os.Getenv("QA_GUARDIAN_RABBITMQ_URL"),
		TickInterval: 30 * time.Second,
	}

	if raw := os.Getenv("QA_GUARDIAN_TICK_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			slog.Warn("Invalid QA_GUARDIAN_TICK_INTERVAL, using default",
				"value", raw, "default", cfg.TickInterval)
		} else {
			cfg.TickInterval = d
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
