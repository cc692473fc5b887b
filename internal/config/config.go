// Package config loads service settings from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"

	"sbahn_tracker/internal/collector"
	"sbahn_tracker/internal/ingest"
	"sbahn_tracker/internal/storage"
)

// Config holds all settings, populated from environment variables.
type Config struct {
	Storage storage.Config

	FeedBaseURL string
	Stations    []string // empty means all known stations

	NATSURL     string
	NATSSubject string

	LogLevel  string
	LogFormat string // "text" or "json"
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Load reads configuration from environment variables, applying
// defaults where unset.
func Load() (*Config, error) {
	st := storage.DefaultConfig()
	st.Backend = envOrDefault("SBAHN_STORAGE_BACKEND", st.Backend)
	st.SQLitePath = envOrDefault("SBAHN_DB_PATH", st.SQLitePath)

	st.Postgres.Host = envOrDefault("SBAHN_PG_HOST", st.Postgres.Host)
	st.Postgres.Database = envOrDefault("SBAHN_PG_DATABASE", st.Postgres.Database)
	st.Postgres.User = envOrDefault("SBAHN_PG_USER", st.Postgres.User)
	st.Postgres.Password = envOrDefault("SBAHN_PG_PASSWORD", st.Postgres.Password)
	if port, err := parsePort("SBAHN_PG_PORT", st.Postgres.Port); err != nil {
		return nil, err
	} else {
		st.Postgres.Port = port
	}

	st.ClickHouse.Host = envOrDefault("SBAHN_CH_HOST", st.ClickHouse.Host)
	st.ClickHouse.Database = envOrDefault("SBAHN_CH_DATABASE", st.ClickHouse.Database)
	st.ClickHouse.User = envOrDefault("SBAHN_CH_USER", st.ClickHouse.User)
	st.ClickHouse.Password = envOrDefault("SBAHN_CH_PASSWORD", st.ClickHouse.Password)
	if port, err := parsePort("SBAHN_CH_PORT", st.ClickHouse.Port); err != nil {
		return nil, err
	} else {
		st.ClickHouse.Port = port
	}
	st.MirrorOn = os.Getenv("SBAHN_CH_MIRROR") == "true"

	cfg := &Config{
		Storage:     st,
		FeedBaseURL: envOrDefault("SBAHN_FEED_URL", collector.DefaultBaseURL),
		NATSURL:     envOrDefault("SBAHN_NATS_URL", nats.DefaultURL),
		NATSSubject: envOrDefault("SBAHN_NATS_SUBJECT", ingest.DefaultSubject),
		LogLevel:    envOrDefault("SBAHN_LOG_LEVEL", "info"),
		LogFormat:   envOrDefault("SBAHN_LOG_FORMAT", "text"),
	}

	if s := os.Getenv("SBAHN_STATIONS"); s != "" {
		for _, name := range strings.Split(s, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.Stations = append(cfg.Stations, name)
			}
		}
	}

	switch cfg.Storage.Backend {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("invalid SBAHN_STORAGE_BACKEND %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == "sqlite" && cfg.Storage.SQLitePath == "" {
		return nil, fmt.Errorf("SBAHN_DB_PATH must not be empty")
	}

	return cfg, nil
}

func parsePort(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}
