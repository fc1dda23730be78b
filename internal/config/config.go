package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/i474232898/weather-measurements/internal/common"
)

type AppConfig struct {
	AppEnv   string
	LogLevel slog.Level
	Port     string

	// Upstream measurement API.
	UpstreamBaseURL string
	HTTPTimeout     time.Duration

	// Stations are fetched in order and double as the ingestion allow-list.
	Stations []string

	// IngestInterval of 0 means a single run at startup.
	IngestInterval time.Duration
	LookbackDays   int
	LookaheadDays  int
	FetchSort      string
	FetchLimit     int

	DB DBConfig
}

type DBConfig struct {
	Driver          string // sqlite3, postgres or memory
	DSN             string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded", "err", err)
	}
	cfg := &AppConfig{}

	cfg.AppEnv = strings.TrimSpace(getenvDefault("APP_ENV", "dev"))
	switch cfg.AppEnv {
	case "dev", "prod":
	default:
		return nil, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", cfg.AppEnv)
	}

	level, err := parseLogLevel(getenvDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level
	cfg.Port = getenvDefault("PORT", "8080")

	cfg.UpstreamBaseURL = strings.TrimRight(getenvDefault("UPSTREAM_BASE_URL", "https://tecdottir.metaodi.ch"), "/")
	if u, err := url.Parse(cfg.UpstreamBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid UPSTREAM_BASE_URL %q", cfg.UpstreamBaseURL)
	}

	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if cfg.IngestInterval, err = getenvDuration("INGEST_INTERVAL", "0s"); err != nil {
		return nil, err
	}
	if cfg.IngestInterval < 0 {
		return nil, fmt.Errorf("invalid INGEST_INTERVAL %q: must not be negative", os.Getenv("INGEST_INTERVAL"))
	}

	cfg.Stations = splitList(getenvDefault("STATIONS", "tiefenbrunnen,mythenquai"))
	if len(cfg.Stations) == 0 {
		return nil, fmt.Errorf("STATIONS must name at least one station")
	}

	cfg.LookbackDays = getenvInt("INGEST_LOOKBACK_DAYS", 2)
	cfg.LookaheadDays = getenvInt("INGEST_LOOKAHEAD_DAYS", 1)
	if cfg.LookbackDays < 0 || cfg.LookaheadDays < 0 {
		return nil, fmt.Errorf("INGEST_LOOKBACK_DAYS and INGEST_LOOKAHEAD_DAYS must not be negative")
	}
	cfg.FetchSort = getenvDefault("FETCH_SORT", "timestamp_cet desc")
	cfg.FetchLimit = getenvInt("FETCH_LIMIT", 100)
	if cfg.FetchLimit <= 0 {
		return nil, fmt.Errorf("FETCH_LIMIT must be positive")
	}

	db, err := loadDB()
	if err != nil {
		return nil, err
	}
	cfg.DB = db

	return cfg, nil
}

func loadDB() (DBConfig, error) {
	db := DBConfig{
		Driver:       strings.TrimSpace(getenvDefault("DB_DRIVER", "sqlite3")),
		DSN:          strings.TrimSpace(os.Getenv("DB_DSN")),
		SQLitePath:   getenvDefault("SQLITE_PATH", "data/weather.db"),
		MaxOpenConns: getenvInt("DB_MAX_OPEN_CONNS", 4),
		MaxIdleConns: getenvInt("DB_MAX_IDLE_CONNS", 2),
	}
	switch db.Driver {
	case "sqlite3", "memory":
	case "postgres":
		if db.DSN == "" {
			return DBConfig{}, fmt.Errorf("DB_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return DBConfig{}, fmt.Errorf("invalid DB_DRIVER %q (allowed: sqlite3, postgres, memory)", db.Driver)
	}

	lifetime, err := getenvDuration("DB_CONN_MAX_LIFETIME", "0s")
	if err != nil {
		return DBConfig{}, err
	}
	db.ConnMaxLifetime = lifetime
	return db, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = common.NormalizeStation(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	raw := getenvDefault(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
