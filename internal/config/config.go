package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store — какое хранилище обслуживает порты движка.
type Store string

const (
	StorePostgres Store = "postgres"
	StoreMemory   Store = "memory"
)

type Config struct {
	DatabaseURL   string
	Store         Store
	HTTPAddr      string
	LogLevel      string
	Env           string // dev|prod
	SentryDSN     string
	DBTimeout     time.Duration
	AuditInterval time.Duration // 0 — аудит счётчиков выключен
}

var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required for STORE=postgres")

// Load читает окружение; .env в рабочем каталоге подхватывается, если он есть.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbTimeout, err := durationEnv("DB_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	auditEvery, err := durationEnv("AUDIT_INTERVAL", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		Store:         Store(strings.ToLower(getenv("STORE", string(StorePostgres)))),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		Env:           getenv("ENV", "dev"),
		SentryDSN:     os.Getenv("SENTRY_DSN"),
		DBTimeout:     dbTimeout,
		AuditInterval: auditEvery,
	}
	switch cfg.Store {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, ErrMissingDatabaseURL
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("STORE: unknown store %q", cfg.Store)
	}
	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func durationEnv(k string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %s", k, d)
	}
	return d, nil
}
