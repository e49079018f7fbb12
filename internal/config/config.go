package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	// Store selects the ticket store: "postgres" or "memory".
	Store          string
	MigrateOnStart bool
	PolicyFile     string

	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration

	PrintEnabled      bool
	PrintSecret       string
	PrintStaleAfter   time.Duration
	PrintScanInterval time.Duration

	RateLimitPerMinute     int
	RateLimitBurst         int
	UserRateLimitPerMinute int
	UserRateLimitBurst     int

	RedisEnabled     bool
	SnapshotCacheTTL time.Duration
	CachePrefix      string

	LogFormat string
	LogLevel  string
}

// LoadEnvFile merges a dotenv file into the process environment. Variables
// already set win, and a missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	storeKind := strings.ToLower(strings.TrimSpace(os.Getenv("STORE")))
	if storeKind == "" {
		storeKind = "postgres"
	}

	return Config{
		Port:                   port,
		DatabaseURL:            os.Getenv("DB_DSN"),
		Store:                  storeKind,
		MigrateOnStart:         readBool("MIGRATE_ON_START", false),
		PolicyFile:             os.Getenv("POLICY_FILE"),
		JWTSecret:              os.Getenv("JWT_SECRET"),
		JWTIssuer:              readString("JWT_ISSUER", "walkin-queue"),
		TokenTTL:               readDuration("TOKEN_TTL_MINUTES", 720, time.Minute),
		PrintEnabled:           readBool("PRINT_SERVICE_ENABLED", false),
		PrintSecret:            os.Getenv("PRINT_SERVICE_SECRET"),
		PrintStaleAfter:        readDuration("PRINT_JOB_STALE_SECONDS", 120, time.Second),
		PrintScanInterval:      readDuration("PRINT_JOB_SCAN_INTERVAL_SECONDS", 30, time.Second),
		RateLimitPerMinute:     readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:         readInt("RATE_LIMIT_BURST", 30),
		UserRateLimitPerMinute: readInt("USER_RATE_LIMIT_PER_MIN", 600),
		UserRateLimitBurst:     readInt("USER_RATE_LIMIT_BURST", 120),
		RedisEnabled:           readBool("REDIS_ENABLED", false),
		SnapshotCacheTTL:       readDuration("SNAPSHOT_CACHE_TTL_MS", 1000, time.Millisecond),
		CachePrefix:            readString("CACHE_PREFIX", "walkin"),
		LogFormat:              readString("LOG_FORMAT", "text"),
		LogLevel:               readString("LOG_LEVEL", "info"),
	}
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.Store {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DB_DSN is required for the postgres store")
		}
	case "memory":
	default:
		return errors.New("STORE must be postgres or memory")
	}
	if c.PrintEnabled && c.PrintSecret == "" {
		return errors.New("PRINT_SERVICE_SECRET is required when printing is enabled")
	}
	return nil
}

func readString(key, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	return raw
}

func readDuration(key string, fallback int, unit time.Duration) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * unit
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
