package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime settings read from the environment.
type Config struct {
	AppEnv         string
	LogLevel       string
	LogFormat      string
	HTTPListenAddr string
	HTTPBasePath   string

	DatabaseURL    string
	SupabaseSchema string
	SupabaseUserID string

	LocalDBPath string
	QueueDBPath string

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisTLS         bool
	SnapshotCacheTTL time.Duration

	MetricsNamespace string

	SyncInterval       time.Duration
	SyncInitialDelay   time.Duration
	SyncBaseDelay      time.Duration
	SyncMaxRetries     int
	OnlineCheckTimeout time.Duration
	MigrationPause     time.Duration
}

// Load reads the configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8080"),
		HTTPBasePath:   strings.TrimSpace(os.Getenv("HTTP_BASE_PATH")),

		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SupabaseSchema: getEnv("SUPABASE_SCHEMA", "public"),
		SupabaseUserID: strings.TrimSpace(os.Getenv("SUPABASE_USER_ID")),

		LocalDBPath: getEnv("LOCAL_DB_PATH", "data/local.db"),
		QueueDBPath: getEnv("QUEUE_DB_PATH", "data/queue.db"),

		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		MetricsNamespace: getEnv("METRICS_NAMESPACE", "invoice_sync"),
	}

	var errs []error
	var err error

	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		errs = append(errs, err)
	}
	if cfg.RedisTLS, err = getBool("REDIS_TLS", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.SnapshotCacheTTL, err = getDuration("SNAPSHOT_CACHE_TTL", 10*time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.SyncInterval, err = getDuration("SYNC_INTERVAL", 5*time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.SyncInitialDelay, err = getDuration("SYNC_INITIAL_DELAY", 30*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.SyncBaseDelay, err = getDuration("SYNC_BASE_DELAY", time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.SyncMaxRetries, err = getInt("SYNC_MAX_RETRIES", 3); err != nil {
		errs = append(errs, err)
	}
	if cfg.OnlineCheckTimeout, err = getDuration("ONLINE_CHECK_TIMEOUT", 3*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.MigrationPause, err = getDuration("MIGRATION_PAUSE", 100*time.Millisecond); err != nil {
		errs = append(errs, err)
	}

	if cfg.SyncMaxRetries < 1 {
		errs = append(errs, fmt.Errorf("SYNC_MAX_RETRIES must be at least 1"))
	}
	if cfg.SyncInterval <= 0 {
		errs = append(errs, fmt.Errorf("SYNC_INTERVAL must be positive"))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// RequireRemote checks the settings needed to reach Supabase.
func (c *Config) RequireRemote() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}
	if c.SupabaseUserID == "" {
		errs = append(errs, fmt.Errorf("SUPABASE_USER_ID is required"))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// getDuration accepts Go duration strings ("90s", "5m") or plain seconds.
func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
