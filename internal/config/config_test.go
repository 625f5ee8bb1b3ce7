package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"SYNC_INTERVAL", "SYNC_MAX_RETRIES", "SYNC_BASE_DELAY", "REDIS_DB", "REDIS_TLS", "MIGRATION_PAUSE", "HTTP_LISTEN_ADDR"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SyncInterval != 5*time.Minute || cfg.SyncInitialDelay != 30*time.Second {
		t.Fatalf("sync timings = %v/%v", cfg.SyncInterval, cfg.SyncInitialDelay)
	}
	if cfg.SyncBaseDelay != time.Second || cfg.SyncMaxRetries != 3 {
		t.Fatalf("retry settings = %v/%d", cfg.SyncBaseDelay, cfg.SyncMaxRetries)
	}
	if cfg.MigrationPause != 100*time.Millisecond {
		t.Fatalf("migration pause = %v", cfg.MigrationPause)
	}
	if cfg.HTTPListenAddr != ":8080" {
		t.Fatalf("listen addr = %q", cfg.HTTPListenAddr)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SYNC_INTERVAL", "120")
	t.Setenv("SYNC_BASE_DELAY", "250ms")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SyncInterval != 2*time.Minute {
		t.Fatalf("interval = %v", cfg.SyncInterval)
	}
	if cfg.SyncBaseDelay != 250*time.Millisecond {
		t.Fatalf("base delay = %v", cfg.SyncBaseDelay)
	}
	if !cfg.RedisTLS || cfg.RedisDB != 2 {
		t.Fatalf("redis = tls:%v db:%d", cfg.RedisTLS, cfg.RedisDB)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"SYNC_MAX_RETRIES": "0",
		"SYNC_INTERVAL":    "soon",
		"REDIS_TLS":        "maybe",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, val)
			}
		})
	}
}

func TestRequireRemote(t *testing.T) {
	cfg := &Config{}
	if err := cfg.RequireRemote(); err == nil {
		t.Fatal("expected error without database url")
	}
	cfg.DatabaseURL = "postgres://localhost/db"
	cfg.SupabaseUserID = "8f9c0e5e-1f2a-4b3c-9d4e-5f6a7b8c9d0e"
	if err := cfg.RequireRemote(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
