package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "STORE_DRIVER", "JWT_TTL_HOURS", "AUTH_CLOCK_SKEW_SECONDS", "LOG_LEVEL", "LOG_FORMAT"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Port)
	}
	if cfg.StoreDriver != DriverPostgres {
		t.Errorf("expected postgres driver, got %s", cfg.StoreDriver)
	}
	if cfg.JWTTTL != 24*time.Hour {
		t.Errorf("expected 24h token ttl, got %v", cfg.JWTTTL)
	}
	if cfg.AuthClockSkew != 5*time.Minute {
		t.Errorf("expected 5m skew, got %v", cfg.AuthClockSkew)
	}
	if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != "json" {
		t.Errorf("unexpected log settings: %v %s", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "LevelDB")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "not-a-number")
	t.Setenv("RECONCILE_INTERVAL_HOURS", "0.5")
	t.Setenv("AUTH_CLOCK_SKEW_SECONDS", "30")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()
	if cfg.StoreDriver != DriverLevelDB {
		t.Errorf("expected leveldb driver, got %s", cfg.StoreDriver)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Errorf("expected rps 2.5, got %v", cfg.RateLimitRPS)
	}
	if cfg.RateLimitBurst != 20 {
		t.Errorf("expected fallback burst 20, got %d", cfg.RateLimitBurst)
	}
	if cfg.ReconcileInterval != 30*time.Minute {
		t.Errorf("expected 30m interval, got %v", cfg.ReconcileInterval)
	}
	if cfg.AuthClockSkew != 30*time.Second {
		t.Errorf("expected 30s skew, got %v", cfg.AuthClockSkew)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			StoreDriver:       DriverMemory,
			JWTSecret:         testSecret,
			JWTTTL:            time.Hour,
			RateLimitRPS:      1,
			RateLimitBurst:    1,
			ReconcileInterval: time.Hour,
			LogFormat:         "json",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown driver", func(c *Config) { c.StoreDriver = "redis" }, "STORE_DRIVER"},
		{"postgres without url", func(c *Config) { c.StoreDriver = DriverPostgres }, "DATABASE_URL"},
		{"leveldb without path", func(c *Config) { c.StoreDriver = DriverLevelDB }, "LEVELDB_PATH"},
		{"short secret", func(c *Config) { c.JWTSecret = "short" }, "JWT_SECRET"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"zero burst", func(c *Config) { c.RateLimitBurst = 0 }, "RATE_LIMIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	t.Run("missing file is ignored", func(t *testing.T) {
		if err := LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("does not override existing variables", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		content := "UNLOCKD_TEST_A=from-file\nUNLOCKD_TEST_B=from-file\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		t.Setenv("UNLOCKD_TEST_A", "from-env")
		t.Setenv("UNLOCKD_TEST_B", "")
		os.Unsetenv("UNLOCKD_TEST_B")

		if err := LoadEnvFile(path); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := os.Getenv("UNLOCKD_TEST_A"); got != "from-env" {
			t.Errorf("expected env to win, got %s", got)
		}
		if got := os.Getenv("UNLOCKD_TEST_B"); got != "from-file" {
			t.Errorf("expected file value, got %s", got)
		}
	})
}
