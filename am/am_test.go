package am

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	// Isolated viper instance without user/system config
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	if cfg.Database.Path != "accessai.db" {
		t.Errorf("expected default database path 'accessai.db', got %q", cfg.Database.Path)
	}
	if cfg.Scheduler.TickInterval() != time.Minute {
		t.Errorf("expected 1m tick interval, got %v", cfg.Scheduler.TickInterval())
	}
	if cfg.Scheduler.JobTimeout() != 10*time.Minute {
		t.Errorf("expected 10m job timeout, got %v", cfg.Scheduler.JobTimeout())
	}
	if cfg.Scheduler.RetentionPerJob != 500 {
		t.Errorf("expected retention 500, got %d", cfg.Scheduler.RetentionPerJob)
	}
	if cfg.Scheduler.RetentionMaxAge() != 90*24*time.Hour {
		t.Errorf("expected 90 day retention, got %v", cfg.Scheduler.RetentionMaxAge())
	}
	if cfg.Experiments.DefaultConfidenceLevel != 95 || cfg.Experiments.DefaultMinSampleSize != 100 {
		t.Errorf("unexpected experiment defaults: %+v", cfg.Experiments)
	}
	if cfg.Notify.RatePerMinute != 30 || cfg.Notify.QueueSize != 64 {
		t.Errorf("unexpected notify defaults: %+v", cfg.Notify)
	}
	if cfg.Notify.Telegram.Enabled() {
		t.Error("telegram should be disabled without a token")
	}
	if cfg.Metrics.Addr != ":9464" {
		t.Errorf("expected metrics addr :9464, got %q", cfg.Metrics.Addr)
	}
}

func TestValidate(t *testing.T) {
	off := false
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"zero tick interval", func(c *Config) { c.Scheduler.TickIntervalSeconds = 0 }, "tick_interval_seconds"},
		{"negative job timeout", func(c *Config) { c.Scheduler.JobTimeoutSeconds = -1 }, "job_timeout_seconds"},
		{"zero retention is unlimited", func(c *Config) { c.Scheduler.RetentionPerJob = 0 }, ""},
		{"negative retention", func(c *Config) { c.Scheduler.RetentionPerJob = -1 }, "retention_per_job"},
		{"zero retention days disables cleanup", func(c *Config) { c.Scheduler.RetentionDays = 0 }, ""},
		{"confidence too low", func(c *Config) { c.Experiments.DefaultConfidenceLevel = 79 }, "default_confidence_level"},
		{"confidence too high", func(c *Config) { c.Experiments.DefaultConfidenceLevel = 100 }, "default_confidence_level"},
		{"zero sample size", func(c *Config) { c.Experiments.DefaultMinSampleSize = 0 }, "default_min_sample_size"},
		{"zero notify rate", func(c *Config) { c.Notify.RatePerMinute = 0 }, "rate_per_minute"},
		{"token without chats", func(c *Config) { c.Notify.Telegram.Token = "123:abc" }, "chat_ids"},
		{"override without id", func(c *Config) {
			c.Scheduler.Jobs = []JobOverride{{Enabled: &off}}
		}, "id is required"},
		{"duplicate override", func(c *Config) {
			c.Scheduler.Jobs = []JobOverride{{ID: "a"}, {ID: "a"}}
		}, "more than one"},
		{"bad override schedule", func(c *Config) {
			c.Scheduler.Jobs = []JobOverride{{ID: "a", Schedule: "every tuesday"}}
		}, "schedule"},
		{"descriptor schedule", func(c *Config) {
			c.Scheduler.Jobs = []JobOverride{{ID: "a", Schedule: "@hourly"}}
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error %q does not mention %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	content := `
[database]
path = "/var/lib/accessai/accessai.db"

[scheduler]
tick_interval_seconds = 30

[[scheduler.jobs]]
id = "experiments.autocomplete"
schedule = "*/5 * * * *"

[[scheduler.jobs]]
id = "ledger.cleanup"
enabled = false

[notify.telegram]
token = "123:abc"
chat_ids = [1001, -1002]
`
	if err := os.WriteFile(path, []byte(content), DefaultFilePermissions); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}

	if cfg.Database.Path != "/var/lib/accessai/accessai.db" {
		t.Errorf("unexpected database path %q", cfg.Database.Path)
	}
	if cfg.Scheduler.TickIntervalSeconds != 30 {
		t.Errorf("expected tick interval 30, got %d", cfg.Scheduler.TickIntervalSeconds)
	}
	// Unset keys in a set section keep their defaults
	if cfg.Scheduler.JobTimeoutSeconds != DefaultJobTimeoutSeconds {
		t.Errorf("expected default job timeout, got %d", cfg.Scheduler.JobTimeoutSeconds)
	}

	ac, ok := cfg.Scheduler.Override("experiments.autocomplete")
	if !ok {
		t.Fatal("expected override for experiments.autocomplete")
	}
	if ac.Schedule != "*/5 * * * *" || ac.Enabled != nil {
		t.Errorf("unexpected autocomplete override %+v", ac)
	}

	cleanup, ok := cfg.Scheduler.Override("ledger.cleanup")
	if !ok || cleanup.Enabled == nil || *cleanup.Enabled {
		t.Errorf("expected ledger.cleanup disabled, got %+v", cleanup)
	}

	if _, ok := cfg.Scheduler.Override("unknown"); ok {
		t.Error("unexpected override for unknown job")
	}

	if !cfg.Notify.Telegram.Enabled() {
		t.Error("telegram should be enabled")
	}
	if len(cfg.Notify.Telegram.ChatIDs) != 2 || cfg.Notify.Telegram.ChatIDs[1] != -1002 {
		t.Errorf("unexpected chat ids %v", cfg.Notify.Telegram.ChatIDs)
	}
	if strings.Contains(cfg.String(), "123:abc") {
		t.Error("String() must not print the telegram token")
	}
}

func TestLoadFromFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	os.WriteFile(path, []byte("[experiments]\ndefault_confidence_level = 50\n"), DefaultFilePermissions)

	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected validation error for confidence 50")
	}

	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFindProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("walks up to am.toml", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test1", "subdir")
		os.MkdirAll(subDir, DefaultDirPermissions)
		os.WriteFile(filepath.Join(tmpDir, "test1", "am.toml"), []byte(""), DefaultFilePermissions)

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(subDir)

		result := findProjectConfig()
		if result == "" {
			t.Fatal("expected to find config file")
		}
		if !filepath.IsAbs(result) {
			t.Error("expected absolute path")
		}
		if filepath.Base(result) != "am.toml" {
			t.Errorf("expected am.toml, got %s", filepath.Base(result))
		}
	})

	t.Run("no config found", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test2", "subdir")
		os.MkdirAll(subDir, DefaultDirPermissions)

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(subDir)

		if result := findProjectConfig(); result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})
}

func TestGetDatabasePath_EnvOverride(t *testing.T) {
	t.Setenv("DB_PATH", "/tmp/dev.db")

	path, err := GetDatabasePath()
	if err != nil {
		t.Fatalf("GetDatabasePath() failed: %v", err)
	}
	if path != "/tmp/dev.db" {
		t.Errorf("expected DB_PATH to win, got %q", path)
	}
}
