package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	if err := os.WriteFile(path, []byte("[scheduler]\ntick_interval_seconds = 60\n"), DefaultFilePermissions); err != nil {
		t.Fatal(err)
	}

	cw, err := NewConfigWatcher(path)
	if err != nil {
		t.Fatalf("NewConfigWatcher() failed: %v", err)
	}
	defer cw.Stop()
	cw.debouncePeriod = 20 * time.Millisecond
	cw.load = func() (*Config, error) { return LoadFromFile(path) }

	reloaded := make(chan *Config, 4)
	cw.OnReload(func(c *Config) error {
		reloaded <- c
		return nil
	})
	cw.Start()

	// Backup files in the same directory never trigger a reload
	os.WriteFile(path+".back1", []byte("ignored"), DefaultFilePermissions)

	if err := os.WriteFile(path, []byte("[scheduler]\ntick_interval_seconds = 5\n"), DefaultFilePermissions); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-reloaded:
		if c.Scheduler.TickIntervalSeconds != 5 {
			t.Errorf("expected reloaded tick interval 5, got %d", c.Scheduler.TickIntervalSeconds)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestConfigWatcher_InvalidConfigKeepsCallbacksQuiet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	os.WriteFile(path, []byte(""), DefaultFilePermissions)

	cw, err := NewConfigWatcher(path)
	if err != nil {
		t.Fatalf("NewConfigWatcher() failed: %v", err)
	}
	defer cw.Stop()
	cw.load = func() (*Config, error) { return LoadFromFile(path) }

	called := false
	cw.OnReload(func(c *Config) error {
		called = true
		return nil
	})

	os.WriteFile(path, []byte("[notify]\nrate_per_minute = -1\n"), DefaultFilePermissions)
	if err := cw.reload(); err == nil {
		t.Error("expected reload error for invalid config")
	}
	if called {
		t.Error("callbacks must not see an invalid config")
	}
}

func TestConfigWatcher_OwnWriteFlag(t *testing.T) {
	cw := &ConfigWatcher{}

	if cw.checkOwnWrite() {
		t.Error("flag should start clear")
	}
	cw.MarkOwnWrite()
	if !cw.checkOwnWrite() {
		t.Error("expected own write to be reported once")
	}
	if cw.checkOwnWrite() {
		t.Error("flag should clear after being checked")
	}
}
