package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseJSON(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"logging": {"level": "debug", "file": {"enabled": true, "path": "/tmp/t.log"}},
		"storage": {"path": "/var/lib/taskd/taskd.db", "busy_timeout": "5s"},
		"scheduler": {"timezone": "UTC", "retry_delay": "90s"},
		"notify": {"workers": 4, "telegram": {"token": "abc", "chat_id": 42}},
		"monitor": {"cpu_threshold": 70}
	}`)
	cfg, err := Parse("config.json", data)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.File.Enabled {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Path != "/var/lib/taskd/taskd.db" {
		t.Fatalf("storage path = %q", cfg.Storage.Path)
	}
	if cfg.Scheduler.RetryDelay != "90s" || cfg.Scheduler.Timezone != "UTC" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Notify.Telegram == nil || cfg.Notify.Telegram.ChatID != 42 {
		t.Fatalf("telegram = %+v", cfg.Notify.Telegram)
	}
	if cfg.Monitor.CPUThreshold != 70 {
		t.Fatalf("monitor = %+v", cfg.Monitor)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	data := []byte(`
logging:
  level: warn
scheduler:
  poll_interval: 2s
  dependency_window: 12h
notify:
  email:
    smtp_server: smtp.example.com
    username: ops@example.com
    password: secret
`)
	cfg, err := Parse("config.yaml", data)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if cfg.Scheduler.DependencyWindow != "12h" {
		t.Fatalf("dependency_window = %q", cfg.Scheduler.DependencyWindow)
	}
	if cfg.Notify.Email == nil || cfg.Notify.Email.SMTPServer != "smtp.example.com" {
		t.Fatalf("email = %+v", cfg.Notify.Email)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	if _, err := Parse("config.json", []byte(`{"shceduler": {}}`)); err == nil {
		t.Fatal("typoed section must be rejected")
	}
	if _, err := Parse("config.yaml", []byte("scheduler:\n  retry: 3\n")); err == nil {
		t.Fatal("unknown yaml key must be rejected")
	}
}

func TestLoadWritesDefaultOnMissingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Path != "./taskd.db" {
		t.Fatalf("default storage path = %q", cfg.Storage.Path)
	}
	if cfg.Monitor.DiskThreshold != 90 {
		t.Fatalf("default disk threshold = %v", cfg.Monitor.DiskThreshold)
	}

	// The file must now exist and round-trip.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if again.Storage.Path != cfg.Storage.Path {
		t.Fatal("reloaded defaults differ")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("x", "  90s "); err != nil || d != 90*time.Second {
		t.Fatalf("got %v/%v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v/%v", d, err)
	}
	if _, err := ParseDurationField("scheduler.retry_delay", "ninety"); err == nil ||
		!strings.Contains(err.Error(), "scheduler.retry_delay") {
		t.Fatalf("err = %v, should name the field", err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration must be rejected")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: got %v/%v", d, err)
	}
}
