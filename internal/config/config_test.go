package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadJSONWithDefaults(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"logging": {"level": "DEBUG", "console": true},
		"queue": {"workers": 4}
	}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Fatalf("Level = %s", cfg.Logging.Level)
	}
	if cfg.Queue.Workers != 4 {
		t.Fatalf("Workers = %d", cfg.Queue.Workers)
	}
	// Defaults filled in.
	if cfg.Queue.PollInterval != "1s" {
		t.Fatalf("PollInterval = %s", cfg.Queue.PollInterval)
	}
	if cfg.Storage.Path == "" || cfg.Storage.JobsDir == "" {
		t.Fatalf("storage defaults missing: %+v", cfg.Storage)
	}
	if cfg.Cron.Enabled == nil || !*cfg.Cron.Enabled {
		t.Fatal("cron not enabled by default")
	}
	if cfg.Notifier.Sink != "log" {
		t.Fatalf("Sink = %s", cfg.Notifier.Sink)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: WARN
  console: true
cron:
  tick_interval: 5s
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "WARN" {
		t.Fatalf("Level = %s", cfg.Logging.Level)
	}
	if cfg.Cron.TickInterval != "5s" {
		t.Fatalf("TickInterval = %s", cfg.Cron.TickInterval)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "config.json", `{"loging": {"level": "INFO"}}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestLoadRejectsBadDurations(t *testing.T) {
	path := writeConfig(t, "config.json", `{"queue": {"poll_interval": "soon"}}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("bad duration accepted")
	}
}

func TestLoadRejectsCommandSinkWithoutCommand(t *testing.T) {
	path := writeConfig(t, "config.json", `{"notifier": {"sink": "command"}}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("command sink without command accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "ERROR")
	t.Setenv(EnvDataDir, "/tmp/minder-env-test")

	path := writeConfig(t, "config.json", `{"logging": {"level": "INFO"}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "ERROR" {
		t.Fatalf("Level = %s, want env override", cfg.Logging.Level)
	}
	if cfg.Storage.Path != filepath.Join("/tmp/minder-env-test", "tasks.db") {
		t.Fatalf("Path = %s", cfg.Storage.Path)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "90s"); err != nil || d != 90*time.Second {
		t.Fatalf("got (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative accepted")
	}
	if _, err := ParseDurationField("x", "nope"); err == nil {
		t.Fatal("garbage accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default = (%v, %v)", d, err)
	}
}

func TestSubscribePublishDropOldest(t *testing.T) {
	path := writeConfig(t, "config.json", `{}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	a, b := Default(), Default()
	b.Logging.Level = "DEBUG"
	m.publish(a)
	m.publish(b) // buffer full: a is dropped, b delivered

	got := <-ch
	if got.Logging.Level != "DEBUG" {
		t.Fatalf("got stale snapshot: %+v", got.Logging)
	}
}
