package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides recognized after file parsing. A .env file in
// the working directory is loaded first (best-effort).
const (
	EnvLogLevel = "MINDERD_LOG_LEVEL"
	EnvDataDir  = "MINDERD_DATA_DIR"
)

// Default returns a complete standalone configuration.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields in place. It runs after every
// parse so partial config files stay valid.
func ApplyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./minder_data"
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "INFO"
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		cfg.Storage.Path = filepath.Join(cfg.DataDir, "tasks.db")
	}
	if strings.TrimSpace(cfg.Storage.JobsDir) == "" {
		cfg.Storage.JobsDir = filepath.Join(cfg.DataDir, "jobs")
	}
	if cfg.Queue.Workers <= 0 {
		cfg.Queue.Workers = 2
	}
	if strings.TrimSpace(cfg.Queue.PollInterval) == "" {
		cfg.Queue.PollInterval = "1s"
	}
	if cfg.Cron.Enabled == nil {
		t := true
		cfg.Cron.Enabled = &t
	}
	if strings.TrimSpace(cfg.Cron.TickInterval) == "" {
		cfg.Cron.TickInterval = "15s"
	}
	if cfg.Notifier.Enabled == nil {
		t := true
		cfg.Notifier.Enabled = &t
	}
	if strings.TrimSpace(cfg.Notifier.Sink) == "" {
		cfg.Notifier.Sink = "log"
	}
	if cfg.Notifier.RatePerSec <= 0 {
		cfg.Notifier.RatePerSec = 3
	}
	if strings.TrimSpace(cfg.Notifier.SweepInterval) == "" {
		cfg.Notifier.SweepInterval = "1m"
	}
	if cfg.Maintenance.Enabled == nil {
		t := true
		cfg.Maintenance.Enabled = &t
	}
	if strings.TrimSpace(cfg.Maintenance.CheckpointSpec) == "" {
		cfg.Maintenance.CheckpointSpec = "@every 1h"
	}
	if strings.TrimSpace(cfg.Maintenance.HeartbeatSpec) == "" {
		cfg.Maintenance.HeartbeatSpec = "@every 5m"
	}
}

// ApplyEnv loads a local .env (if present) and applies the MINDERD_*
// overrides on top of the parsed config.
func ApplyEnv(cfg *Config) {
	_ = godotenv.Load()
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDataDir)); v != "" {
		cfg.DataDir = v
		cfg.Storage.Path = filepath.Join(v, "tasks.db")
		cfg.Storage.JobsDir = filepath.Join(v, "jobs")
	}
}

// Validate checks the fields that cannot be defaulted away.
func Validate(cfg *Config) error {
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("queue.poll_interval", cfg.Queue.PollInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("queue.task_timeout", cfg.Queue.TaskTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("cron.tick_interval", cfg.Cron.TickInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("notifier.sweep_interval", cfg.Notifier.SweepInterval); err != nil {
		return err
	}
	switch cfg.Notifier.Sink {
	case "log", "command":
	default:
		return fmt.Errorf("notifier.sink: unknown sink %q", cfg.Notifier.Sink)
	}
	if cfg.Notifier.Sink == "command" && strings.TrimSpace(cfg.Notifier.Command) == "" {
		return fmt.Errorf("notifier.command is required for the command sink")
	}
	return nil
}
