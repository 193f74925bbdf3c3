package config

// Config is the daemon configuration. Files may be JSON or YAML; YAML is
// coerced to JSON so both formats share the strict decoder (unknown keys
// are rejected either way).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	// DataDir anchors relative storage defaults (tasks.db, jobs/).
	DataDir string `json:"data_dir,omitempty"`

	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Queue       QueueConfig       `json:"queue"`
	Cron        CronConfig        `json:"cron"`
	Runner      RunnerConfig      `json:"runner"`
	Notifier    NotifierConfig    `json:"notifier"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	// Path of the SQLite task database. Default: <data_dir>/tasks.db.
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// JobsDir holds one JSON file per cron job. Default: <data_dir>/jobs.
	JobsDir string `json:"jobs_dir,omitempty"`
}

type QueueConfig struct {
	Workers      int    `json:"workers,omitempty"`       // default 2
	PollInterval string `json:"poll_interval,omitempty"` // default "1s"
	TaskTimeout  string `json:"task_timeout,omitempty"`  // "0s" disables
}

type CronConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`       // default true
	TickInterval string `json:"tick_interval,omitempty"` // default "15s"
}

// RunnerConfig configures the default subprocess task handler: the task
// prompt goes to the command's stdin, stdout becomes the result.
type RunnerConfig struct {
	Command string   `json:"command,omitempty"` // empty disables the runner (echo handler)
	Args    []string `json:"args,omitempty"`
}

type NotifierConfig struct {
	Enabled *bool `json:"enabled,omitempty"` // default true
	// Sink is "log" or "command".
	Sink          string   `json:"sink,omitempty"`
	Command       string   `json:"command,omitempty"` // command sink only
	Args          []string `json:"args,omitempty"`
	RatePerSec    int      `json:"rate_per_sec,omitempty"`   // default 3
	SweepInterval string   `json:"sweep_interval,omitempty"` // default "1m"
}

// MaintenanceConfig holds the housekeeping schedules (robfig/cron specs,
// so "@every 15m" and 5-field expressions both work).
type MaintenanceConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`         // default true
	CheckpointSpec string `json:"checkpoint_spec,omitempty"` // default "@every 1h"
	HeartbeatSpec  string `json:"heartbeat_spec,omitempty"`  // default "@every 5m"
}
