package app

import (
	"context"
	"fmt"
	"time"

	"minder/internal/config"
	"minder/internal/maintenance"
	"minder/internal/notifier"
	"minder/internal/runner"
	"minder/internal/storage"
	"minder/internal/taskqueue"
	logx "minder/pkg/logx"
)

func mapPoolConfig(cfg *config.Config) (taskqueue.PoolConfig, error) {
	poll, err := config.ParseDurationOrDefault("queue.poll_interval", cfg.Queue.PollInterval, time.Second)
	if err != nil {
		return taskqueue.PoolConfig{}, err
	}
	timeout, err := config.ParseDurationOrDefault("queue.task_timeout", cfg.Queue.TaskTimeout, 0)
	if err != nil {
		return taskqueue.PoolConfig{}, err
	}
	return taskqueue.PoolConfig{
		Workers:      cfg.Queue.Workers,
		PollInterval: poll,
		TaskTimeout:  timeout,
	}, nil
}

// buildHandler picks the task handler. With no runner command the daemon
// degrades to an echo handler, which keeps the queue usable for smoke
// tests and for setups where results are produced elsewhere.
func buildHandler(cfg *config.Config, log logx.Logger) (taskqueue.Handler, error) {
	if cfg.Runner.Command == "" {
		log.Warn("no runner command configured; tasks will echo their prompt")
		return func(ctx context.Context, t *storage.Task) (string, error) {
			return t.Prompt, nil
		}, nil
	}
	r, err := runner.New(runner.Config{
		Command: cfg.Runner.Command,
		Args:    cfg.Runner.Args,
	}, log.With(logx.String("comp", "runner")))
	if err != nil {
		return nil, err
	}
	return r.Handler(), nil
}

func mapNotifier(cfg *config.Config, log logx.Logger) (notifier.Config, notifier.Sink, error) {
	sweep, err := config.ParseDurationOrDefault("notifier.sweep_interval", cfg.Notifier.SweepInterval, time.Minute)
	if err != nil {
		return notifier.Config{}, nil, err
	}
	ncfg := notifier.Config{
		RatePerSec:    cfg.Notifier.RatePerSec,
		SweepInterval: sweep,
	}
	switch cfg.Notifier.Sink {
	case "", "log":
		return ncfg, notifier.LogSink{Log: log.With(logx.String("comp", "notify"))}, nil
	case "command":
		if cfg.Notifier.Command == "" {
			return notifier.Config{}, nil, fmt.Errorf("notifier.command is required for the command sink")
		}
		return ncfg, notifier.CommandSink{
			Command: cfg.Notifier.Command,
			Args:    cfg.Notifier.Args,
		}, nil
	default:
		return notifier.Config{}, nil, fmt.Errorf("notifier.sink: unknown sink %q", cfg.Notifier.Sink)
	}
}

func (a *App) registerChores(cfg *config.Config, ncfg notifier.Config) error {
	checkpoint := cfg.Maintenance.CheckpointSpec
	if checkpoint == "" {
		checkpoint = "@every 1h"
	}
	heartbeat := cfg.Maintenance.HeartbeatSpec
	if heartbeat == "" {
		heartbeat = "@every 5m"
	}

	if err := a.maint.AddChore("storage.checkpoint", checkpoint,
		maintenance.CheckpointChore(a.store)); err != nil {
		return fmt.Errorf("maintenance.checkpoint_spec: %w", err)
	}
	if err := a.maint.AddChore("queue.heartbeat", heartbeat,
		maintenance.HeartbeatChore(a.queue, a.log)); err != nil {
		return fmt.Errorf("maintenance.heartbeat_spec: %w", err)
	}
	if enabled(cfg.Notifier.Enabled) {
		spec := fmt.Sprintf("@every %s", ncfg.SweepInterval)
		if err := a.maint.AddChore("notifier.sweep", spec, func(ctx context.Context) error {
			a.notif.Sweep(ctx)
			return nil
		}); err != nil {
			return fmt.Errorf("notifier.sweep_interval: %w", err)
		}
	}
	return nil
}
