package app

import (
	"context"
	"time"

	"minder/internal/config"
	"minder/internal/cron"
	"minder/internal/storage"
	"minder/internal/taskqueue"
	logx "minder/pkg/logx"
)

// Client is the lightweight handle CLI commands use. It shares the
// daemon's persistence (SQLite in WAL mode and the job files are safe
// across processes) but starts no background services.
type Client struct {
	Config *config.Config
	Queue  *taskqueue.Queue
	Sched  *cron.Scheduler

	store *storage.SQLiteStore
}

func OpenClient(cfgPath string) (*Client, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	log := logx.NewConsole("warn")

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log)
	if err != nil {
		return nil, err
	}
	queue := taskqueue.New(store, log, nil, time.Now)

	jobs, err := cron.NewFileStore(cfg.Storage.JobsDir, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	// Never started: the client only needs the job CRUD surface, the
	// running daemon picks changes up on its next tick.
	sched := cron.NewScheduler(jobs, func(context.Context, *cron.Job) error { return nil },
		cron.Config{}, log, nil)

	return &Client{Config: cfg, Queue: queue, Sched: sched, store: store}, nil
}

func (c *Client) Close() error { return c.store.Close() }
