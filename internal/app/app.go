// Package app wires the daemon together: config, logging, storage,
// queue, workers, cron scheduler, notifier and maintenance chores, with
// ordered startup and shutdown.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"minder/internal/config"
	"minder/internal/cron"
	"minder/internal/eventbus"
	"minder/internal/maintenance"
	"minder/internal/notifier"
	"minder/internal/runtime/supervisor"
	"minder/internal/storage"
	"minder/internal/taskqueue"
	logx "minder/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store *storage.SQLiteStore
	queue *taskqueue.Queue
	pool  *taskqueue.Pool
	jobs  *cron.FileStore
	sched *cron.Scheduler
	notif *notifier.Service
	maint *maintenance.Service

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	queue := taskqueue.New(store, log.With(logx.String("comp", "queue")), bus, time.Now)

	handler, err := buildHandler(cfg, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	poolCfg, err := mapPoolConfig(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	pool := taskqueue.NewPool(queue, handler, poolCfg, log.With(logx.String("comp", "workers")))

	jobs, err := cron.NewFileStore(cfg.Storage.JobsDir, log.With(logx.String("comp", "jobstore")))
	if err != nil {
		store.Close()
		return nil, err
	}
	tick, err := config.ParseDurationOrDefault("cron.tick_interval", cfg.Cron.TickInterval, 15*time.Second)
	if err != nil {
		store.Close()
		return nil, err
	}
	sched := cron.NewScheduler(jobs, executeViaQueue(queue), cron.Config{TickInterval: tick},
		log.With(logx.String("comp", "cron")), bus)

	notifCfg, sink, err := mapNotifier(cfg, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	notif := notifier.New(notifCfg, queue, sink, bus, log.With(logx.String("comp", "notifier")))

	maint := maintenance.New(maintenance.Config{}, log.With(logx.String("comp", "maintenance")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		queue:   queue,
		pool:    pool,
		jobs:    jobs,
		sched:   sched,
		notif:   notif,
		maint:   maint,
	}
	if err := a.registerChores(cfg, notifCfg); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

// Queue exposes the task queue to the CLI commands.
func (a *App) Queue() *taskqueue.Queue { return a.queue }

// Scheduler exposes the cron scheduler to the CLI commands.
func (a *App) Scheduler() *cron.Scheduler { return a.sched }

// Logger is the root application logger.
func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err reports the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start brings the daemon up. Interrupted work from a previous run is
// failed (retryable) before any worker can claim tasks.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError())

	recovered, err := a.queue.RecoverFromRestart(a.sup.Context())
	if err != nil {
		return fmt.Errorf("crash recovery: %w", err)
	}
	if recovered > 0 {
		a.log.Warn("recovered interrupted tasks", logx.Int("count", recovered))
	}

	cfg := a.cfgm.Get()

	if enabled(cfg.Notifier.Enabled) {
		a.notif.Start(a.sup.Context())
	}
	a.pool.Start(a.sup.Context())
	if enabled(cfg.Cron.Enabled) {
		a.sched.Start(a.sup.Context())
	}
	if enabled(cfg.Maintenance.Enabled) {
		a.maint.Start(a.sup.Context())
	}

	// Config hot reload: the watcher republishes validated snapshots;
	// only logging changes apply live, the rest warn about a restart.
	a.cfgm.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, supervisor.RestartConfig{MinBackoff: time.Second, MaxBackoff: time.Minute})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyReload(newCfg)
			}
		}
	})

	a.log.Info("daemon started",
		logx.Int("workers", a.poolWorkers(cfg)),
		logx.Bool("cron", enabled(cfg.Cron.Enabled)),
		logx.Bool("notifier", enabled(cfg.Notifier.Enabled)))
	return nil
}

func (a *App) poolWorkers(cfg *config.Config) int {
	if cfg.Queue.Workers > 0 {
		return cfg.Queue.Workers
	}
	return 2
}

func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.log.Info("config reloaded", logx.String("level", cfg.Logging.Level))
}

// Stop shuts components down in reverse dependency order: stop feeding
// work first, then drain the workers, then the storage layer.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping daemon")

	a.maint.Stop(ctx)
	if err := a.sched.Stop(ctx); err != nil {
		a.log.Warn("cron scheduler stop", logx.Err(err))
	}
	if err := a.pool.Stop(ctx); err != nil {
		a.log.Warn("worker pool stop", logx.Err(err))
	}
	if err := a.notif.Stop(ctx); err != nil {
		a.log.Warn("notifier stop", logx.Err(err))
	}

	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			a.log.Warn("supervisor stop", logx.Err(err))
		}
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	a.log.Info("daemon stopped")
	return nil
}

func enabled(b *bool) bool { return b == nil || *b }

// executeViaQueue turns a fired cron job into an enqueued task. The
// only supported payload action is "task.enqueue" (the default when
// empty); its "prompt" parameter becomes the task prompt and
// "conversation" is optional.
func executeViaQueue(queue *taskqueue.Queue) cron.ExecuteFunc {
	return func(ctx context.Context, job *cron.Job) error {
		if job.Payload.Action != "" && job.Payload.Action != "task.enqueue" {
			return fmt.Errorf("job %s: unsupported action %q", job.ID, job.Payload.Action)
		}
		prompt, _ := job.Payload.Parameters["prompt"].(string)
		if strings.TrimSpace(prompt) == "" {
			return fmt.Errorf("job %s: payload parameter %q is required", job.ID, "prompt")
		}
		conversation, _ := job.Payload.Parameters["conversation"].(string)
		_, err := queue.Enqueue(ctx, prompt, taskqueue.EnqueueOptions{ConversationID: conversation})
		return err
	}
}
