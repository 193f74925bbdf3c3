// Package maintenance runs the daemon's background chores on robfig
// cron specs: WAL checkpoints for the task database and a periodic
// heartbeat with queue statistics. Chores are internal housekeeping
// and are unrelated to user-defined jobs, which live in internal/cron.
package maintenance

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"minder/internal/storage"
	"minder/internal/taskqueue"
	logx "minder/pkg/logx"
)

// Chore is a named housekeeping function. Errors are logged, never fatal.
type Chore func(ctx context.Context) error

// Config holds the chore specs. Specs accept standard 5-field cron
// expressions plus descriptors like "@every 1h" and "@hourly".
type Config struct {
	CheckpointSpec string // default "@every 1h"
	HeartbeatSpec  string // default "@every 5m"
	ChoreTimeout   time.Duration
}

type choreDef struct {
	name  string
	spec  string
	fn    Chore
	entry cron.EntryID // zero until registered with the runner
}

// Service registers chores with an embedded cron runner. Chores added
// before Start are registered when it runs; Stop waits for in-flight
// chores to finish.
type Service struct {
	cfg    Config
	log    logx.Logger
	parser cron.Parser

	mu   sync.Mutex
	c    *cron.Cron
	defs []choreDef
}

func New(cfg Config, log logx.Logger) *Service {
	if cfg.ChoreTimeout <= 0 {
		cfg.ChoreTimeout = time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom |
			cron.Month | cron.Dow | cron.Descriptor),
	}
}

// AddChore registers a named chore. Re-adding a name replaces the
// previous definition so hot-reloads don't duplicate schedules.
func (s *Service) AddChore(name, spec string, fn Chore) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("maintenance: chore name required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.defs {
		if s.defs[i].name == name {
			if s.c != nil && s.defs[i].entry != 0 {
				s.c.Remove(s.defs[i].entry)
			}
			s.defs[i] = choreDef{name: name, spec: spec, fn: fn}
			return s.registerLocked(&s.defs[i])
		}
	}
	s.defs = append(s.defs, choreDef{name: name, spec: spec, fn: fn})
	return s.registerLocked(&s.defs[len(s.defs)-1])
}

func (s *Service) registerLocked(d *choreDef) error {
	if s.c == nil {
		return nil
	}
	id, err := s.c.AddFunc(d.spec, s.wrap(*d))
	if err != nil {
		s.log.Error("chore register failed",
			logx.String("chore", d.name), logx.String("spec", d.spec), logx.Err(err))
		return err
	}
	d.entry = id
	return nil
}

func (s *Service) wrap(d choreDef) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ChoreTimeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("chore panicked",
					logx.String("chore", d.name),
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())))
			}
		}()
		start := time.Now()
		if err := d.fn(ctx); err != nil {
			s.log.Warn("chore failed", logx.String("chore", d.name), logx.Err(err))
			return
		}
		s.log.Debug("chore done",
			logx.String("chore", d.name), logx.Duration("took", time.Since(start)))
	}
}

func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithParser(s.parser))
	for i := range s.defs {
		_ = s.registerLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("maintenance started", logx.Int("chores", len(s.defs)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("maintenance stopped")
}

// CheckpointChore truncates the SQLite WAL so it doesn't grow unbounded
// between restarts.
func CheckpointChore(store *storage.SQLiteStore) Chore {
	return func(ctx context.Context) error {
		return store.Checkpoint(ctx)
	}
}

// HeartbeatChore logs queue depth by status. Useful as a liveness
// breadcrumb when grepping daemon logs.
func HeartbeatChore(queue *taskqueue.Queue, log logx.Logger) Chore {
	return func(ctx context.Context) error {
		stats, err := queue.Stats(ctx)
		if err != nil {
			return err
		}
		log.Info("queue heartbeat",
			logx.Int("pending", stats[storage.StatusPending]),
			logx.Int("running", stats[storage.StatusRunning]),
			logx.Int("complete", stats[storage.StatusComplete]),
			logx.Int("failed", stats[storage.StatusFailed]))
		return nil
	}
}
