// Package notifier communicates completed task results and marks them
// delivered. It is the external notification component at the queue's
// boundary: the `delivered` flag and CountUndeliveredCompleted are the
// whole contract, so a crashed delivery simply stays undelivered and is
// picked up by the next sweep.
package notifier

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"minder/internal/eventbus"
	"minder/internal/storage"
	"minder/internal/taskqueue"
	logx "minder/pkg/logx"
)

// Sink is where results go (log line, subprocess, chat adapter...).
type Sink interface {
	Name() string
	Deliver(ctx context.Context, t *storage.Task) error
}

// Config controls the notifier service.
type Config struct {
	RatePerSec    int           // delivery rate limit, default 3
	SweepInterval time.Duration // catch-up sweep cadence, default 1m
}

// Service sweeps undelivered completed tasks into the sink. Event-driven
// sweeps (task.completed on the bus) keep latency low; the periodic
// sweep catches anything a crash or a failed delivery left behind.
type Service struct {
	queue   *taskqueue.Queue
	sink    Sink
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter
	cfg     Config

	mu       sync.Mutex
	stopCh   chan struct{}
	stopDone chan struct{}

	// sweepMu serializes sweeps so the event-driven path and the
	// maintenance chore can't deliver the same task twice.
	sweepMu sync.Mutex
}

func New(cfg Config, queue *taskqueue.Queue, sink Sink, bus eventbus.Bus, log logx.Logger) *Service {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		queue: queue,
		sink:  sink,
		bus:   bus,
		log:   log,
		cfg:   cfg,
		// Burst equals the rate so short spikes don't stall the sweep.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.stopDone = make(chan struct{})
	stopCh, done := s.stopCh, s.stopDone

	var events <-chan eventbus.Event
	unsubscribe := func() {}
	if s.bus != nil {
		events, unsubscribe = s.bus.Subscribe(16, eventbus.TopicTaskCompleted)
	}

	go func() {
		defer close(done)
		defer unsubscribe()
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				s.Sweep(ctx)
			case _, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				s.Sweep(ctx)
			}
		}
	}()
	s.log.Info("notifier started",
		logx.String("sink", s.sink.Name()),
		logx.Duration("sweep", s.cfg.SweepInterval))
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	stopCh, done := s.stopCh, s.stopDone
	s.stopCh, s.stopDone = nil, nil
	s.mu.Unlock()

	if stopCh == nil {
		return nil
	}
	close(stopCh)
	select {
	case <-done:
		s.log.Info("notifier stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep delivers every undelivered completed task once. A task is marked
// delivered only after the sink succeeds; failures leave it for the next
// sweep. The count of tasks delivered is returned.
func (s *Service) Sweep(ctx context.Context) int {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	tasks, err := s.queue.ListUndeliveredCompleted(ctx)
	if err != nil {
		s.log.Error("sweep: listing undelivered tasks failed", logx.Err(err))
		return 0
	}
	delivered := 0
	for _, t := range tasks {
		if err := s.limiter.Wait(ctx); err != nil {
			return delivered
		}
		if err := s.sink.Deliver(ctx, t); err != nil {
			s.log.Warn("delivery failed; task stays undelivered",
				logx.String("task", t.ID),
				logx.String("sink", s.sink.Name()),
				logx.Err(err))
			continue
		}
		if _, err := s.queue.MarkDelivered(ctx, t.ID); err != nil {
			s.log.Error("marking task delivered failed",
				logx.String("task", t.ID), logx.Err(err))
			continue
		}
		delivered++
	}
	if delivered > 0 {
		s.log.Debug("sweep delivered results", logx.Int("count", delivered))
	}
	return delivered
}
