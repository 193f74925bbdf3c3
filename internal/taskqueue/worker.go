package taskqueue

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"minder/internal/storage"
	logx "minder/pkg/logx"
)

// Handler executes one claimed task and returns its result text. A nil
// error completes the task; anything else (including a panic, which the
// pool converts) fails it.
type Handler func(ctx context.Context, t *storage.Task) (string, error)

// PoolConfig controls the worker pool.
type PoolConfig struct {
	Workers      int           // default 2
	PollInterval time.Duration // idle poll cadence, default 1s
	TaskTimeout  time.Duration // per-task deadline, 0 disables
	WorkerPrefix string        // worker id prefix, default "worker"
}

// Pool runs N workers that drain the queue: claim, execute through the
// Handler, report back via Complete/Fail. Workers poll because claims go
// through the store; there is no in-memory channel to starve or lose.
type Pool struct {
	queue   *Queue
	handler Handler
	cfg     PoolConfig
	log     logx.Logger

	mu       sync.Mutex
	stopCh   chan struct{}
	stopDone chan struct{}
}

func NewPool(queue *Queue, handler Handler, cfg PoolConfig, log logx.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.WorkerPrefix == "" {
		cfg.WorkerPrefix = "worker"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pool{queue: queue, handler: handler, cfg: cfg, log: log}
}

// Start launches the workers. It is a no-op if the pool already runs.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh != nil {
		return
	}
	p.stopCh = make(chan struct{})
	p.stopDone = make(chan struct{})

	stopCh := p.stopCh
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		id := fmt.Sprintf("%s-%d", p.cfg.WorkerPrefix, i+1)
		go func(idx int) {
			defer wg.Done()
			p.run(ctx, stopCh, id, idx)
		}(i)
	}
	done := p.stopDone
	go func() {
		wg.Wait()
		close(done)
	}()
	p.log.Info("worker pool started", logx.Int("workers", p.cfg.Workers))
}

// Stop asks the workers to exit after their current task and waits until
// they have, or until ctx expires. An in-flight handler is not
// interrupted; if the process dies anyway, RecoverFromRestart reclaims
// the row on the next start.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	stopCh, done := p.stopCh, p.stopDone
	p.stopCh, p.stopDone = nil, nil
	p.mu.Unlock()

	if stopCh == nil {
		return nil
	}
	close(stopCh)
	select {
	case <-done:
		p.log.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) run(ctx context.Context, stopCh <-chan struct{}, workerID string, idx int) {
	// Per-worker RNG for poll jitter; avoids synchronized polling spikes.
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ (int64(idx) << 32)))

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		t, err := p.queue.Dequeue(ctx, workerID)
		if err != nil {
			p.log.Warn("dequeue failed", logx.String("worker", workerID), logx.Err(err))
			if !p.sleep(ctx, stopCh, p.backoff(rng)) {
				return
			}
			continue
		}
		if t == nil {
			if !p.sleep(ctx, stopCh, p.backoff(rng)) {
				return
			}
			continue
		}
		p.execOne(ctx, t, workerID)
	}
}

func (p *Pool) execOne(ctx context.Context, t *storage.Task, workerID string) {
	start := time.Now()

	runCtx := ctx
	var cancel context.CancelFunc
	if p.cfg.TaskTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
	}

	var result string
	var err error
	// Panic guard: one bad handler invocation must not kill the worker.
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				p.log.Error("handler panicked",
					logx.String("task", t.ID),
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())))
			}
		}()
		result, err = p.handler(runCtx, t)
	}()
	if cancel != nil {
		cancel()
	}

	// Reporting uses the parent ctx: a task timeout should not also
	// sabotage writing the failure back.
	if err != nil {
		if _, ferr := p.queue.Fail(ctx, t.ID, err.Error()); ferr != nil {
			p.log.Error("failed to record task failure",
				logx.String("task", t.ID), logx.Err(ferr))
		}
		return
	}
	if _, cerr := p.queue.Complete(ctx, t.ID, result); cerr != nil {
		p.log.Error("failed to record task result",
			logx.String("task", t.ID), logx.Err(cerr))
		return
	}
	p.log.Debug("task executed",
		logx.String("task", t.ID),
		logx.String("worker", workerID),
		logx.Duration("took", time.Since(start)))
}

func (p *Pool) backoff(rng *rand.Rand) time.Duration {
	// 10% jitter on the idle poll.
	j := int64(p.cfg.PollInterval) / 10
	if j <= 0 {
		return p.cfg.PollInterval
	}
	return p.cfg.PollInterval + time.Duration(rng.Int63n(j+1))
}

func (p *Pool) sleep(ctx context.Context, stopCh <-chan struct{}, d time.Duration) bool {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	case <-tmr.C:
		return true
	}
}
