package cron

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"minder/internal/eventbus"
	logx "minder/pkg/logx"
)

// ExecuteFunc is the caller-supplied dispatch hook. The hosting process
// decides what firing a job means (typically: enqueue a task built from
// the job payload). Errors and panics are contained at the scheduler
// boundary; they never stop the tick loop.
type ExecuteFunc func(ctx context.Context, job *Job) error

// Config controls the scheduler loop.
type Config struct {
	TickInterval time.Duration    // default 15s
	Now          func() time.Time // injectable clock, default time.Now
}

// JobInput is the creation payload. ID is optional; one is generated
// when empty.
type JobInput struct {
	ID          string
	Name        string
	Description string
	Schedule    string
	Timezone    string
	CreatedBy   string
	MaxRuns     *int
	Payload     Payload
	Tags        []string
}

// JobPatch is a partial update; nil fields are left untouched.
type JobPatch struct {
	Name        *string
	Description *string
	Schedule    *string
	Timezone    *string
	Status      *JobStatus
	MaxRuns     *int
	Payload     *Payload
	Tags        *[]string
}

// Scheduler evaluates stored jobs on a timer and fires the due ones.
// The loop is one goroutine: a tick runs to completion before the next
// begins, so the same job is never evaluated twice concurrently.
type Scheduler struct {
	store     Store
	onExecute ExecuteFunc
	interval  time.Duration
	now       func() time.Time
	log       logx.Logger
	bus       eventbus.Bus

	mu       sync.Mutex
	stopCh   chan struct{}
	stopDone chan struct{}
}

func NewScheduler(store Store, onExecute ExecuteFunc, cfg Config, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 15 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		store:     store,
		onExecute: onExecute,
		interval:  cfg.TickInterval,
		now:       cfg.Now,
		log:       log,
		bus:       bus,
	}
}

// ---- job management ----

func (s *Scheduler) Create(ctx context.Context, in JobInput) (*Job, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidJob)
	}
	sched, err := ParseSchedule(in.Schedule)
	if err != nil {
		return nil, err
	}
	if in.MaxRuns != nil && *in.MaxRuns <= 0 {
		return nil, fmt.Errorf("%w: maxRuns must be positive", ErrInvalidJob)
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now()
	job := &Job{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Schedule:    in.Schedule,
		Timezone:    in.Timezone,
		Status:      JobActive,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
		MaxRuns:     in.MaxRuns,
		Payload:     in.Payload,
		Tags:        in.Tags,
	}
	if next, ok := sched.Next(now); ok {
		job.NextRunAt = &next
	}
	if err := s.store.Create(job); err != nil {
		return nil, err
	}
	s.log.Info("job created",
		logx.String("job", job.ID),
		logx.String("name", job.Name),
		logx.String("schedule", job.Schedule))
	s.publish(eventbus.TopicJobCreated, job)
	return job.Clone(), nil
}

func (s *Scheduler) Update(ctx context.Context, id string, patch JobPatch) (*Job, error) {
	job, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}

	if patch.Schedule != nil {
		if _, err := ParseSchedule(*patch.Schedule); err != nil {
			return nil, err
		}
		job.Schedule = *patch.Schedule
	}
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidJob)
		}
		job.Name = *patch.Name
	}
	if patch.Description != nil {
		job.Description = *patch.Description
	}
	if patch.Timezone != nil {
		job.Timezone = *patch.Timezone
	}
	if patch.Status != nil {
		switch *patch.Status {
		case JobActive, JobPaused, JobCompleted:
			job.Status = *patch.Status
		default:
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidJob, *patch.Status)
		}
	}
	if patch.MaxRuns != nil {
		if *patch.MaxRuns <= 0 {
			return nil, fmt.Errorf("%w: maxRuns must be positive", ErrInvalidJob)
		}
		job.MaxRuns = patch.MaxRuns
	}
	if patch.Payload != nil {
		job.Payload = *patch.Payload
	}
	if patch.Tags != nil {
		job.Tags = *patch.Tags
	}

	now := s.now()
	job.UpdatedAt = now
	job.NextRunAt = nil
	if job.Status == JobActive {
		if sched, err := ParseSchedule(job.Schedule); err == nil {
			if next, ok := sched.Next(now); ok {
				job.NextRunAt = &next
			}
		}
	}
	if err := s.store.Save(job); err != nil {
		return nil, err
	}
	s.log.Info("job updated", logx.String("job", job.ID))
	s.publish(eventbus.TopicJobUpdated, job)
	return job.Clone(), nil
}

func (s *Scheduler) Remove(ctx context.Context, id string) error {
	ok, err := s.store.Delete(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	s.log.Info("job removed", logx.String("job", id))
	s.publish(eventbus.TopicJobRemoved, id)
	return nil
}

func (s *Scheduler) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.store.List()
}

func (s *Scheduler) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(id)
}

// ---- the loop ----

// Start begins the tick loop. It is a no-op if the loop already runs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.stopDone = make(chan struct{})
	stopCh, done := s.stopCh, s.stopDone

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				// tick runs synchronously here; the ticker drops beats
				// while a slow pass is still executing, so passes never
				// overlap.
				s.Tick(ctx)
			}
		}
	}()
	s.log.Info("scheduler started", logx.Duration("tick", s.interval))
}

// Stop cancels future ticks. It does not interrupt an in-flight pass;
// it waits for it to finish (or for ctx to expire).
func (s *Scheduler) Stop(ctx context.Context) error {
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
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick runs one evaluation pass. Exposed so tests (and the maintenance
// CLI) can drive the scheduler with a fake clock instead of waiting on
// the timer.
func (s *Scheduler) Tick(ctx context.Context) {
	jobs, err := s.store.List()
	if err != nil {
		s.log.Error("tick: loading jobs failed", logx.Err(err))
		return
	}
	now := s.now()
	for _, job := range jobs {
		if job.Status != JobActive {
			continue
		}
		sched, err := ParseSchedule(job.Schedule)
		if err != nil {
			s.log.Warn("tick: skipping job with bad schedule",
				logx.String("job", job.ID), logx.Err(err))
			continue
		}
		if !sched.Matches(now) {
			continue
		}
		// A schedule stays due for its whole matching minute; one fire
		// per minute, tracked via lastRunAt.
		if job.LastRunAt != nil && job.LastRunAt.Truncate(time.Minute).Equal(now.Truncate(time.Minute)) {
			continue
		}
		s.fire(ctx, job, sched, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, job *Job, sched *Schedule, now time.Time) {
	err := s.invoke(ctx, job.Clone())
	if err != nil {
		s.log.Error("job execution failed",
			logx.String("job", job.ID),
			logx.String("name", job.Name),
			logx.Err(err))
		s.publish(eventbus.TopicJobFailed, job.Clone())
	} else {
		s.log.Info("job fired",
			logx.String("job", job.ID), logx.String("name", job.Name))
		s.publish(eventbus.TopicJobFired, job.Clone())
	}

	// Bookkeeping is recorded whether or not the handler succeeded: the
	// job has fired for this minute and there is no automatic retry.
	job.RunCount++
	fired := now
	job.LastRunAt = &fired
	job.UpdatedAt = now
	job.NextRunAt = nil
	if job.MaxRuns != nil && job.RunCount >= *job.MaxRuns {
		job.Status = JobCompleted
		s.log.Info("job reached max runs",
			logx.String("job", job.ID), logx.Int("runs", job.RunCount))
		s.publish(eventbus.TopicJobCompleted, job.Clone())
	} else if next, ok := sched.Next(now); ok {
		job.NextRunAt = &next
	}
	if err := s.store.Save(job); err != nil {
		s.log.Error("persisting run bookkeeping failed",
			logx.String("job", job.ID), logx.Err(err))
	}
}

func (s *Scheduler) invoke(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job handler panicked",
				logx.String("job", job.ID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()
	if s.onExecute == nil {
		return nil
	}
	return s.onExecute(ctx, job)
}

func (s *Scheduler) publish(topic eventbus.Topic, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Topic: topic, Time: s.now(), Data: data})
}
