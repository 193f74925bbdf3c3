package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"minder/internal/eventbus"
	logx "minder/pkg/logx"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingHandler struct {
	mu    sync.Mutex
	calls []string
	err   error
	panic bool
}

func (h *recordingHandler) execute(ctx context.Context, job *Job) error {
	h.mu.Lock()
	h.calls = append(h.calls, job.ID)
	h.mu.Unlock()
	if h.panic {
		panic("handler exploded")
	}
	return h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func newTestScheduler(t *testing.T, clock *fakeClock, h *recordingHandler) *Scheduler {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return NewScheduler(store, h.execute, Config{Now: clock.Now}, logx.Nop(), eventbus.New())
}

func TestTickFiresDueJobOncePerMinute(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Date(2026, 8, 24, 9, 0, 10, 0, time.UTC))
	h := &recordingHandler{}
	s := newTestScheduler(t, clock, h)
	ctx := context.Background()

	job, err := s.Create(ctx, JobInput{Name: "every minute", Schedule: "* * * * *"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Several ticks inside the same minute: exactly one fire.
	for i := 0; i < 4; i++ {
		s.Tick(ctx)
		clock.Advance(10 * time.Second)
	}
	if h.count() != 1 {
		t.Fatalf("fires within one minute = %d, want 1", h.count())
	}

	// Next minute: fires again.
	clock.Advance(time.Minute)
	s.Tick(ctx)
	if h.count() != 2 {
		t.Fatalf("fires after minute advance = %d, want 2", h.count())
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RunCount != 2 {
		t.Fatalf("RunCount = %d, want 2", got.RunCount)
	}
	if got.LastRunAt == nil {
		t.Fatal("LastRunAt not recorded")
	}
}

func TestTickSkipsNotDueJob(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Date(2026, 8, 24, 8, 30, 0, 0, time.UTC))
	h := &recordingHandler{}
	s := newTestScheduler(t, clock, h)
	ctx := context.Background()

	if _, err := s.Create(ctx, JobInput{Name: "nine sharp", Schedule: "0 9 * * *"}); err != nil {
		t.Fatal(err)
	}

	s.Tick(ctx)
	if h.count() != 0 {
		t.Fatalf("fired at 8:30 for a 9:00 schedule")
	}

	clock.Advance(30 * time.Minute)
	s.Tick(ctx)
	if h.count() != 1 {
		t.Fatalf("fires at 9:00 = %d, want 1", h.count())
	}
}

func TestPausedJobNeverFires(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC))
	h := &recordingHandler{}
	s := newTestScheduler(t, clock, h)
	ctx := context.Background()

	job, err := s.Create(ctx, JobInput{Name: "paused", Schedule: "* * * * *"})
	if err != nil {
		t.Fatal(err)
	}
	paused := JobPaused
	if _, err := s.Update(ctx, job.ID, JobPatch{Status: &paused}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		s.Tick(ctx)
		clock.Advance(time.Minute)
	}
	if h.count() != 0 {
		t.Fatalf("paused job fired %d times", h.count())
	}

	// Resuming makes it fire again.
	active := JobActive
	if _, err := s.Update(ctx, job.ID, JobPatch{Status: &active}); err != nil {
		t.Fatal(err)
	}
	s.Tick(ctx)
	if h.count() != 1 {
		t.Fatalf("resumed job fires = %d, want 1", h.count())
	}
}

func TestMaxRunsCompletesJob(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC))
	h := &recordingHandler{}
	s := newTestScheduler(t, clock, h)
	ctx := context.Background()

	one := 1
	job, err := s.Create(ctx, JobInput{Name: "one shot", Schedule: "* * * * *", MaxRuns: &one})
	if err != nil {
		t.Fatal(err)
	}

	s.Tick(ctx)
	if h.count() != 1 {
		t.Fatalf("fires = %d, want 1", h.count())
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != JobCompleted || got.RunCount != 1 {
		t.Fatalf("job after max runs = status %s, runCount %d", got.Status, got.RunCount)
	}
	if got.NextRunAt != nil {
		t.Fatalf("completed job still advertises NextRunAt %v", got.NextRunAt)
	}

	// Further ticks never fire it again.
	for i := 0; i < 3; i++ {
		clock.Advance(time.Minute)
		s.Tick(ctx)
	}
	if h.count() != 1 {
		t.Fatalf("completed job fired again: %d", h.count())
	}
}

func TestHandlerErrorStillRecordsRun(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC))
	h := &recordingHandler{err: errors.New("downstream is down")}
	s := newTestScheduler(t, clock, h)
	ctx := context.Background()

	job, err := s.Create(ctx, JobInput{Name: "failing", Schedule: "* * * * *"})
	if err != nil {
		t.Fatal(err)
	}

	s.Tick(ctx)
	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	// The job counts as fired even though the handler failed: no retry
	// of a missed recurring fire.
	if got.RunCount != 1 || got.LastRunAt == nil {
		t.Fatalf("bookkeeping skipped on handler error: %+v", got)
	}

	// Same minute: no refire despite the failure.
	s.Tick(ctx)
	if h.count() != 1 {
		t.Fatalf("failed job refired within the minute")
	}
}

func TestHandlerPanicDoesNotStopTheLoop(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC))
	h := &recordingHandler{panic: true}
	s := newTestScheduler(t, clock, h)
	ctx := context.Background()

	if _, err := s.Create(ctx, JobInput{Name: "a panicking", Schedule: "* * * * *"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, JobInput{Name: "b fine", Schedule: "* * * * *"}); err != nil {
		t.Fatal(err)
	}

	s.Tick(ctx) // must not panic out
	if h.count() != 2 {
		t.Fatalf("calls = %d, want 2 (both jobs evaluated despite panic)", h.count())
	}
}

func TestTickSkipsStoredJobWithBadSchedule(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC))
	h := &recordingHandler{}
	store, err := NewFileStore(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s := NewScheduler(store, h.execute, Config{Now: clock.Now}, logx.Nop(), eventbus.New())
	ctx := context.Background()

	// A bad schedule can only enter the store out-of-band (Create and
	// Update both validate); simulate exactly that.
	bad := testJob("bad", clock.Now())
	bad.Schedule = "not a schedule"
	if err := store.Create(bad); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, JobInput{Name: "good", Schedule: "* * * * *"}); err != nil {
		t.Fatal(err)
	}

	s.Tick(ctx)
	if h.count() != 1 {
		t.Fatalf("calls = %d, want 1 (bad job skipped, good one fired)", h.count())
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Now().UTC())
	s := newTestScheduler(t, clock, &recordingHandler{})
	ctx := context.Background()

	if _, err := s.Create(ctx, JobInput{Name: "", Schedule: "* * * * *"}); !errors.Is(err, ErrInvalidJob) {
		t.Fatalf("missing name err = %v", err)
	}
	if _, err := s.Create(ctx, JobInput{Name: "x", Schedule: "nope"}); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("bad schedule err = %v", err)
	}
	zero := 0
	if _, err := s.Create(ctx, JobInput{Name: "x", Schedule: "* * * * *", MaxRuns: &zero}); !errors.Is(err, ErrInvalidJob) {
		t.Fatalf("zero maxRuns err = %v", err)
	}

	// Duplicate id surfaces as a typed conflict.
	if _, err := s.Create(ctx, JobInput{ID: "same", Name: "x", Schedule: "* * * * *"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, JobInput{ID: "same", Name: "y", Schedule: "* * * * *"}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("duplicate id err = %v", err)
	}
}

func TestUpdateAndRemove(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC))
	s := newTestScheduler(t, clock, &recordingHandler{})
	ctx := context.Background()

	if _, err := s.Update(ctx, "missing", JobPatch{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update(missing) err = %v", err)
	}
	if err := s.Remove(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove(missing) err = %v", err)
	}

	job, err := s.Create(ctx, JobInput{Name: "orig", Schedule: "0 9 * * *"})
	if err != nil {
		t.Fatal(err)
	}
	if job.NextRunAt == nil || !job.NextRunAt.Equal(time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("advisory NextRunAt = %v", job.NextRunAt)
	}

	newSched := "30 18 * * *"
	got, err := s.Update(ctx, job.ID, JobPatch{Schedule: &newSched})
	if err != nil {
		t.Fatal(err)
	}
	if got.Schedule != newSched {
		t.Fatalf("Schedule = %s", got.Schedule)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(time.Date(2026, 8, 24, 18, 30, 0, 0, time.UTC)) {
		t.Fatalf("NextRunAt after update = %v", got.NextRunAt)
	}

	badSched := "bogus"
	if _, err := s.Update(ctx, job.ID, JobPatch{Schedule: &badSched}); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("bad schedule update err = %v", err)
	}

	if err := s.Remove(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if got, err := s.GetJob(ctx, job.ID); err != nil || got != nil {
		t.Fatalf("GetJob after remove = (%+v, %v)", got, err)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Now().UTC())
	h := &recordingHandler{}
	store, err := NewFileStore(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s := NewScheduler(store, h.execute, Config{
		TickInterval: 5 * time.Millisecond,
		Now:          clock.Now,
	}, logx.Nop(), eventbus.New())

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx) // idempotent
	time.Sleep(30 * time.Millisecond)
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestFirePublishesSnapshots(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC))
	h := &recordingHandler{}
	store, err := NewFileStore(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	bus := eventbus.New()
	s := NewScheduler(store, h.execute, Config{Now: clock.Now}, logx.Nop(), bus)
	ctx := context.Background()

	events, unsub := bus.Subscribe(8, eventbus.TopicJobFired, eventbus.TopicJobCompleted)
	defer unsub()

	one := 1
	job, err := s.Create(ctx, JobInput{Name: "one shot", Schedule: "* * * * *", MaxRuns: &one})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	s.Tick(ctx)

	recv := func(topic eventbus.Topic) *Job {
		t.Helper()
		select {
		case ev := <-events:
			if ev.Topic != topic {
				t.Fatalf("event topic = %s, want %s", ev.Topic, topic)
			}
			got, ok := ev.Data.(*Job)
			if !ok {
				t.Fatalf("event data type = %T, want *Job", ev.Data)
			}
			return got
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s event", topic)
			return nil
		}
	}

	// The fired event carries the job as it was when the handler ran,
	// detached from the scheduler's bookkeeping.
	fired := recv(eventbus.TopicJobFired)
	if fired.ID != job.ID {
		t.Fatalf("fired job = %s, want %s", fired.ID, job.ID)
	}
	if fired.RunCount != 0 || fired.LastRunAt != nil {
		t.Fatalf("fired event carries post-run bookkeeping: %+v", fired)
	}

	done := recv(eventbus.TopicJobCompleted)
	if done.Status != JobCompleted || done.RunCount != 1 {
		t.Fatalf("completed event = %+v, want completed with 1 run", done)
	}

	// Mutating event payloads must not reach the scheduler's state.
	fired.RunCount = 99
	done.Name = "scribbled"
	cur, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.RunCount != 1 || cur.Name != "one shot" {
		t.Fatalf("subscriber mutation leaked into stored job: %+v", cur)
	}
}
