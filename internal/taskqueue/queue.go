package taskqueue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"minder/internal/eventbus"
	"minder/internal/storage"
	logx "minder/pkg/logx"
)

// RestartReason is the error recorded on tasks reclaimed by
// RecoverFromRestart.
const RestartReason = "daemon restart"

var (
	ErrNotFound    = errors.New("taskqueue: task not found")
	ErrEmptyPrompt = errors.New("taskqueue: prompt is required")
)

// EnqueueOptions carries the optional fields of a new task.
type EnqueueOptions struct {
	ConversationID string
	// CreatedAt overrides the enqueue timestamp; zero means now().
	// Older timestamps place the task ahead in FIFO order.
	CreatedAt time.Time
}

// Queue orchestrates the task state machine. It holds no task state of
// its own; the store is the single source of truth, so any number of
// Queue instances may share one database.
type Queue struct {
	store storage.TaskStore
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time
}

func New(store storage.TaskStore, log logx.Logger, bus eventbus.Bus, now func() time.Time) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &Queue{store: store, log: log, bus: bus, now: now}
}

// Enqueue creates and persists a pending task.
func (q *Queue) Enqueue(ctx context.Context, prompt string, opts EnqueueOptions) (*storage.Task, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	createdAt := opts.CreatedAt
	if createdAt.IsZero() {
		createdAt = q.now()
	}
	t := &storage.Task{
		ID:             uuid.NewString(),
		Prompt:         prompt,
		ConversationID: opts.ConversationID,
		Status:         storage.StatusPending,
		CreatedAt:      createdAt.UTC(),
	}
	if err := q.store.SaveTask(ctx, t); err != nil {
		return nil, err
	}
	q.log.Debug("task enqueued", logx.String("task", t.ID))
	q.publish(eventbus.TopicTaskEnqueued, t)
	return t, nil
}

// Dequeue claims the oldest pending task for workerID, transitioning it
// to running in one atomic statement. It returns (nil, nil) when the
// queue is empty.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (*storage.Task, error) {
	t, err := q.store.ClaimNextPending(ctx, workerID, q.now())
	if err != nil || t == nil {
		return nil, err
	}
	q.log.Debug("task claimed",
		logx.String("task", t.ID), logx.String("worker", workerID))
	q.publish(eventbus.TopicTaskStarted, t)
	return t, nil
}

// Complete transitions a running task to complete. It returns (nil, nil)
// when the task is unknown or no longer running (the result stands as
// written by whoever got there first).
func (q *Queue) Complete(ctx context.Context, id, result string) (*storage.Task, error) {
	t, err := q.finish(ctx, id, storage.TaskPatch{
		Status: statusPtr(storage.StatusComplete),
		Result: &result,
	})
	if err != nil || t == nil {
		return t, err
	}
	q.log.Info("task completed", logx.String("task", t.ID))
	q.publish(eventbus.TopicTaskCompleted, t)
	return t, nil
}

// Fail transitions a running task to failed; same guard as Complete.
func (q *Queue) Fail(ctx context.Context, id, taskErr string) (*storage.Task, error) {
	t, err := q.finish(ctx, id, storage.TaskPatch{
		Status: statusPtr(storage.StatusFailed),
		Error:  &taskErr,
	})
	if err != nil || t == nil {
		return t, err
	}
	q.log.Warn("task failed",
		logx.String("task", t.ID), logx.String("task_err", taskErr))
	q.publish(eventbus.TopicTaskFailed, t)
	return t, nil
}

func (q *Queue) finish(ctx context.Context, id string, patch storage.TaskPatch) (*storage.Task, error) {
	now := q.now()
	patch.CompletedAt = &now
	running := storage.StatusRunning
	return q.store.UpdateTask(ctx, id, patch, &running)
}

// Retry creates a fresh pending task cloning a failed task's prompt and
// conversation id; the original record is preserved as history. It
// returns ErrNotFound for an unknown id and (nil, nil) when the
// referenced task is not failed.
func (q *Queue) Retry(ctx context.Context, id string) (*storage.Task, error) {
	orig, err := q.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig == nil {
		return nil, ErrNotFound
	}
	if orig.Status != storage.StatusFailed {
		return nil, nil
	}
	t, err := q.Enqueue(ctx, orig.Prompt, EnqueueOptions{ConversationID: orig.ConversationID})
	if err != nil {
		return nil, err
	}
	q.log.Info("task retried",
		logx.String("task", t.ID), logx.String("origin", orig.ID))
	q.publish(eventbus.TopicTaskRetried, t)
	return t, nil
}

// RecoverFromRestart closes out tasks a previous process abandoned
// mid-flight. Run once at startup before any Dequeue; zero affected rows
// is a normal result.
func (q *Queue) RecoverFromRestart(ctx context.Context) (int, error) {
	n, err := q.store.FailRunningTasks(ctx, RestartReason, q.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.log.Warn("recovered orphaned tasks", logx.Int("count", n))
		q.publish(eventbus.TopicTaskRecovered, n)
	}
	return n, nil
}

func (q *Queue) List(ctx context.Context) ([]*storage.Task, error) {
	return q.store.ListTasks(ctx)
}

func (q *Queue) GetTask(ctx context.Context, id string) (*storage.Task, error) {
	return q.store.GetTask(ctx, id)
}

// CountUndeliveredCompleted is the queue side of the notification
// contract; the notifier flips delivered via MarkDelivered.
func (q *Queue) CountUndeliveredCompleted(ctx context.Context) (int, error) {
	return q.store.CountUndeliveredCompleted(ctx)
}

func (q *Queue) ListUndeliveredCompleted(ctx context.Context) ([]*storage.Task, error) {
	return q.store.ListUndeliveredCompleted(ctx)
}

// MarkDelivered records that a completed task's result was communicated.
// The flag is set once and never reset by the queue.
func (q *Queue) MarkDelivered(ctx context.Context, id string) (*storage.Task, error) {
	d := true
	return q.store.UpdateTask(ctx, id, storage.TaskPatch{Delivered: &d}, nil)
}

// Stats returns per-status row counts for heartbeat logging and /status.
func (q *Queue) Stats(ctx context.Context) (map[storage.TaskStatus]int, error) {
	return q.store.CountByStatus(ctx)
}

func (q *Queue) publish(topic eventbus.Topic, data any) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(eventbus.Event{Topic: topic, Time: q.now(), Data: data})
}

func statusPtr(s storage.TaskStatus) *storage.TaskStatus { return &s }
