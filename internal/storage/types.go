package storage

import (
	"context"
	"time"
)

// TaskStatus is the task state machine. Transitions only move
// pending -> running -> {complete, failed}; a failed task is never
// mutated back to pending (retry creates a new record instead).
type TaskStatus string

const (
	StatusPending  TaskStatus = "pending"
	StatusRunning  TaskStatus = "running"
	StatusComplete TaskStatus = "complete"
	StatusFailed   TaskStatus = "failed"
)

// Task is one row of the task table.
//
// Result is non-nil only when Status is complete; Error is non-nil only
// when Status is failed. StartedAt is set at claim, CompletedAt at
// complete/fail. Delivered is owned by the notification component and is
// never reset by the queue.
type Task struct {
	ID             string
	Prompt         string
	ConversationID string
	Status         TaskStatus
	Result         *string
	Error          *string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	WorkerID       string
	Delivered      bool
}

// TaskPatch is a partial update; nil fields are left untouched.
type TaskPatch struct {
	Status      *TaskStatus
	Result      *string
	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
	WorkerID    *string
	Delivered   *bool
}

// Config configures the store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default (5s)
}

// TaskStore is the persistence contract the queue and notifier build on.
//
// Lookup methods return (nil, nil) for unknown ids so callers can decide
// whether absence is an error. UpdateTask with a non-nil expected status
// is an atomic compare-and-swap: when the persisted status differs the
// patch is dropped and (nil, nil) is returned, no partial writes.
type TaskStore interface {
	SaveTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context) ([]*Task, error)
	DeleteTask(ctx context.Context, id string) (bool, error)
	UpdateTask(ctx context.Context, id string, patch TaskPatch, expected *TaskStatus) (*Task, error)

	// ClaimNextPending atomically selects the oldest pending task and
	// transitions it to running, stamping startedAt and workerID. It
	// returns (nil, nil) when no pending task exists.
	ClaimNextPending(ctx context.Context, workerID string, startedAt time.Time) (*Task, error)

	// FailRunningTasks bulk-fails every running task (crash recovery).
	// It returns the number of rows affected.
	FailRunningTasks(ctx context.Context, reason string, completedAt time.Time) (int, error)

	CountUndeliveredCompleted(ctx context.Context) (int, error)
	ListUndeliveredCompleted(ctx context.Context) ([]*Task, error)
	CountByStatus(ctx context.Context) (map[TaskStatus]int, error)

	// Checkpoint runs WAL housekeeping; safe to call while serving.
	Checkpoint(ctx context.Context) error

	Close() error
}
