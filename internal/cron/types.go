package cron

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("cron: job not found")
	ErrDuplicateID     = errors.New("cron: job id already exists")
	ErrInvalidSchedule = errors.New("cron: invalid schedule expression")
	ErrInvalidJob      = errors.New("cron: invalid job")
)

// JobStatus gates execution: only active jobs are evaluated for
// due-ness. Paused and completed jobs stay readable and updatable.
type JobStatus string

const (
	JobActive    JobStatus = "active"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
)

// Payload is opaque to the scheduler and forwarded to OnExecute as-is.
type Payload struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Job is a recurring job definition. One JSON document per job id.
type Job struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Schedule    string     `json:"schedule"`
	Timezone    string     `json:"timezone,omitempty"` // informational
	Status      JobStatus  `json:"status"`
	CreatedBy   string     `json:"createdBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	LastRunAt   *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt   *time.Time `json:"nextRunAt,omitempty"` // advisory
	RunCount    int        `json:"runCount"`
	MaxRuns     *int       `json:"maxRuns,omitempty"`
	Payload     Payload    `json:"payload"`
	Tags        []string   `json:"tags,omitempty"`
}

// Clone returns an independent copy so callers cannot alias store state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.LastRunAt != nil {
		v := *j.LastRunAt
		cp.LastRunAt = &v
	}
	if j.NextRunAt != nil {
		v := *j.NextRunAt
		cp.NextRunAt = &v
	}
	if j.MaxRuns != nil {
		v := *j.MaxRuns
		cp.MaxRuns = &v
	}
	if j.Tags != nil {
		cp.Tags = append([]string(nil), j.Tags...)
	}
	if j.Payload.Parameters != nil {
		params := make(map[string]any, len(j.Payload.Parameters))
		for k, v := range j.Payload.Parameters {
			params[k] = v
		}
		cp.Payload.Parameters = params
	}
	return &cp
}

// Store is the persistence contract for job definitions. Each job is one
// durable unit: saving a job never rewrites the rest, and one corrupt
// job never invalidates the others.
type Store interface {
	// Create persists a new job; an existing id is ErrDuplicateID.
	Create(job *Job) error
	// Save upserts a job (run bookkeeping, updates).
	Save(job *Job) error
	// Get returns (nil, nil) for an unknown id.
	Get(id string) (*Job, error)
	List() ([]*Job, error)
	// Delete reports whether a job was removed.
	Delete(id string) (bool, error)
}
