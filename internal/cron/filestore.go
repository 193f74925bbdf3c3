package cron

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	logx "minder/pkg/logx"
)

// FileStore keeps one JSON document per job id under a directory.
// Writes go through a temp file and rename so a crash mid-write never
// corrupts an existing definition.
type FileStore struct {
	dir string
	log logx.Logger
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string, log logx.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("cron: store directory is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, log: log}, nil
}

func (s *FileStore) path(id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: empty id", ErrInvalidJob)
	}
	// Job ids become filenames; keep them out of parent directories.
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: id %q is not a valid filename", ErrInvalidJob, id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *FileStore) Create(job *Job) error {
	if job == nil {
		return fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	path, err := s.path(job.ID)
	if err != nil {
		return err
	}
	tmp, err := s.writeTemp(job)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	// Link is the exclusive-create step: it fails if the target exists,
	// so two concurrent Creates for the same id cannot both win.
	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrDuplicateID, job.ID)
		}
		return fmt.Errorf("cron: create job %s: %w", job.ID, err)
	}
	return nil
}

func (s *FileStore) Save(job *Job) error {
	if job == nil {
		return fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	path, err := s.path(job.ID)
	if err != nil {
		return err
	}
	tmp, err := s.writeTemp(job)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cron: save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *FileStore) writeTemp(job *Job) (string, error) {
	b, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return "", fmt.Errorf("cron: marshal job %s: %w", job.ID, err)
	}
	f, err := os.CreateTemp(s.dir, ".job-*.tmp")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

func (s *FileStore) Get(id string) (*Job, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(b, &job); err != nil {
		return nil, fmt.Errorf("cron: decode job %s: %w", id, err)
	}
	return &job, nil
}

// List loads every job in the directory. A file that fails to decode is
// logged and skipped; it never invalidates the remaining jobs.
func (s *FileStore) List() ([]*Job, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		job, err := s.Get(id)
		if err != nil {
			s.log.Warn("skipping unreadable job file",
				logx.String("file", name), logx.Err(err))
			continue
		}
		if job != nil {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs, nil
}

func (s *FileStore) Delete(id string) (bool, error) {
	path, err := s.path(id)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
