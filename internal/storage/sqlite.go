package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "minder/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// timeLayout is fixed-width UTC so lexical order equals chronological
// order; the FIFO claim relies on ORDER BY created_at being meaningful.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const taskColumns = `id, prompt, status, result, error, conversation_id,
	created_at, started_at, completed_at, worker_id, delivered`

// SQLiteStore implements TaskStore on a single SQLite file in WAL mode.
type SQLiteStore struct {
	db  *sql.DB
	log logx.Logger
}

var _ TaskStore = (*SQLiteStore)(nil)

func Open(cfg Config, log logx.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage: path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; pinning the pool to a single connection
	// serializes writes behind busy_timeout instead of failing them.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &SQLiteStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) SaveTask(ctx context.Context, t *Task) error {
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return errors.New("storage: task id is required")
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tasks(`+taskColumns+`)
			 VALUES(?,?,?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET
			   prompt=excluded.prompt, status=excluded.status,
			   result=excluded.result, error=excluded.error,
			   conversation_id=excluded.conversation_id,
			   created_at=excluded.created_at, started_at=excluded.started_at,
			   completed_at=excluded.completed_at, worker_id=excluded.worker_id,
			   delivered=excluded.delivered`,
			t.ID, t.Prompt, string(t.Status), t.Result, t.Error,
			nullStr(t.ConversationID), fmtTime(t.CreatedAt),
			fmtTimePtr(t.StartedAt), fmtTimePtr(t.CompletedAt),
			nullStr(t.WorkerID), boolToInt(t.Delivered),
		)
		return err
	})
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) (bool, error) {
	var n int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n > 0, err
}

// UpdateTask applies the patch as a single conditional UPDATE. With a
// non-nil expected status the WHERE clause carries the guard, so a stale
// caller gets (nil, nil) back and nothing is written.
func (s *SQLiteStore) UpdateTask(ctx context.Context, id string, patch TaskPatch, expected *TaskStatus) (*Task, error) {
	sets := make([]string, 0, 7)
	args := make([]any, 0, 9)
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, *patch.Result)
	}
	if patch.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *patch.Error)
	}
	if patch.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, fmtTime(*patch.StartedAt))
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, fmtTime(*patch.CompletedAt))
	}
	if patch.WorkerID != nil {
		sets = append(sets, "worker_id = ?")
		args = append(args, nullStr(*patch.WorkerID))
	}
	if patch.Delivered != nil {
		sets = append(sets, "delivered = ?")
		args = append(args, boolToInt(*patch.Delivered))
	}
	if len(sets) == 0 {
		// Nothing to write, but the guard still applies.
		t, err := s.GetTask(ctx, id)
		if err != nil || t == nil {
			return nil, err
		}
		if expected != nil && t.Status != *expected {
			return nil, nil
		}
		return t, nil
	}

	q := `UPDATE tasks SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, id)
	if expected != nil {
		q += ` AND status = ?`
		args = append(args, string(*expected))
	}
	q += ` RETURNING ` + taskColumns

	var t *Task
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, q, args...)
		got, err := scanTask(row.Scan)
		if errors.Is(err, sql.ErrNoRows) {
			// Unknown id or guard rejected; either way the transition is dropped.
			t = nil
			return nil
		}
		t = got
		return err
	})
	return t, err
}

func (s *SQLiteStore) ClaimNextPending(ctx context.Context, workerID string, startedAt time.Time) (*Task, error) {
	// Claim is one statement: select-the-oldest and transition combined,
	// so two concurrent callers can never both claim the same row.
	q := `UPDATE tasks SET status = ?, started_at = ?, worker_id = ?
	      WHERE id = (
	          SELECT id FROM tasks WHERE status = ?
	          ORDER BY created_at ASC, rowid ASC LIMIT 1
	      )
	      RETURNING ` + taskColumns

	var t *Task
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, q,
			string(StatusRunning), fmtTime(startedAt), nullStr(workerID),
			string(StatusPending))
		got, err := scanTask(row.Scan)
		if errors.Is(err, sql.ErrNoRows) {
			t = nil
			return nil
		}
		t = got
		return err
	})
	return t, err
}

func (s *SQLiteStore) FailRunningTasks(ctx context.Context, reason string, completedAt time.Time) (int, error) {
	var n int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET status = ?, error = ?, completed_at = ?
			 WHERE status = ?`,
			string(StatusFailed), reason, fmtTime(completedAt), string(StatusRunning))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

func (s *SQLiteStore) CountUndeliveredCompleted(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE status = ? AND delivered = 0`,
		string(StatusComplete)).Scan(&n)
	return n, err
}

func (s *SQLiteStore) ListUndeliveredCompleted(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status = ? AND delivered = 0
		 ORDER BY completed_at ASC, rowid ASC`,
		string(StatusComplete))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[TaskStatus]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[TaskStatus(st)] = n
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "PRAGMA optimize")
	return err
}

// ---- row scanning ----

func scanTask(scan func(dest ...any) error) (*Task, error) {
	var (
		t          Task
		status     string
		result     sql.NullString
		taskErr    sql.NullString
		convID     sql.NullString
		createdAt  string
		startedAt  sql.NullString
		doneAt     sql.NullString
		workerID   sql.NullString
		deliveredN int
	)
	if err := scan(&t.ID, &t.Prompt, &status, &result, &taskErr, &convID,
		&createdAt, &startedAt, &doneAt, &workerID, &deliveredN); err != nil {
		return nil, err
	}
	t.Status = TaskStatus(status)
	if result.Valid {
		v := result.String
		t.Result = &v
	}
	if taskErr.Valid {
		v := taskErr.String
		t.Error = &v
	}
	t.ConversationID = convID.String
	t.WorkerID = workerID.String
	t.Delivered = deliveredN != 0

	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("storage: bad created_at for %s: %w", t.ID, err)
	}
	if t.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, fmt.Errorf("storage: bad started_at for %s: %w", t.ID, err)
	}
	if t.CompletedAt, err = parseTimePtr(doneAt); err != nil {
		return nil, fmt.Errorf("storage: bad completed_at for %s: %w", t.ID, err)
	}
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---- helpers ----

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// retryOnBusy retries short write transactions that lose the race for the
// write lock. busy_timeout handles most contention; this covers the
// SQLITE_BUSY returned when a reader upgrades mid-transaction.
func retryOnBusy(ctx context.Context, fn func() error) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		wait := time.Duration(10+rand.Intn(40)) * time.Millisecond * time.Duration(i+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
