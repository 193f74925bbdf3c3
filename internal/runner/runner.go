// Package runner executes queued tasks by shelling out to a configured
// command. The prompt arrives on stdin, stdout becomes the task result,
// and a non-zero exit (or the pool's task deadline firing) fails the task.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"minder/internal/storage"
	"minder/internal/taskqueue"
	logx "minder/pkg/logx"
)

// Config is the subprocess invocation. Args may reference the task id
// and conversation id with the {{task}} and {{conversation}} tokens.
type Config struct {
	Command string
	Args    []string
	WorkDir string
}

// Runner turns tasks into subprocess runs.
type Runner struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Runner, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("runner: command is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{cfg: cfg, log: log}, nil
}

// Handler adapts the runner to the worker pool contract.
func (r *Runner) Handler() taskqueue.Handler {
	return r.Run
}

func (r *Runner) Run(ctx context.Context, t *storage.Task) (string, error) {
	args := make([]string, len(r.cfg.Args))
	for i, a := range r.cfg.Args {
		a = strings.ReplaceAll(a, "{{task}}", t.ID)
		a = strings.ReplaceAll(a, "{{conversation}}", t.ConversationID)
		args[i] = a
	}

	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)
	if r.cfg.WorkDir != "" {
		cmd.Dir = r.cfg.WorkDir
	}
	cmd.Stdin = strings.NewReader(t.Prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Debug("running task command",
		logx.String("task", t.ID), logx.String("command", r.cfg.Command))

	if err := cmd.Run(); err != nil {
		// The deadline takes precedence so the failure reads as a
		// timeout rather than a generic kill.
		if ctx.Err() != nil {
			return "", fmt.Errorf("runner: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("runner: exit %d: %s",
				exitErr.ExitCode(), firstLine(stderr.String()))
		}
		return "", fmt.Errorf("runner: %w", err)
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
