package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"minder/internal/storage"
	logx "minder/pkg/logx"
)

func TestNewRequiresCommand(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("empty command accepted")
	}
}

func TestRunPipesPromptAndCapturesStdout(t *testing.T) {
	t.Parallel()
	r, err := New(Config{Command: "cat"}, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, err := r.Run(context.Background(), &storage.Task{ID: "t1", Prompt: "hello runner"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "hello runner" {
		t.Fatalf("out = %q, want prompt echoed back", out)
	}
}

func TestRunExpandsArgTokens(t *testing.T) {
	t.Parallel()
	r, err := New(Config{
		Command: "sh",
		Args:    []string{"-c", "echo task={{task}} conv={{conversation}}"},
	}, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, err := r.Run(context.Background(), &storage.Task{ID: "t42", ConversationID: "c7", Prompt: ""})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "task=t42 conv=c7" {
		t.Fatalf("out = %q", out)
	}
}

func TestRunFailsOnNonZeroExit(t *testing.T) {
	t.Parallel()
	r, err := New(Config{
		Command: "sh",
		Args:    []string{"-c", "echo oops >&2; exit 3"},
	}, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = r.Run(context.Background(), &storage.Task{ID: "t1", Prompt: "x"})
	if err == nil {
		t.Fatal("non-zero exit reported as success")
	}
	if !strings.Contains(err.Error(), "exit 3") || !strings.Contains(err.Error(), "oops") {
		t.Fatalf("err = %v, want exit code and stderr line", err)
	}
}

func TestRunTimesOut(t *testing.T) {
	t.Parallel()
	r, err := New(Config{Command: "sleep", Args: []string{"30"}}, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = r.Run(ctx, &storage.Task{ID: "t1", Prompt: "x"})
	if err == nil {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(err.Error(), context.DeadlineExceeded.Error()) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
