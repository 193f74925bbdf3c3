package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"minder/internal/storage"
	logx "minder/pkg/logx"
)

// LogSink writes results to the structured log. It is the default sink
// and the fallback when no delivery channel is configured.
type LogSink struct {
	Log logx.Logger
}

func (s LogSink) Name() string { return "log" }

func (s LogSink) Deliver(ctx context.Context, t *storage.Task) error {
	result := ""
	if t.Result != nil {
		result = *t.Result
	}
	s.Log.Info("task result",
		logx.String("task", t.ID),
		logx.String("conversation", t.ConversationID),
		logx.String("result", result))
	return nil
}

// CommandSink pipes the completed task as JSON into a subprocess. A
// non-zero exit means the result was not communicated and the task stays
// undelivered.
type CommandSink struct {
	Command string
	Args    []string
	Timeout time.Duration // 0 means 30s
}

func (s CommandSink) Name() string { return "command" }

type commandPayload struct {
	ID             string `json:"id"`
	Prompt         string `json:"prompt"`
	ConversationID string `json:"conversationId,omitempty"`
	Result         string `json:"result"`
	CompletedAt    string `json:"completedAt,omitempty"`
}

func (s CommandSink) Deliver(ctx context.Context, t *storage.Task) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p := commandPayload{ID: t.ID, Prompt: t.Prompt, ConversationID: t.ConversationID}
	if t.Result != nil {
		p.Result = *t.Result
	}
	if t.CompletedAt != nil {
		p.CompletedAt = t.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	in, err := json.Marshal(p)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, s.Command, s.Args...)
	cmd.Stdin = bytes.NewReader(in)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("notifier command: %w (stderr: %s)", err, stderr.String())
	}
	return nil
}
