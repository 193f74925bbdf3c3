package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"minder/internal/app"
	"minder/internal/storage"
	"minder/internal/taskqueue"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage queued tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add [prompt...]",
	Short: "Enqueue a task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskRetryCmd = &cobra.Command{
	Use:   "retry [task-id]",
	Short: "Re-enqueue a failed task as a fresh attempt",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRetry,
}

var taskAwaitCmd = &cobra.Command{
	Use:   "await [task-id]",
	Short: "Wait for a task to finish and print its result",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskAwait,
}

var (
	taskConversation string
	taskStatusFilter string
	taskAwaitAfter   bool
	awaitTimeout     time.Duration
)

func init() {
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskRetryCmd, taskAwaitCmd)

	taskAddCmd.Flags().StringVar(&taskConversation, "conversation", "", "Conversation id to tag the task with")
	taskAddCmd.Flags().BoolVar(&taskAwaitAfter, "await", false, "Wait for the result after enqueueing")
	taskAddCmd.Flags().DurationVar(&awaitTimeout, "timeout", 10*time.Minute, "How long to wait with --await")

	taskListCmd.Flags().StringVar(&taskStatusFilter, "status", "", "Filter by status (pending, running, complete, failed)")

	taskAwaitCmd.Flags().DurationVar(&awaitTimeout, "timeout", 10*time.Minute, "How long to wait")
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	c, err := app.OpenClient(cfgPath)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := cmd.Context()
	t, err := c.Queue.Enqueue(ctx, strings.Join(args, " "),
		taskqueue.EnqueueOptions{ConversationID: taskConversation})
	if err != nil {
		return err
	}
	fmt.Printf("enqueued %s\n", t.ID)

	if taskAwaitAfter {
		return awaitTask(ctx, c, t.ID, awaitTimeout)
	}
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	c, err := app.OpenClient(cfgPath)
	if err != nil {
		return err
	}
	defer c.Close()

	tasks, err := c.Queue.List(cmd.Context())
	if err != nil {
		return err
	}
	if taskStatusFilter != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if string(t.Status) == taskStatusFilter {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCREATED\tPROMPT")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			shortID(t.ID), t.Status,
			t.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(t.Prompt, 60))
	}
	return w.Flush()
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	c, err := app.OpenClient(cfgPath)
	if err != nil {
		return err
	}
	defer c.Close()

	t, err := c.Queue.GetTask(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if t == nil {
		return taskqueue.ErrNotFound
	}
	printTask(t)
	return nil
}

func runTaskRetry(cmd *cobra.Command, args []string) error {
	c, err := app.OpenClient(cfgPath)
	if err != nil {
		return err
	}
	defer c.Close()

	clone, err := c.Queue.Retry(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if clone == nil {
		return fmt.Errorf("task %s is not failed; only failed tasks can be retried", args[0])
	}
	fmt.Printf("retried as %s\n", clone.ID)
	return nil
}

func runTaskAwait(cmd *cobra.Command, args []string) error {
	c, err := app.OpenClient(cfgPath)
	if err != nil {
		return err
	}
	defer c.Close()
	return awaitTask(cmd.Context(), c, args[0], awaitTimeout)
}

func awaitTask(ctx context.Context, c *app.Client, id string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		t, err := c.Queue.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if t == nil {
			return taskqueue.ErrNotFound
		}
		switch t.Status {
		case storage.StatusComplete:
			if t.Result != nil {
				fmt.Println(*t.Result)
			}
			return nil
		case storage.StatusFailed:
			msg := "task failed"
			if t.Error != nil {
				msg = *t.Error
			}
			return errors.New(msg)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("task %s still %s after %s", id, t.Status, timeout)
		case <-ticker.C:
		}
	}
}

func printTask(t *storage.Task) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "id:\t%s\n", t.ID)
	fmt.Fprintf(w, "status:\t%s\n", t.Status)
	fmt.Fprintf(w, "prompt:\t%s\n", t.Prompt)
	if t.ConversationID != "" {
		fmt.Fprintf(w, "conversation:\t%s\n", t.ConversationID)
	}
	fmt.Fprintf(w, "created:\t%s\n", t.CreatedAt.Local().Format(time.RFC3339))
	if t.StartedAt != nil {
		fmt.Fprintf(w, "started:\t%s\t(worker %s)\n", t.StartedAt.Local().Format(time.RFC3339), t.WorkerID)
	}
	if t.CompletedAt != nil {
		fmt.Fprintf(w, "finished:\t%s\n", t.CompletedAt.Local().Format(time.RFC3339))
	}
	if t.Result != nil {
		fmt.Fprintf(w, "result:\t%s\n", *t.Result)
	}
	if t.Error != nil {
		fmt.Fprintf(w, "error:\t%s\n", *t.Error)
	}
	fmt.Fprintf(w, "delivered:\t%v\n", t.Delivered)
	w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
