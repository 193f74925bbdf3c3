package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"minder/internal/app"
	"minder/internal/cron"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage recurring jobs",
}

var cronAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a recurring job",
	RunE:  runCronAdd,
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runCronList,
}

var cronShowCmd = &cobra.Command{
	Use:   "show [job-id]",
	Short: "Show job details",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronShow,
}

var cronPauseCmd = &cobra.Command{
	Use:   "pause [job-id]",
	Short: "Pause a job",
	Args:  cobra.ExactArgs(1),
	RunE:  setJobStatus(cron.JobPaused),
}

var cronResumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Resume a paused job",
	Args:  cobra.ExactArgs(1),
	RunE:  setJobStatus(cron.JobActive),
}

var cronRmCmd = &cobra.Command{
	Use:   "rm [job-id]",
	Short: "Remove a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronRm,
}

var (
	jobName         string
	jobDescription  string
	jobSchedule     string
	jobPrompt       string
	jobConversation string
	jobMaxRuns      int
	jobID           string
)

func init() {
	cronCmd.AddCommand(cronAddCmd, cronListCmd, cronShowCmd, cronPauseCmd, cronResumeCmd, cronRmCmd)

	cronAddCmd.Flags().StringVar(&jobName, "name", "", "Job name (required)")
	cronAddCmd.Flags().StringVar(&jobSchedule, "schedule", "", "5-field cron expression (required)")
	cronAddCmd.Flags().StringVar(&jobPrompt, "prompt", "", "Prompt to enqueue when the job fires (required)")
	cronAddCmd.Flags().StringVar(&jobDescription, "description", "", "Job description")
	cronAddCmd.Flags().StringVar(&jobConversation, "conversation", "", "Conversation id for enqueued tasks")
	cronAddCmd.Flags().IntVar(&jobMaxRuns, "max-runs", 0, "Stop after this many runs (0 means unlimited)")
	cronAddCmd.Flags().StringVar(&jobID, "id", "", "Explicit job id (defaults to a generated uuid)")
	cronAddCmd.MarkFlagRequired("name")
	cronAddCmd.MarkFlagRequired("schedule")
	cronAddCmd.MarkFlagRequired("prompt")
}

func runCronAdd(cmd *cobra.Command, args []string) error {
	c, err := app.OpenClient(cfgPath)
	if err != nil {
		return err
	}
	defer c.Close()

	in := cron.JobInput{
		ID:          jobID,
		Name:        jobName,
		Description: jobDescription,
		Schedule:    jobSchedule,
		CreatedBy:   "cli",
		Payload: cron.Payload{
			Action: "task.enqueue",
			Parameters: map[string]any{
				"prompt": jobPrompt,
			},
		},
	}
	if jobConversation != "" {
		in.Payload.Parameters["conversation"] = jobConversation
	}
	if jobMaxRuns > 0 {
		in.MaxRuns = &jobMaxRuns
	}

	job, err := c.Sched.Create(cmd.Context(), in)
	if err != nil {
		return err
	}
	fmt.Printf("created job %s\n", job.ID)
	if job.NextRunAt != nil {
		fmt.Printf("next run: %s\n", job.NextRunAt.Local().Format(time.RFC3339))
	}
	return nil
}

func runCronList(cmd *cobra.Command, args []string) error {
	c, err := app.OpenClient(cfgPath)
	if err != nil {
		return err
	}
	defer c.Close()

	jobs, err := c.Sched.ListJobs(cmd.Context())
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("no jobs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tSTATUS\tRUNS\tNEXT RUN")
	for _, j := range jobs {
		next := "-"
		if j.NextRunAt != nil {
			next = j.NextRunAt.Local().Format("2006-01-02 15:04")
		}
		runs := fmt.Sprintf("%d", j.RunCount)
		if j.MaxRuns != nil {
			runs = fmt.Sprintf("%d/%d", j.RunCount, *j.MaxRuns)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(j.ID), j.Name, j.Schedule, j.Status, runs, next)
	}
	return w.Flush()
}

func runCronShow(cmd *cobra.Command, args []string) error {
	c, err := app.OpenClient(cfgPath)
	if err != nil {
		return err
	}
	defer c.Close()

	job, err := c.Sched.GetJob(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if job == nil {
		return cron.ErrNotFound
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "id:\t%s\n", job.ID)
	fmt.Fprintf(w, "name:\t%s\n", job.Name)
	if job.Description != "" {
		fmt.Fprintf(w, "description:\t%s\n", job.Description)
	}
	fmt.Fprintf(w, "schedule:\t%s\n", job.Schedule)
	fmt.Fprintf(w, "status:\t%s\n", job.Status)
	fmt.Fprintf(w, "created:\t%s\tby %s\n", job.CreatedAt.Local().Format(time.RFC3339), job.CreatedBy)
	if job.LastRunAt != nil {
		fmt.Fprintf(w, "last run:\t%s\n", job.LastRunAt.Local().Format(time.RFC3339))
	}
	if job.NextRunAt != nil {
		fmt.Fprintf(w, "next run:\t%s\n", job.NextRunAt.Local().Format(time.RFC3339))
	}
	runs := fmt.Sprintf("%d", job.RunCount)
	if job.MaxRuns != nil {
		runs = fmt.Sprintf("%d of %d", job.RunCount, *job.MaxRuns)
	}
	fmt.Fprintf(w, "runs:\t%s\n", runs)
	fmt.Fprintf(w, "action:\t%s\n", job.Payload.Action)
	if prompt, ok := job.Payload.Parameters["prompt"].(string); ok {
		fmt.Fprintf(w, "prompt:\t%s\n", prompt)
	}
	return w.Flush()
}

func setJobStatus(status cron.JobStatus) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := app.OpenClient(cfgPath)
		if err != nil {
			return err
		}
		defer c.Close()

		job, err := c.Sched.Update(cmd.Context(), args[0], cron.JobPatch{Status: &status})
		if err != nil {
			return err
		}
		fmt.Printf("job %s is now %s\n", job.ID, job.Status)
		return nil
	}
}

func runCronRm(cmd *cobra.Command, args []string) error {
	c, err := app.OpenClient(cfgPath)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Sched.Remove(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("removed job %s\n", args[0])
	return nil
}
