package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"minder/internal/app"
	"minder/internal/cron"
	"minder/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue and job counts",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := app.OpenClient(cfgPath)
	if err != nil {
		return err
	}
	defer c.Close()
	ctx := cmd.Context()

	stats, err := c.Queue.Stats(ctx)
	if err != nil {
		return err
	}
	undelivered, err := c.Queue.CountUndeliveredCompleted(ctx)
	if err != nil {
		return err
	}
	jobs, err := c.Sched.ListJobs(ctx)
	if err != nil {
		return err
	}
	byStatus := map[cron.JobStatus]int{}
	for _, j := range jobs {
		byStatus[j.Status]++
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "tasks")
	fmt.Fprintf(w, "  pending:\t%d\n", stats[storage.StatusPending])
	fmt.Fprintf(w, "  running:\t%d\n", stats[storage.StatusRunning])
	fmt.Fprintf(w, "  complete:\t%d\n", stats[storage.StatusComplete])
	fmt.Fprintf(w, "  failed:\t%d\n", stats[storage.StatusFailed])
	fmt.Fprintf(w, "  undelivered results:\t%d\n", undelivered)
	fmt.Fprintln(w, "jobs")
	fmt.Fprintf(w, "  active:\t%d\n", byStatus[cron.JobActive])
	fmt.Fprintf(w, "  paused:\t%d\n", byStatus[cron.JobPaused])
	fmt.Fprintf(w, "  completed:\t%d\n", byStatus[cron.JobCompleted])
	return w.Flush()
}
