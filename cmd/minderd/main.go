package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "minderd",
	Short: "minderd - personal automation daemon",
	Long: `minderd runs a persistent task queue and a cron-style job scheduler.
The serve command starts the daemon; the task and cron command trees
operate on the same data files and work whether or not a daemon runs.`,
	SilenceUsage: true,
}

// defaultConfigPath honors MINDERD_CONFIG; the --config flag overrides it.
func defaultConfigPath() string {
	if p := os.Getenv("MINDERD_CONFIG"); p != "" {
		return p
	}
	return "./config.json"
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "path to config file (json or yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(cronCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
