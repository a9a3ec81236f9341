package commands

import (
	"github.com/spf13/cobra"
)

var configFile string
var logLevel string

// RootCmd is the fragproc CLI's root command, mirroring
// teranos-QNTX/cmd/qntx's single rootCmd with subcommands added in
// init. One subcommand per Job Scheduler operation named in section
// 4.6 (enqueue, cancel, recoverStaleJobs) plus serve, which runs the
// scheduler continuously.
var RootCmd = &cobra.Command{
	Use:   "fragproc",
	Short: "Streaming fragment processor for large delimited text files",
	Long: `fragproc pulls a large delimited text file from a remote HTTP
endpoint, cuts it into line-aligned byte-budget fragments, validates
every line across a worker pool, and records aggregate progress in a
durable job registry.

Available commands:
  enqueue  - submit a new job
  cancel   - request cancellation of a running or queued job
  recover  - transition stale PROCESSING jobs left by a crashed instance
  serve    - run the scheduler continuously, processing QUEUED jobs`,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file (default: ./fragproc.yaml if present)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	RootCmd.AddCommand(enqueueCmd)
	RootCmd.AddCommand(cancelCmd)
	RootCmd.AddCommand(recoverCmd)
	RootCmd.AddCommand(serveCmd)
}
