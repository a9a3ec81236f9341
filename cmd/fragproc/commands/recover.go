package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/gurre/ddb-pitr/scheduler"
)

// recoverCmd implements section 4.6's recoverStaleJobs as a standalone
// operation, for an operator who wants to run recovery without also
// starting serve's long-lived scheduler loop (e.g. immediately after
// an instance crash, before the replacement instance comes up).
var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Transition stale PROCESSING jobs left by a crashed instance to ERROR",
	RunE:  runRecover,
}

func runRecover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	logger, err := setupLogger(logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	reg, closeReg, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeReg()

	stream, urlProvider, err := buildJobSource(ctx, cfg)
	if err != nil {
		return err
	}
	refs, err := buildRefLoader(cfg)
	if err != nil {
		return err
	}
	runnerOpts, err := buildRunnerOpts(cfg)
	if err != nil {
		return err
	}

	sched := scheduler.New(reg, urlProvider, stream, refs, cfg.Config, logger, runnerOpts...)
	if err := sched.Start(ctx); err != nil {
		return err
	}

	// Start's recoverStaleJobs ends by calling autoDequeue, which may
	// have spawned runners in this process; this one-shot command
	// blocks until they finish rather than exiting and orphaning them.
	for sched.ActiveCount() > 0 {
		time.Sleep(time.Second)
	}

	logger.Info("stale job recovery complete")
	return nil
}
