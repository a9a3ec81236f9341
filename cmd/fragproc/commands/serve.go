package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gurre/ddb-pitr/scheduler"
)

// dequeuePollInterval is how often serve checks for QUEUED jobs beyond
// the scheduler's own on-completion autoDequeue trigger, so a job
// enqueued by a separate `fragproc enqueue` invocation is picked up
// without waiting for another job to finish.
const dequeuePollInterval = 5 * time.Second

// serveCmd runs the Job Scheduler continuously: startup recovery, then
// indefinite polling for QUEUED jobs, until interrupted. Grounded on
// teranos-QNTX/cmd/qntx/commands/server.go's signal.Notify-plus-select
// graceful shutdown, generalized from a single HTTP server's
// Start/Stop to the scheduler's Start/Shutdown.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler continuously, processing QUEUED jobs",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
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
		return fmt.Errorf("starting scheduler: %w", err)
	}
	logger.Infow("scheduler started", "max_concurrent_jobs", cfg.MaxConcurrentJobs)

	pollDone := make(chan struct{})
	pollCtx, stopPoll := context.WithCancel(context.Background())
	go func() {
		defer close(pollDone)
		ticker := time.NewTicker(dequeuePollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sched.AutoDequeue(pollCtx)
			case <-pollCtx.Done():
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down gracefully (press Ctrl+C again to force)")

	stopPoll()
	<-pollDone

	shutdownDone := make(chan struct{})
	go func() {
		sched.Shutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		logger.Info("scheduler stopped cleanly")
		return nil
	case <-sigChan:
		logger.Warn("force shutdown - exiting immediately")
		os.Exit(1)
		return nil
	}
}
