package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gurre/ddb-pitr/jobmodel"
)

// cancelCmd implements section 4.6's cancel(jobId) from outside the
// process that owns the runner: this CLI invocation has no in-memory
// handle on the job, so it follows the documented fallback — mark a
// still-QUEUED/NEW job CANCELLED directly, or set cancelRequested on a
// PROCESSING job so its owning runner observes it on the next
// heartbeat tick.
var cancelCmd = &cobra.Command{
	Use:   "cancel [jobID]",
	Short: "Request cancellation of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	jobID := args[0]

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

	job, err := reg.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("looking up job %s: %w", jobID, err)
	}

	switch job.Status {
	case jobmodel.StatusDone, jobmodel.StatusError, jobmodel.StatusCancelled:
		fmt.Printf("job %s is already terminal (%s); nothing to cancel\n", jobID, job.Status)
		return nil

	case jobmodel.StatusNew, jobmodel.StatusQueued:
		status := jobmodel.StatusCancelled
		message := "Job cancelled by user"
		now := time.Now()
		patch := jobmodel.Patch{Status: &status, ErrorMessage: &message, FinishedAt: &now}
		if err := reg.Update(ctx, jobID, patch); err != nil {
			return fmt.Errorf("cancelling queued job %s: %w", jobID, err)
		}

	case jobmodel.StatusProcessing:
		cancelRequested := true
		patch := jobmodel.Patch{CancelRequested: &cancelRequested}
		if err := reg.Update(ctx, jobID, patch); err != nil {
			return fmt.Errorf("requesting cancellation of job %s: %w", jobID, err)
		}
	}

	logger.Infow("cancellation requested", "job_id", jobID, "status", job.Status)
	return nil
}
