package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gurre/ddb-pitr/internal/idgen"
	"github.com/gurre/ddb-pitr/jobmodel"
)

var (
	enqueueSourceItemID string
	enqueueFileName     string
)

// enqueueCmd implements the external control plane's create-and-submit
// action: it inserts a new QUEUED job row. A running `serve` process
// picks it up via autoDequeue, per section 4.6.
var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Submit a new job for processing",
	RunE:  runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueSourceItemID, "source-item-id", "", "identity resolved by the download-URL provider (required)")
	enqueueCmd.Flags().StringVar(&enqueueFileName, "file-name", "", "human-readable file name recorded on the job")
	_ = enqueueCmd.MarkFlagRequired("source-item-id")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
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

	job := jobmodel.Job{
		ID:           idgen.NewJobID(),
		Status:       jobmodel.StatusQueued,
		FileName:     enqueueFileName,
		SourceItemID: enqueueSourceItemID,
		CreatedAt:    time.Now(),
	}
	if err := reg.Create(ctx, job); err != nil {
		return fmt.Errorf("creating job: %w", err)
	}

	logger.Infow("job enqueued", "job_id", job.ID, "source_item_id", job.SourceItemID)
	fmt.Println(job.ID)
	return nil
}
