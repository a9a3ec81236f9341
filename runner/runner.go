// Package runner implements the Job Runner state machine from section
// 4.5 of the design specification: the single-job orchestration that
// claims a row, drives the Stream Fragmenter and Worker Pool to
// completion, and persists the terminal outcome.
//
// Grounded on the teacher's coordinator.Run — the signal-aware run
// loop, the ticker-driven progress report, and the single finalizer
// that always writes counters regardless of how the run ended — fully
// generalized from "stream DynamoDB export files through a parser and
// writer" to "stream one delimited file through the fragmenter and
// worker pool and drive a durable job row."
package runner

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gurre/ddb-pitr/config"
	"github.com/gurre/ddb-pitr/fragment"
	"github.com/gurre/ddb-pitr/fragmenter"
	"github.com/gurre/ddb-pitr/internal/xerrors"
	"github.com/gurre/ddb-pitr/jobmodel"
	"github.com/gurre/ddb-pitr/jobsource"
	"github.com/gurre/ddb-pitr/metrics"
	"github.com/gurre/ddb-pitr/refdata"
	"github.com/gurre/ddb-pitr/registry"
	"github.com/gurre/ddb-pitr/validator"
	"github.com/gurre/ddb-pitr/workerpool"
)

// RefDataLoader loads the reference-data membership sets consulted by
// the validator, per section 4.5 step 2 ("Load reference data: snapshot
// into immutable sets"). The concrete loader (an HTTP/S3 JSON fetch) is
// wired in at process startup; this package depends only on the
// narrow contract.
type RefDataLoader interface {
	Load(ctx context.Context) (map[string][]string, error)
}

// ReportUploader archives a job's final throughput report somewhere
// durable beyond the registry row itself, e.g. an S3 object for
// operators auditing historical runs. Optional: a Runner with none
// configured simply skips the upload.
type ReportUploader interface {
	UploadReport(ctx context.Context, uri string, report metrics.Report) error
}

// Option customizes a Runner built by New, beyond the constructor's
// required arguments.
type Option func(*Runner)

// WithReportUploader configures the Runner to archive its final report
// under baseURI (an "s3://bucket/prefix" location; one object per job
// is written beneath it) via uploader after the terminal registry
// write, best-effort — an upload failure is logged and never changes
// the job's outcome.
func WithReportUploader(uploader ReportUploader, baseURI string) Option {
	return func(r *Runner) {
		r.reportUploader = uploader
		r.reportURI = strings.TrimSuffix(baseURI, "/")
	}
}

// pool is the subset of workerpool.Pool the runner depends on directly,
// beyond what it hands to the fragmenter, so tests can substitute a
// fake without building a real worker pool.
type pool interface {
	fragmenter.WorkerPool
	Results() <-chan fragment.Result
	Terminate()
}

// poolFactory builds a fresh pool for one job, sized at NUM_WORKERS per
// section 4.5 step 3. Production wiring is workerpool.New; tests supply
// a fake.
type poolFactory func(vcfg validator.Config, refs *refdata.ReferenceData) pool

// Runner drives one job from claim to terminal state. A Runner is used
// for exactly one job and discarded afterward; the Job Scheduler owns
// constructing one per enqueued job.
type Runner struct {
	jobID     string
	claimedBy string

	reg    registry.Gateway
	source jobsource.StreamSource
	refs   RefDataLoader
	cfg    config.Config
	logger *zap.SugaredLogger

	newPool poolFactory

	reportUploader ReportUploader
	reportURI      string

	mu              sync.Mutex
	cancelRequested bool
	cancelStream    context.CancelFunc
	causeOverride   error
}

// New builds a Runner for jobID, claimed under claimedBy, wired against
// reg for durable state, source for the byte stream, and refs for
// reference-data loading. opts applies optional extras such as
// WithReportUploader.
func New(jobID, claimedBy string, reg registry.Gateway, source jobsource.StreamSource, refs RefDataLoader, cfg config.Config, logger *zap.SugaredLogger, opts ...Option) *Runner {
	r := &Runner{
		jobID:     jobID,
		claimedBy: claimedBy,
		reg:       reg,
		source:    source,
		refs:      refs,
		cfg:       cfg,
		logger:    logger,
		newPool: func(vcfg validator.Config, refs *refdata.ReferenceData) pool {
			return workerpool.New(cfg.NumWorkers, vcfg, refs, logger)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cancel sets the runner's cancellation flag and aborts the in-flight
// HTTP stream, per section 5's "set-once boolean ... plus an HTTP abort
// signal". Safe to call before Run starts, during Run, or more than
// once; a call before Run starts is remembered and honored once Run's
// context exists.
func (r *Runner) Cancel() {
	r.mu.Lock()
	r.cancelRequested = true
	cancel := r.cancelStream
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Runner) wasCancelRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelRequested
}

// abortStream cancels the run context without marking cancelRequested,
// for aborts whose cause is not a user cancellation (a memory breach
// detected by the metrics ticker).
func (r *Runner) abortStream() {
	r.mu.Lock()
	cancel := r.cancelStream
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// setCauseOverride records the terminal cause for a breach detected
// outside the fragmenter's own return path (the metrics ticker's
// memory check), since in that case the fragmenter merely observes
// ctx cancellation and cannot report why. First setter wins.
func (r *Runner) setCauseOverride(err error) {
	r.mu.Lock()
	if r.causeOverride == nil {
		r.causeOverride = err
	}
	r.mu.Unlock()
}

func (r *Runner) getCauseOverride() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.causeOverride
}

// Run executes the full state machine from section 4.5 against the
// file available at downloadURL. It returns a non-nil error only when
// the claim write itself fails, in which case nothing is persisted. A
// lost claim race returns nil without touching the row; every other
// outcome — DONE, ERROR (including a reference-data load failure),
// CANCELLED — is written to the registry and reported as a nil error,
// since from the scheduler's point of view the runner itself completed
// successfully.
func (r *Runner) Run(ctx context.Context, downloadURL string) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancelStream = cancel
	alreadyCancelled := r.cancelRequested
	r.mu.Unlock()
	defer cancel()
	if alreadyCancelled {
		cancel()
	}

	claimed, err := r.claim(runCtx)
	if err != nil {
		return xerrors.Wrapf(err, "claiming job %s", r.jobID)
	}
	if !claimed {
		// Another instance claimed it first; section 4.5 step 1 says to
		// simply abort, the row already belongs to someone else.
		return nil
	}

	counters := metrics.New()

	refMembers, err := r.refs.Load(runCtx)
	if err != nil {
		r.finalize(counters, 0, jobmodel.StatusError, "loading reference data: "+err.Error())
		return nil
	}
	refs := refdata.New(refMembers)

	vcfg := validator.Config{
		MinColumnCount: r.cfg.MinColumnCount,
		CurrencyOffset: r.cfg.CurrencyOffset,
		ProvinceOffset: r.cfg.ProvinceOffset,
		ProductOffset:  r.cfg.ProductOffset,
	}
	workers := r.newPool(vcfg, refs)
	defer workers.Terminate()

	resultsDone := make(chan struct{})
	go r.drainResults(workers, counters, resultsDone)

	heartbeatDone := make(chan struct{})
	go r.runHeartbeat(runCtx, counters, heartbeatDone)

	metricsDone := make(chan struct{})
	go r.runMetricsTicker(runCtx, counters, metricsDone)

	stream, err := r.source.Open(runCtx, downloadURL)
	if err != nil {
		cancel()
		<-heartbeatDone
		<-metricsDone
		workers.Terminate()
		<-resultsDone
		r.finalize(counters, 0, jobmodel.StatusError, "opening download stream: "+err.Error())
		return nil
	}

	frag := fragmenter.New(r.cfg.FragmentMaxBytes, r.logger)
	numFragments, runErr := frag.Run(runCtx, stream, workers, r.afterDispatch(counters))
	_ = stream.Close()

	cancel()
	<-heartbeatDone
	<-metricsDone
	workers.Terminate()
	<-resultsDone

	status, message := r.classify(runErr)
	r.finalize(counters, numFragments, status, message)
	return nil
}

// claim implements section 4.5 step 1: an atomic write from QUEUED to
// PROCESSING, using the registry's conditional update so two instances
// racing on the same job can never both proceed.
func (r *Runner) claim(ctx context.Context) (bool, error) {
	now := time.Now()
	status := jobmodel.StatusProcessing
	patch := jobmodel.Patch{
		Status:      &status,
		StartedAt:   &now,
		HeartbeatAt: &now,
		ClaimedBy:   &r.claimedBy,
	}
	return r.reg.ConditionalUpdate(ctx, r.jobID, patch, registry.ClaimPredicate{RequiredStatus: jobmodel.StatusQueued})
}

// drainResults folds every fragment worker's result into counters,
// running concurrently with the fragmenter so a full result channel
// never blocks a worker's release back to the pool, per workerpool's
// Results doc comment.
func (r *Runner) drainResults(workers pool, counters *metrics.Counters, done chan<- struct{}) {
	defer close(done)
	for res := range workers.Results() {
		counters.AddResult(res.ProcessedLines, res.ProcessedBytes, res.ErrorCount)
		if res.FirstError != nil && r.logger != nil {
			r.logger.Debugw("validation error sample",
				"job_id", r.jobID, "fragment_seq", res.SequenceNumber,
				"line", res.FirstError.LineNumber, "type", res.FirstError.ErrorType)
		}
	}
}

// afterDispatch enforces the fail-fast threshold and the memory
// threshold between fragment dispatches, per section 4.5 step 7 and
// section 5's "checked between fragment dispatches".
func (r *Runner) afterDispatch(counters *metrics.Counters) fragmenter.AfterDispatch {
	return func(ctx context.Context, fragmentSeq, startLineNumber, lineCount int64) error {
		if r.cfg.FailFastThreshold > 0 && counters.ErrorLines() >= r.cfg.FailFastThreshold {
			return xerrors.Wrapf(xerrors.ErrFailFast, "errorLines reached fail-fast threshold %d", r.cfg.FailFastThreshold)
		}
		if r.memoryBreached() {
			return xerrors.Wrap(xerrors.ErrMemoryPressure, "memory threshold breached")
		}
		return nil
	}
}

// memoryBreached reports whether process memory has crossed the
// configured threshold, per section 5's memory discipline.
func (r *Runner) memoryBreached() bool {
	threshold := r.cfg.MemoryThresholdBytes()
	if threshold <= 0 {
		return false
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.Alloc) >= threshold
}

// runHeartbeat implements section 4.5 step 4: on each tick, re-read the
// job row to observe an externally set cancelRequested flag, then write
// heartbeatAt and the current progress counters. Registry errors are
// logged and swallowed to the next tick rather than aborting the job —
// a missed heartbeat write is recovered by recoverStaleJobs, not by
// failing the run in progress.
func (r *Runner) runHeartbeat(ctx context.Context, counters *metrics.Counters, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.heartbeatTick(counters)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) heartbeatTick(counters *metrics.Counters) {
	wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := r.reg.Get(wctx, r.jobID)
	if err != nil {
		if r.logger != nil {
			r.logger.Warnw("heartbeat read failed", "job_id", r.jobID, "error", err)
		}
	} else if job.CancelRequested {
		r.Cancel()
	}

	now := time.Now()
	lines, bytesP, errs, frags := counters.ProcessedLines(), counters.ProcessedBytes(), counters.ErrorLines(), counters.FragmentsDone()
	patch := jobmodel.Patch{
		HeartbeatAt:    &now,
		ProcessedLines: &lines,
		ProcessedBytes: &bytesP,
		ErrorLines:     &errs,
		FragmentsDone:  &frags,
	}
	if err := r.reg.Update(wctx, r.jobID, patch); err != nil && r.logger != nil {
		r.logger.Warnw("heartbeat write failed", "job_id", r.jobID, "error", err)
	}
}

// runMetricsTicker implements section 4.5 step 5: log throughput and
// check memory as a backup to afterDispatch's per-dispatch check, for
// the case of a long gap between dispatches (e.g. waiting on a worker
// mid-fragment).
func (r *Runner) runMetricsTicker(ctx context.Context, counters *metrics.Counters, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.cfg.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			report := counters.Snapshot()
			if r.logger != nil {
				r.logger.Infow("job progress", "job_id", r.jobID, "report", report.String())
			}
			if r.memoryBreached() {
				r.setCauseOverride(xerrors.Wrap(xerrors.ErrMemoryPressure, "memory threshold breached"))
				r.abortStream()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// classify determines the terminal status and message from runErr, per
// section 4.5's "on any failure" rules: cancellation takes precedence
// over any other cause, then a recorded cause override, then the
// fragmenter's own error.
func (r *Runner) classify(runErr error) (jobmodel.Status, string) {
	if runErr == nil {
		return jobmodel.StatusDone, ""
	}
	if r.wasCancelRequested() {
		return jobmodel.StatusCancelled, "Job cancelled by user"
	}
	if cause := r.getCauseOverride(); cause != nil {
		return jobmodel.StatusError, cause.Error()
	}
	return jobmodel.StatusError, runErr.Error()
}

// finalize implements section 4.5 step 9 and the "regardless of cause"
// rule following it: always write current counters, finishedAt, and
// duration, whatever the terminal status turns out to be. It retries
// the write once, best-effort, the same tolerance the heartbeat gives
// a transient registry error.
func (r *Runner) finalize(counters *metrics.Counters, numFragments int64, status jobmodel.Status, message string) {
	wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	report := counters.Snapshot()
	now := time.Now()
	durationMs := report.Duration.Milliseconds()
	validationPassed := status == jobmodel.StatusDone && report.ErrorLines == 0
	totalLines := report.ProcessedLines

	patch := jobmodel.Patch{
		Status:           &status,
		ProcessedLines:   &report.ProcessedLines,
		ProcessedBytes:   &report.ProcessedBytes,
		ErrorLines:       &report.ErrorLines,
		TotalLines:       &totalLines,
		NumFragments:     &numFragments,
		FragmentsDone:    &report.NumFragments,
		FinishedAt:       &now,
		TotalDurationMs:  &durationMs,
		LinesPerSecond:   &report.LinesPerSecond,
		BytesPerSecond:   &report.BytesPerSecond,
		ValidationPassed: &validationPassed,
		ErrorMessage:     &message,
	}

	if err := r.reg.Update(wctx, r.jobID, patch); err != nil {
		if err2 := r.reg.Update(wctx, r.jobID, patch); err2 != nil && r.logger != nil {
			r.logger.Errorw("failed to persist terminal job state", "job_id", r.jobID, "status", status, "error", err2)
		}
	}

	r.uploadReport(report)
}

// uploadReport archives the terminal report via the configured
// ReportUploader, if any. Best-effort: an archival failure never
// changes the job's already-persisted outcome.
func (r *Runner) uploadReport(report metrics.Report) {
	if r.reportUploader == nil || r.reportURI == "" {
		return
	}
	uctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	uri := fmt.Sprintf("%s/%s.json", r.reportURI, r.jobID)
	if err := r.reportUploader.UploadReport(uctx, uri, report); err != nil && r.logger != nil {
		r.logger.Warnw("failed to archive job report", "job_id", r.jobID, "uri", uri, "error", err)
	}
}
