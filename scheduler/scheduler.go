// Package scheduler implements the Job Scheduler from section 4.6 of
// the design specification: a process-scoped singleton that enforces
// MAX_CONCURRENT_JOBS, spawns a job runner per admitted job, tracks
// active jobs for cancellation, and drives dequeue and stale-job
// recovery at startup.
//
// Grounded on the teacher's coordinator.Run goroutine-plus-WaitGroup
// shape for spawning and joining concurrent work, generalized from a
// fixed worker count processing a bounded file list to an admission-
// controlled, continuously replenished queue of jobs.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gurre/ddb-pitr/config"
	"github.com/gurre/ddb-pitr/internal/idgen"
	"github.com/gurre/ddb-pitr/jobmodel"
	"github.com/gurre/ddb-pitr/jobsource"
	"github.com/gurre/ddb-pitr/registry"
	"github.com/gurre/ddb-pitr/runner"
)

// runnerHandle is the narrow surface Scheduler needs from a runner.Runner,
// declared locally so tests can substitute a fake runner instead of
// exercising the full fragmenter/worker-pool machinery.
type runnerHandle interface {
	Run(ctx context.Context, downloadURL string) error
	Cancel()
}

// runnerFactory builds a runnerHandle for one job. Production wiring is
// newRunnerHandle (below); tests supply a fake.
type runnerFactory func(jobID, claimedBy string) runnerHandle

// Scheduler is the singleton described in section 4.6. Construct one
// per process via New, call Start once at startup, and Shutdown once
// at process exit; it is never implicitly global, per section 9's
// design note on the singleton scheduler.
type Scheduler struct {
	reg         registry.Gateway
	urlProvider jobsource.DownloadURLProvider
	cfg         config.Config
	logger      *zap.SugaredLogger
	newRunner   runnerFactory
	urlRate     *rate.Limiter

	mu          sync.Mutex
	activeCount int
	activeJobs  map[string]runnerHandle

	wg sync.WaitGroup
}

// New builds a Scheduler bounded by cfg.MaxConcurrentJobs, wired
// against reg for durable state and urlProvider for the autoDequeue
// download-URL lookup. source and refs are forwarded to every spawned
// runner.
func New(reg registry.Gateway, urlProvider jobsource.DownloadURLProvider, source jobsource.StreamSource, refs runner.RefDataLoader, cfg config.Config, logger *zap.SugaredLogger, runnerOpts ...runner.Option) *Scheduler {
	s := &Scheduler{
		reg:         reg,
		urlProvider: urlProvider,
		cfg:         cfg,
		logger:      logger,
		activeJobs:  make(map[string]runnerHandle),
		urlRate:     rate.NewLimiter(rate.Limit(5), 2),
	}
	s.newRunner = func(jobID, claimedBy string) runnerHandle {
		return runner.New(jobID, claimedBy, reg, source, refs, cfg, logger, runnerOpts...)
	}
	return s
}

// Start performs the startup sequence named in section 4.6:
// recoverStaleJobs, which itself calls autoDequeue once finished. Call
// this once, after New, before accepting external enqueue requests.
func (s *Scheduler) Start(ctx context.Context) error {
	return s.RecoverStaleJobs(ctx)
}

// Shutdown cancels every active job and blocks until all spawned
// runner goroutines have returned, the explicit lifecycle hook named
// in section 9 (paired with Start).
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for _, r := range s.activeJobs {
		r.Cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// ActiveCount reports the number of jobs currently running, for
// observability.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCount
}

// Enqueue implements section 4.6's enqueue(jobId, downloadUrl): if
// there is spare capacity, it increments activeCount, spawns a runner
// asynchronously, and returns true; otherwise it returns false,
// leaving the job in QUEUED status for a later autoDequeue to pick up.
// A jobID already dispatched in this process is rejected rather than
// dispatched a second time: the registry claim that removes a job from
// QUEUED happens inside the runner goroutine, asynchronously, so
// AutoDequeue can otherwise observe the same still-QUEUED row across
// two loop iterations and enqueue it twice before the first claim
// commits.
func (s *Scheduler) Enqueue(jobID, downloadURL string) bool {
	s.mu.Lock()
	if s.activeCount >= s.cfg.MaxConcurrentJobs {
		s.mu.Unlock()
		return false
	}
	if _, inFlight := s.activeJobs[jobID]; inFlight {
		s.mu.Unlock()
		return false
	}
	s.activeCount++
	claimedBy := idgen.ClaimedBy(s.cfg.InstanceIndex)
	r := s.newRunner(jobID, claimedBy)
	s.activeJobs[jobID] = r
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := r.Run(context.Background(), downloadURL); err != nil && s.logger != nil {
			s.logger.Errorw("runner returned an unexpected error", "job_id", jobID, "error", err)
		}

		s.mu.Lock()
		delete(s.activeJobs, jobID)
		s.activeCount--
		s.mu.Unlock()

		s.AutoDequeue(context.Background())
	}()
	return true
}

// Cancel implements section 4.6's cancel(jobId): if the job is
// currently active in this process, it sets the runner's in-memory
// cancellation flag and aborts its HTTP stream. Idempotent. If the job
// is not active here, the caller is responsible for setting
// cancelRequested in the registry (or marking a still-QUEUED/NEW job
// CANCELLED directly), per section 4.6 — this process has no runner to
// signal.
func (s *Scheduler) Cancel(jobID string) {
	s.mu.Lock()
	r, ok := s.activeJobs[jobID]
	s.mu.Unlock()
	if ok {
		r.Cancel()
	}
}

// AutoDequeue implements section 4.6's autoDequeue: while there is
// spare capacity, it picks the oldest QUEUED job(s), resolves a fresh
// download URL, and enqueues them. Download URL resolution is rate
// limited so a run of QUEUED jobs backed by an unreachable metadata
// provider cannot hammer it. A job whose URL cannot be resolved is
// marked ERROR and skipped, not retried in this call. Calling
// AutoDequeue when already at capacity is a no-op, satisfying the
// idempotence property from section 8.
//
// A job's registry row only leaves QUEUED once its runner's claim
// commits, which happens asynchronously inside the goroutine Enqueue
// spawns — so the same still-QUEUED row can surface again on the next
// iteration before that claim lands. ListByStatus is therefore fetched
// in a batch sized to the current capacity gap, and any row already
// dispatched in this process (tracked in activeJobs) is skipped rather
// than re-enqueued, so a second QUEUED job isn't starved behind an
// in-flight duplicate of the first.
func (s *Scheduler) AutoDequeue(ctx context.Context) {
	for {
		s.mu.Lock()
		room := s.cfg.MaxConcurrentJobs - s.activeCount
		s.mu.Unlock()
		if room <= 0 {
			return
		}

		jobs, err := s.reg.ListByStatus(ctx, jobmodel.StatusQueued, "createdAt", room)
		if err != nil {
			if s.logger != nil {
				s.logger.Errorw("listing queued jobs failed", "error", err)
			}
			return
		}

		dispatched := false
		for _, next := range jobs {
			s.mu.Lock()
			_, inFlight := s.activeJobs[next.ID]
			s.mu.Unlock()
			if inFlight {
				continue
			}

			if s.urlRate != nil {
				if err := s.urlRate.Wait(ctx); err != nil {
					return
				}
			}
			downloadURL, err := s.urlProvider.GetDownloadURL(ctx, next.SourceItemID)
			if err != nil {
				s.markURLResolutionFailed(ctx, next.ID, err)
				continue
			}

			if s.Enqueue(next.ID, downloadURL.URL) {
				dispatched = true
			}
		}

		if !dispatched {
			// Nothing in this batch was eligible (all in flight, all
			// capacity consumed, or all failed URL resolution); stop
			// rather than spin, the next completion will trigger
			// autoDequeue again.
			return
		}
	}
}

func (s *Scheduler) markURLResolutionFailed(ctx context.Context, jobID string, cause error) {
	status := jobmodel.StatusError
	message := fmt.Sprintf("resolving download url: %v", cause)
	now := time.Now()
	patch := jobmodel.Patch{Status: &status, ErrorMessage: &message, FinishedAt: &now}
	if err := s.reg.Update(ctx, jobID, patch); err != nil && s.logger != nil {
		s.logger.Errorw("failed to mark job errored after url resolution failure", "job_id", jobID, "error", err)
	}
}

// RecoverStaleJobs implements section 4.6's recoverStaleJobs: every row
// left in PROCESSING with a missing or expired heartbeat is the
// evidence of a crashed instance, transitioned to ERROR so it can be
// re-enqueued by an operator. Finishes by calling autoDequeue.
func (s *Scheduler) RecoverStaleJobs(ctx context.Context) error {
	jobs, err := s.reg.ListByStatus(ctx, jobmodel.StatusProcessing, "heartbeatAt", 0)
	if err != nil {
		return fmt.Errorf("scheduler: listing processing jobs: %w", err)
	}

	cutoff := time.Now().Add(-s.cfg.HeartbeatTimeout)
	for _, job := range jobs {
		if job.HeartbeatAt != nil && job.HeartbeatAt.After(cutoff) {
			continue
		}
		status := jobmodel.StatusError
		message := "Recovered after instance restart (stale heartbeat)"
		now := time.Now()
		patch := jobmodel.Patch{Status: &status, ErrorMessage: &message, FinishedAt: &now}
		if err := s.reg.Update(ctx, job.ID, patch); err != nil && s.logger != nil {
			s.logger.Errorw("failed to recover stale job", "job_id", job.ID, "error", err)
		}
	}

	s.AutoDequeue(ctx)
	return nil
}
