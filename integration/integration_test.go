// Package integration exercises the full fragment-processing flow end
// to end: scheduler.New wired against a real runner, an in-memory
// registry, a fake HTTP stream source, and a fake reference-data
// loader, with no AWS or database dependency.
//
// Grounded on the teacher's integration test (spin up mocks, run the
// full flow, assert the final persisted state), generalized from a
// fixed DynamoDB export fixture directory to an in-memory delimited
// file built by the test itself.
package integration

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/gurre/ddb-pitr/config"
	"github.com/gurre/ddb-pitr/internal/idgen"
	"github.com/gurre/ddb-pitr/jobmodel"
	"github.com/gurre/ddb-pitr/jobsource"
	"github.com/gurre/ddb-pitr/registry/memstore"
	"github.com/gurre/ddb-pitr/scheduler"
)

// fakeStreamSource serves a fixed in-memory payload keyed by download
// URL, standing in for jobsource.HTTPStreamSource.
type fakeStreamSource struct {
	bodies map[string]string
}

func (f *fakeStreamSource) Open(ctx context.Context, downloadURL string) (io.ReadCloser, error) {
	body, ok := f.bodies[downloadURL]
	if !ok {
		return nil, fmt.Errorf("no fixture for download url %q", downloadURL)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

// fakeURLProvider resolves a sourceItemId to itself, so the test can
// preload fakeStreamSource.bodies under the same key.
type fakeURLProvider struct{}

func (fakeURLProvider) GetDownloadURL(ctx context.Context, itemID string) (jobsource.DownloadURL, error) {
	return jobsource.DownloadURL{URL: itemID, ExpiresAt: time.Now().Add(time.Minute)}, nil
}

// fakeRefLoader supplies a fixed reference-data snapshot, the shape
// runner.RefDataLoader expects from an S3 JSON fetch in production.
type fakeRefLoader struct {
	members map[string][]string
}

func (f fakeRefLoader) Load(ctx context.Context) (map[string][]string, error) {
	return f.members, nil
}

func testConfig() config.Config {
	return config.Config{
		MaxConcurrentJobs:  2,
		NumWorkers:         2,
		FragmentMaxBytes:   256,
		HeartbeatInterval:  50 * time.Millisecond,
		HeartbeatTimeout:   time.Minute,
		MetricsLogInterval: time.Second,
		FailFastThreshold:  1000,
		MemoryThresholdPct: 0,
		ContainerMemoryMB:  2048,
		InstanceIndex:      "0",
		MinColumnCount:     4,
		CurrencyOffset:     1,
		ProvinceOffset:     2,
		ProductOffset:      3,
	}
}

func waitForTerminal(t *testing.T, reg *memstore.Store, jobID string, timeout time.Duration) jobmodel.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := reg.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("reading job %s: %v", jobID, err)
		}
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state within %s", jobID, timeout)
	return jobmodel.Job{}
}

// TestFullFlowAllValidLinesDone enqueues a job over a small all-valid
// file and asserts it lands DONE with every line counted and no errors.
func TestFullFlowAllValidLinesDone(t *testing.T) {
	lines := []string{
		"row1;USD;ON;WIDGET",
		"row2;CAD;QC;GADGET",
		"row3;EUR;BC;GIZMO",
		"row4;GBP;AB;DOOHICKEY",
	}
	body := strings.Join(lines, "\n") + "\n"

	reg := memstore.New()
	stream := &fakeStreamSource{bodies: map[string]string{"bucket/key": body}}
	refs := fakeRefLoader{members: map[string][]string{
		"currencies": {"USD", "CAD", "EUR", "GBP"},
		"provinces":  {"ON", "QC", "BC", "AB"},
		"products":   {"WIDGET", "GADGET", "GIZMO", "DOOHICKEY"},
	}}

	sched := scheduler.New(reg, fakeURLProvider{}, stream, refs, testConfig(), nil)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("starting scheduler: %v", err)
	}

	jobID := idgen.NewJobID()
	now := time.Now()
	job := jobmodel.Job{
		ID:           jobID,
		Status:       jobmodel.StatusQueued,
		SourceItemID: "bucket/key",
		FileName:     "fixture.txt",
		CreatedAt:    now,
	}
	if err := reg.Create(context.Background(), job); err != nil {
		t.Fatalf("creating job: %v", err)
	}

	if !sched.Enqueue(jobID, "bucket/key") {
		t.Fatalf("enqueue rejected: scheduler reported no capacity")
	}

	final := waitForTerminal(t, reg, jobID, 5*time.Second)
	if final.Status != jobmodel.StatusDone {
		t.Fatalf("status = %s, want DONE (message: %s)", final.Status, final.ErrorMessage)
	}
	if final.ProcessedLines != int64(len(lines)) {
		t.Fatalf("processedLines = %d, want %d", final.ProcessedLines, len(lines))
	}
	if final.ErrorLines != 0 {
		t.Fatalf("errorLines = %d, want 0", final.ErrorLines)
	}
	if !final.ValidationPassed {
		t.Fatalf("validationPassed = false, want true for an all-valid file")
	}

	sched.Shutdown()
}

// TestFullFlowInvalidLinesStillDone exercises a file with some
// malformed lines: the job still reaches DONE (validation errors are
// per-line outcomes, not run failures), but errorLines is nonzero and
// validationPassed is false.
func TestFullFlowInvalidLinesStillDone(t *testing.T) {
	lines := []string{
		"row1;USD;ON;WIDGET",
		"row2;ZZZ;QC;GADGET", // unknown currency
		"short;cols",         // too few columns
		"row4;GBP;AB;DOOHICKEY",
	}
	body := strings.Join(lines, "\n") + "\n"

	reg := memstore.New()
	stream := &fakeStreamSource{bodies: map[string]string{"bucket/key": body}}
	refs := fakeRefLoader{members: map[string][]string{
		"currencies": {"USD", "CAD", "EUR", "GBP"},
		"provinces":  {"ON", "QC", "BC", "AB"},
		"products":   {"WIDGET", "GADGET", "GIZMO", "DOOHICKEY"},
	}}

	cfg := testConfig()
	cfg.FailFastThreshold = 1000 // well above the two bad lines in this fixture

	sched := scheduler.New(reg, fakeURLProvider{}, stream, refs, cfg, nil)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("starting scheduler: %v", err)
	}

	jobID := idgen.NewJobID()
	job := jobmodel.Job{
		ID:           jobID,
		Status:       jobmodel.StatusQueued,
		SourceItemID: "bucket/key",
		FileName:     "fixture.txt",
		CreatedAt:    time.Now(),
	}
	if err := reg.Create(context.Background(), job); err != nil {
		t.Fatalf("creating job: %v", err)
	}
	if !sched.Enqueue(jobID, "bucket/key") {
		t.Fatalf("enqueue rejected: scheduler reported no capacity")
	}

	final := waitForTerminal(t, reg, jobID, 5*time.Second)
	if final.Status != jobmodel.StatusDone {
		t.Fatalf("status = %s, want DONE (message: %s)", final.Status, final.ErrorMessage)
	}
	if final.ErrorLines != 2 {
		t.Fatalf("errorLines = %d, want 2", final.ErrorLines)
	}
	if final.ValidationPassed {
		t.Fatalf("validationPassed = true, want false when errorLines > 0")
	}

	sched.Shutdown()
}

// TestFullFlowCancelMidRun starts a large job, requests cancellation
// shortly after it begins, and asserts the job lands CANCELLED.
func TestFullFlowCancelMidRun(t *testing.T) {
	var b strings.Builder
	const numLines = 20000
	for i := 0; i < numLines; i++ {
		fmt.Fprintf(&b, "row%d;USD;ON;WIDGET\n", i)
	}

	reg := memstore.New()
	stream := &fakeStreamSource{bodies: map[string]string{"bucket/key": b.String()}}
	refs := fakeRefLoader{members: map[string][]string{
		"currencies": {"USD"},
		"provinces":  {"ON"},
		"products":   {"WIDGET"},
	}}

	cfg := testConfig()
	cfg.NumWorkers = 1
	cfg.FragmentMaxBytes = 64

	sched := scheduler.New(reg, fakeURLProvider{}, stream, refs, cfg, nil)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("starting scheduler: %v", err)
	}

	jobID := idgen.NewJobID()
	job := jobmodel.Job{
		ID:           jobID,
		Status:       jobmodel.StatusQueued,
		SourceItemID: "bucket/key",
		FileName:     "big.txt",
		CreatedAt:    time.Now(),
	}
	if err := reg.Create(context.Background(), job); err != nil {
		t.Fatalf("creating job: %v", err)
	}
	if !sched.Enqueue(jobID, "bucket/key") {
		t.Fatalf("enqueue rejected: scheduler reported no capacity")
	}

	sched.Cancel(jobID)

	final := waitForTerminal(t, reg, jobID, 5*time.Second)
	if final.Status != jobmodel.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", final.Status)
	}

	sched.Shutdown()
}
