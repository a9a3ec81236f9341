// Package workerpool implements the fixed-size fragment worker pool
// described in section 4.3 of the design specification. It exposes
// acquire/release with bounded waiting, realizes backpressure for the
// Stream Fragmenter, and provides a barrier for "all workers idle".
//
// The acquire/dispatch/idle-barrier shape continues the worker
// coordination pattern from the teacher's coordinator.go (task channel +
// per-worker goroutine + WorkerStatus map), generalized from a
// channel-fed task loop into an explicit acquire/release handle so the
// Stream Fragmenter can block on backpressure one fragment at a time
// instead of feeding an unbounded channel.
package workerpool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gurre/ddb-pitr/fragment"
	"github.com/gurre/ddb-pitr/internal/xerrors"
	"github.com/gurre/ddb-pitr/jobmodel"
	"github.com/gurre/ddb-pitr/refdata"
	"github.com/gurre/ddb-pitr/validator"
)

// Status tracks one worker's progress and errors for observability; it
// carries no memory figures. Field order mirrors the teacher's
// WorkerStatus: largest-to-smallest for alignment.
type Status struct {
	LastActive   time.Time
	LastError    error
	CurrentSeq   int64
	Processed    int64
	Errors       int64
	ID           int
	Busy         bool
}

// Pool is the fixed-size worker pool from section 4.3. Workers never run
// user validation concurrently with each other over shared mutable
// state — the only thing they share is the read-only reference-data
// snapshot.
type Pool struct {
	size   int
	logger *zap.SugaredLogger
	refs   *refdata.ReferenceData
	vcfg   validator.Config

	sem   chan struct{} // one token per idle worker slot; acquire blocks on this
	slots chan int      // FIFO of idle worker IDs, refilled on release

	mu     sync.RWMutex
	status map[int]*Status

	wg       sync.WaitGroup
	inboxes  []chan fragment.Fragment // one dedicated channel per worker ID
	resultC  chan fragment.Result

	terminated bool
	termMu     sync.Mutex
}

// New builds a Pool of size workers, each validating lines against the
// given reference-data snapshot and validator configuration.
func New(size int, vcfg validator.Config, refs *refdata.ReferenceData, logger *zap.SugaredLogger) *Pool {
	p := &Pool{
		size:    size,
		logger:  logger,
		refs:    refs,
		vcfg:    vcfg,
		sem:     make(chan struct{}, size),
		slots:   make(chan int, size),
		status:  make(map[int]*Status, size),
		inboxes: make([]chan fragment.Fragment, size),
		resultC: make(chan fragment.Result, size),
	}
	for i := 0; i < size; i++ {
		p.sem <- struct{}{}
		p.slots <- i
		p.status[i] = &Status{ID: i, LastActive: time.Now()}
		p.inboxes[i] = make(chan fragment.Fragment)
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
	return p
}

// Acquire blocks, in FIFO order among waiters, until a worker is idle,
// then returns its ID with the worker marked busy. Per section 4.3 the
// wakeup order among waiters "must not starve any single waiter
// indefinitely" — the buffered slots channel gives exactly that: the
// oldest-released worker ID is handed out first.
func (p *Pool) Acquire(ctx context.Context) (int, error) {
	select {
	case <-p.sem:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	id := <-p.slots
	p.mu.Lock()
	p.status[id].Busy = true
	p.mu.Unlock()
	return id, nil
}

// Dispatch hands fragment ownership to the previously acquired worker
// id. The fragmenter must not touch frag.Bytes after this call returns.
func (p *Pool) Dispatch(workerID int, frag fragment.Fragment) {
	p.inboxes[workerID] <- frag
}

// Results returns the channel of FragmentResults posted by workers. The
// job runner drains this concurrently with dispatching fragments so a
// full result channel never blocks a worker's release.
func (p *Pool) Results() <-chan fragment.Result {
	return p.resultC
}

// AwaitAllIdle blocks until every worker has returned to the idle set,
// used at end-of-stream per section 4.4.
func (p *Pool) AwaitAllIdle(ctx context.Context) error {
	for len(p.sem) < p.size {
		select {
		case <-time.After(5 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Terminate releases all worker resources. Idempotent.
func (p *Pool) Terminate() {
	p.termMu.Lock()
	defer p.termMu.Unlock()
	if p.terminated {
		return
	}
	p.terminated = true
	for _, inbox := range p.inboxes {
		close(inbox)
	}
	p.wg.Wait()
	close(p.resultC)
}

// Snapshot returns a copy of every worker's current status.
func (p *Pool) Snapshot() []Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Status, 0, len(p.status))
	for _, s := range p.status {
		out = append(out, *s)
	}
	return out
}

// runWorker is the Fragment Worker from section 4.2: it consumes
// dispatched fragments, scans lines, accumulates counts and a
// first-error sample, and reports a single Result before returning to
// idle. A panic in the user validator is recovered so it cannot crash
// the pool, per section 4.3 ("A worker failing ... must ... not crash
// the pool").
func (p *Pool) runWorker(id int) {
	defer p.wg.Done()
	v := validator.New(p.vcfg, p.refs)

	for frag := range p.inboxes[id] {
		res := p.processFragment(id, v, frag)
		p.resultC <- res

		p.mu.Lock()
		p.status[id].Busy = false
		p.status[id].LastActive = time.Now()
		p.mu.Unlock()

		p.slots <- id
		p.sem <- struct{}{}
	}
}

func (p *Pool) processFragment(id int, v validator.Validator, f fragment.Fragment) (result fragment.Result) {
	result.SequenceNumber = f.SequenceNumber
	result.WorkerID = id

	defer func() {
		if r := recover(); r != nil {
			if p.logger != nil {
				p.logger.Errorw("fragment worker recovered from panic",
					"worker_id", id, "fragment_seq", f.SequenceNumber, "panic", r)
			}
			result.ErrorCount = countLines(f.Bytes)
			if result.FirstError == nil {
				result.FirstError = &jobmodel.FirstErrorSample{
					LineNumber:   f.StartLineNumber,
					ErrorType:    "worker_crash",
					ErrorMessage: "fragment worker panicked while validating",
				}
			}
			p.recordError(id, xerrors.Newf("fragment worker panic: %v", r))
		}
	}()

	lineNo := f.StartLineNumber
	start := 0
	for i := 0; i <= len(f.Bytes); i++ {
		if i < len(f.Bytes) && f.Bytes[i] != '\n' {
			continue
		}
		line := f.Bytes[start:i]
		start = i + 1
		if i == len(f.Bytes) && len(line) == 0 {
			break // no trailing partial line
		}
		trimmed := trimASCIISpace(line)
		if len(trimmed) == 0 {
			lineNo++
			continue
		}

		result.ProcessedBytes += int64(len(line)) + 1
		result.ProcessedLines++
		ok, verr := v.Validate(string(line))
		if !ok {
			result.ErrorCount++
			if result.FirstError == nil {
				result.FirstError = &jobmodel.FirstErrorSample{
					LineNumber:   lineNo,
					ErrorType:    string(verr.Type),
					ErrorMessage: verr.Message,
					FieldName:    verr.Field,
					FieldValue:   verr.Value,
					RawLine:      jobmodel.TruncateRawLine(string(line)),
				}
			}
		}
		lineNo++
	}

	p.mu.Lock()
	p.status[id].Processed += result.ProcessedLines
	p.status[id].Errors += result.ErrorCount
	p.status[id].CurrentSeq = f.SequenceNumber
	p.mu.Unlock()

	return result
}

func (p *Pool) recordError(id int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status[id].LastError = err
}

func countLines(b []byte) int64 {
	var n int64
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	if len(b) > 0 && b[len(b)-1] != '\n' {
		n++
	}
	return n
}

func trimASCIISpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isASCIISpace(b[start]) {
		start++
	}
	for end > start && isASCIISpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isASCIISpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\v', '\f':
		return true
	default:
		return false
	}
}
