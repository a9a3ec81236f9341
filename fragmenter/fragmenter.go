// Package fragmenter implements the Stream Fragmenter from section 4.4
// of the design specification: it turns an unbounded byte stream into a
// monotonically numbered sequence of line-aligned fragments bounded by
// a byte budget, acquiring a worker before every dispatch so the
// producer can never outrun the pool.
//
// The read-accumulate-slice-dispatch shape continues the teacher's
// streaming callback loop in coordinator.go's worker function (`for
// line := range c.streamer.Stream(...)`), generalized from
// whole-line-at-a-time delivery to byte-budgeted fragments because the
// source here has no line-oriented streaming primitive of its own.
package fragmenter

import (
	"bytes"
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/gurre/ddb-pitr/fragment"
)

// WorkerPool is the subset of workerpool.Pool the fragmenter depends
// on. Declaring it locally keeps this package testable against a bare
// mock, mirroring the teacher's aws/interfaces.go split between
// interface and implementation.
type WorkerPool interface {
	Acquire(ctx context.Context) (int, error)
	Dispatch(workerID int, frag fragment.Fragment)
	AwaitAllIdle(ctx context.Context) error
}

// AfterDispatch is invoked once per emitted fragment, after Dispatch
// returns. It gives the caller (the job runner) a place to apply the
// fail-fast threshold and memory-pressure checks named in section 4.5
// step 7 without the fragmenter needing to know about either. A
// non-nil return aborts the run with that error.
type AfterDispatch func(ctx context.Context, fragmentSeq, startLineNumber, lineCount int64) error

// Fragmenter implements the algorithm from section 4.4.
type Fragmenter struct {
	maxBytes int64
	logger   *zap.SugaredLogger
}

// New builds a Fragmenter that emits fragments no larger than maxBytes
// (except for a single line that itself exceeds the threshold, per
// section 4.4 edge case (i)).
func New(maxBytes int64, logger *zap.SugaredLogger) *Fragmenter {
	return &Fragmenter{maxBytes: maxBytes, logger: logger}
}

const readChunkSize = 64 * 1024

// Run reads src to EOF, slicing it into fragments and dispatching each
// to pool. It returns the total number of fragments emitted. Run checks
// ctx before every read and returns ctx.Err() once it is cancelled,
// including while blocked acquiring a worker. A read already in
// progress is not interrupted by Run itself: it ends when src returns,
// and Run then returns src's error (a ctx-aware source, such as an HTTP
// response body, fails the read once ctx is cancelled).
func (f *Fragmenter) Run(ctx context.Context, src io.Reader, pool WorkerPool, after AfterDispatch) (int64, error) {
	var (
		rolling         bytes.Buffer
		seq             int64
		nextStartLine   int64 = 1
		buf                   = make([]byte, readChunkSize)
	)

	for {
		if err := ctx.Err(); err != nil {
			return seq, err
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			rolling.Write(buf[:n])
			var err error
			seq, nextStartLine, err = f.drainFull(ctx, &rolling, pool, seq, nextStartLine, after)
			if err != nil {
				return seq, err
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return seq, rerr
		}
	}

	// The tail may still end in the stream's final newline; drop it so
	// this fragment, like every fragment cut by drainFull, excludes its
	// terminating newline and countLines sees the true line count.
	if tail := bytes.TrimSuffix(rolling.Bytes(), []byte{'\n'}); len(tail) > 0 {
		var err error
		seq, _, err = f.emit(ctx, tail, pool, seq, nextStartLine, after)
		if err != nil {
			return seq, err
		}
	}

	if err := pool.AwaitAllIdle(ctx); err != nil {
		return seq, err
	}
	return seq, nil
}

// drainFull repeatedly slices and emits fragments from rolling while
// its length is at or above the byte threshold, per section 4.4. It
// leaves any residual tail (including a single overlong line still
// lacking its terminating newline) in rolling for the next read.
func (f *Fragmenter) drainFull(ctx context.Context, rolling *bytes.Buffer, pool WorkerPool, seq, nextStartLine int64, after AfterDispatch) (int64, int64, error) {
	for int64(rolling.Len()) >= f.maxBytes {
		data := rolling.Bytes()
		cut := bytes.LastIndexByte(data, '\n')
		if cut < 0 {
			// No newline anywhere in the buffer: a single line already
			// exceeds maxBytes. Wait for more data, per edge case (i).
			break
		}

		fragBytes := make([]byte, cut)
		copy(fragBytes, data[:cut])
		tail := make([]byte, len(data)-cut-1)
		copy(tail, data[cut+1:])

		var err error
		seq, nextStartLine, err = f.emit(ctx, fragBytes, pool, seq, nextStartLine, after)
		if err != nil {
			return seq, nextStartLine, err
		}

		rolling.Reset()
		rolling.Write(tail)
	}
	return seq, nextStartLine, nil
}

// emit acquires a worker and dispatches one fragment, returning the
// updated sequence number and next startLineNumber.
func (f *Fragmenter) emit(ctx context.Context, data []byte, pool WorkerPool, seq, startLine int64, after AfterDispatch) (int64, int64, error) {
	seq++
	lineCount := countLines(data)

	workerID, err := pool.Acquire(ctx)
	if err != nil {
		return seq - 1, startLine, err
	}

	pool.Dispatch(workerID, fragment.Fragment{
		SequenceNumber:  seq,
		Bytes:           data,
		StartLineNumber: startLine,
	})

	if f.logger != nil {
		f.logger.Debugw("dispatched fragment",
			"sequence", seq, "bytes", len(data), "start_line", startLine, "line_count", lineCount)
	}

	if after != nil {
		if err := after(ctx, seq, startLine, lineCount); err != nil {
			return seq, startLine + lineCount, err
		}
	}

	return seq, startLine + lineCount, nil
}

// countLines returns the number of lines represented by data, which
// never contains a trailing newline (the newline is excluded by the
// caller's slicing). A non-empty slice therefore always has at least
// one line: the number of embedded newlines plus one.
func countLines(data []byte) int64 {
	if len(data) == 0 {
		return 0
	}
	return int64(bytes.Count(data, []byte{'\n'})) + 1
}
