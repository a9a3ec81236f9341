package fragmenter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/gurre/ddb-pitr/fragment"
)

// fakePool is a minimal WorkerPool that never blocks: every Acquire
// call is granted immediately with worker ID 0, and Dispatch records
// the fragment synchronously. This isolates fragmenter logic from the
// real workerpool package's goroutine scheduling.
type fakePool struct {
	mu        sync.Mutex
	dispatched []fragment.Fragment
}

func (p *fakePool) Acquire(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return 0, nil
}

func (p *fakePool) Dispatch(workerID int, frag fragment.Fragment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Copy frag.Bytes: the real pool's contract is that the fragmenter
	// never touches the slab again after Dispatch, so a test double
	// that retained the original slice would hide aliasing bugs.
	cp := make([]byte, len(frag.Bytes))
	copy(cp, frag.Bytes)
	frag.Bytes = cp
	p.dispatched = append(p.dispatched, frag)
}

func (p *fakePool) AwaitAllIdle(ctx context.Context) error {
	return nil
}

func TestRunEmptyStream(t *testing.T) {
	f := New(1024, nil)
	pool := &fakePool{}
	n, err := f.Run(context.Background(), bytes.NewReader(nil), pool, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 0 {
		t.Errorf("numFragments = %d, want 0", n)
	}
	if len(pool.dispatched) != 0 {
		t.Errorf("dispatched %d fragments, want 0", len(pool.dispatched))
	}
}

func TestRunSingleLineNoTrailingNewline(t *testing.T) {
	f := New(1024, nil)
	pool := &fakePool{}
	n, err := f.Run(context.Background(), strings.NewReader("a;b;c"), pool, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 1 {
		t.Fatalf("numFragments = %d, want 1", n)
	}
	if string(pool.dispatched[0].Bytes) != "a;b;c" {
		t.Errorf("fragment bytes = %q, want %q", pool.dispatched[0].Bytes, "a;b;c")
	}
	if pool.dispatched[0].StartLineNumber != 1 {
		t.Errorf("StartLineNumber = %d, want 1", pool.dispatched[0].StartLineNumber)
	}
}

func TestRunSingleLineExceedsMaxBytes(t *testing.T) {
	// maxBytes smaller than the only line: no split must occur inside it.
	f := New(4, nil)
	pool := &fakePool{}
	long := strings.Repeat("x", 100)
	n, err := f.Run(context.Background(), strings.NewReader(long+"\n"), pool, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 1 {
		t.Fatalf("numFragments = %d, want 1", n)
	}
	if string(pool.dispatched[0].Bytes) != long {
		t.Errorf("fragment truncated or split: got %d bytes, want %d", len(pool.dispatched[0].Bytes), len(long))
	}
}

func TestRunSplitsAtByteThreshold(t *testing.T) {
	f := New(10, nil)
	pool := &fakePool{}
	// Five 4-byte lines ("xxx\n" each) fed one byte at a time: each time
	// the buffer reaches 10 bytes it is cut at its last newline, giving
	// fragments of 2, 2 and 1 lines.
	input := strings.Repeat("xxx\n", 5)
	n, err := f.Run(context.Background(), iotest.OneByteReader(strings.NewReader(input)), pool, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n < 2 {
		t.Fatalf("expected at least 2 fragments from a %d-byte stream at threshold 10, got %d", len(input), n)
	}

	var totalLines int64
	var prevStart int64 = 1
	for i, frag := range pool.dispatched {
		if frag.StartLineNumber != prevStart {
			t.Errorf("fragment %d StartLineNumber = %d, want %d", i, frag.StartLineNumber, prevStart)
		}
		lc := countLines(frag.Bytes)
		totalLines += lc
		prevStart += lc
	}
	if totalLines != 5 {
		t.Errorf("total lines across fragments = %d, want 5", totalLines)
	}
}

func TestRunLineNumberContinuityAcrossManyFragments(t *testing.T) {
	f := New(64, nil)
	pool := &fakePool{}

	var sb strings.Builder
	const total = 500
	for i := 1; i <= total; i++ {
		fmt.Fprintf(&sb, "line-%d;x;y\n", i)
	}

	// One byte per read, so the 64-byte threshold is crossed many times.
	_, err := f.Run(context.Background(), iotest.OneByteReader(strings.NewReader(sb.String())), pool, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var lineNo int64 = 1
	for _, frag := range pool.dispatched {
		if frag.StartLineNumber != lineNo {
			t.Fatalf("fragment seq=%d StartLineNumber = %d, want %d", frag.SequenceNumber, frag.StartLineNumber, lineNo)
		}
		lineNo += countLines(frag.Bytes)
	}
	if lineNo-1 != total {
		t.Errorf("last line number = %d, want %d", lineNo-1, total)
	}
}

func TestRunCRLFDoesNotAffectLineCounting(t *testing.T) {
	f := New(1024, nil)
	pool := &fakePool{}
	input := "a;b;c\r\nd;e;f\r\n"
	n, err := f.Run(context.Background(), strings.NewReader(input), pool, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 1 {
		t.Fatalf("numFragments = %d, want 1", n)
	}
	if countLines(pool.dispatched[0].Bytes) != 2 {
		t.Errorf("line count = %d, want 2", countLines(pool.dispatched[0].Bytes))
	}
}

func TestRunAfterDispatchHookCanAbort(t *testing.T) {
	f := New(8, nil)
	pool := &fakePool{}
	input := strings.Repeat("xxx\n", 10)
	abortErr := fmt.Errorf("fail-fast threshold exceeded")

	calls := 0
	_, err := f.Run(context.Background(), iotest.OneByteReader(strings.NewReader(input)), pool, func(ctx context.Context, seq, start, lc int64) error {
		calls++
		if calls == 2 {
			return abortErr
		}
		return nil
	})
	if err != abortErr {
		t.Fatalf("Run error = %v, want %v", err, abortErr)
	}
	if calls != 2 {
		t.Errorf("after-dispatch hook called %d times, want exactly 2 before abort", calls)
	}
}

func TestRunRespectsContextCancellation(t *testing.T) {
	f := New(1024, nil)
	pool := &fakePool{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Run(ctx, strings.NewReader("a;b;c\n"), pool, nil)
	if err == nil {
		t.Fatal("expected Run to return an error for an already-cancelled context")
	}
}

// blockingReader never returns data or EOF until unblocked; used to
// confirm Run does not spin once a read is outstanding and ctx is not
// yet cancelled (a minimal liveness smoke test).
type blockingReader struct {
	unblock chan struct{}
}

func (r *blockingReader) Read(p []byte) (int, error) {
	<-r.unblock
	return 0, io.EOF
}

func TestRunBlocksUntilSourceYields(t *testing.T) {
	f := New(1024, nil)
	pool := &fakePool{}
	r := &blockingReader{unblock: make(chan struct{})}
	done := make(chan error, 1)
	go func() {
		_, err := f.Run(context.Background(), r, pool, nil)
		done <- err
	}()
	close(r.unblock)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
