// Package fragment defines the ephemeral Fragment and FragmentResult
// types exchanged between the Stream Fragmenter, the Worker Pool, and
// the Job Runner, as specified in section 3 of the design specification.
package fragment

import "github.com/gurre/ddb-pitr/jobmodel"

// Fragment is a contiguous, line-aligned slice of the input stream
// dispatched to one worker. Ownership transfers from the fragmenter to
// the worker on dispatch: per section 5, the fragmenter must not retain
// any reference to Bytes after handing a Fragment to a worker. Go has no
// move semantics, so that invariant is documented, not enforced — the
// fragmenter's emit path never reads Bytes again after dispatch.
type Fragment struct {
	SequenceNumber  int64
	Bytes           []byte
	StartLineNumber int64
}

// Result is produced once per fragment by a fragment worker and reduced
// by the job runner via commutative counter addition, per section 4.2
// and section 5 (Ordering).
type Result struct {
	SequenceNumber int64
	WorkerID       int
	ProcessedLines int64
	ProcessedBytes int64
	ErrorCount     int64
	FirstError     *jobmodel.FirstErrorSample
}
