// Package xerrors re-exports github.com/cockroachdb/errors, providing
// stack traces and structured wrapping for the whole module.
//
// Usage:
//
//	if err := doSomething(); err != nil {
//	    return xerrors.Wrap(err, "failed to do something")
//	}
//
//	if xerrors.Is(err, ErrCancelled) {
//	    // handle cancellation
//	}
package xerrors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping.
var (
	New   = crdb.New
	Newf  = crdb.Newf
	Wrap  = crdb.Wrap
	Wrapf = crdb.Wrapf
	Is    = crdb.Is
	As    = crdb.As
	Mark  = crdb.Mark
)

// Sentinel markers for a job runner's failure causes, for use with
// Is/Mark without losing the wrapped chain. The runner wraps
// ErrFailFast and ErrMemoryPressure into the errors it raises;
// runner.classify picks the terminal status from the cancellation flag
// and a recorded cause, not by matching these sentinels.
var (
	// ErrCancelled marks a failure caused by cooperative cancellation
	// (cancel() call or abort signal), as opposed to a transient or
	// data-quality failure.
	ErrCancelled = crdb.New("job cancelled")

	// ErrFailFast marks a failure caused by crossing FAIL_FAST_THRESHOLD.
	ErrFailFast = crdb.New("fail-fast threshold exceeded")

	// ErrMemoryPressure marks a failure caused by crossing the memory
	// threshold between fragment dispatches.
	ErrMemoryPressure = crdb.New("memory threshold exceeded")

	// ErrClaimLost marks a failed claim: the row was no longer QUEUED
	// when this instance attempted to claim it (another instance won).
	ErrClaimLost = crdb.New("job claim lost")
)
