// Package registry defines the Job Registry Gateway from section 4.7 of
// the design specification: a typed facade over whichever durable store
// backs job rows, exposing only the operations the core needs. The core
// (runner, scheduler) depends on the Gateway interface alone; the
// concrete backend (registry/memstore, registry/dynamostore,
// registry/sqlstore) is wired in at process startup.
//
// Grounded on the teacher's checkpoint.Store interface (one narrow
// persistence contract, multiple backends selected by the caller),
// generalized from a single checkpoint blob to full job rows with
// conditional updates and status-scoped listing.
package registry

import (
	"context"
	"time"

	"github.com/gurre/ddb-pitr/internal/xerrors"
	"github.com/gurre/ddb-pitr/jobmodel"
)

// ErrNotFound is returned by Get when no row exists for the given job
// ID.
var ErrNotFound = xerrors.New("registry: job not found")

// ErrConditionFailed names the case where a conditional update's
// predicate did not match — section 4.5 step 1's "another instance
// claimed it" case. The backends in this module do not return it:
// their ConditionalUpdate reports that case as changed=false with a nil
// error.
var ErrConditionFailed = xerrors.New("registry: conditional update predicate did not match")

// ClaimPredicate is the conditional-update precondition used for the
// atomic claim in section 4.5 step 1: the row must currently be in
// RequiredStatus for the write to apply. Per Open Question C, a
// backend that cannot express this atomically is still usable —
// ConditionalUpdate degrades to "load, compare, write" there, and the
// runner's claim becomes at-least-once rather than exactly-once.
type ClaimPredicate struct {
	RequiredStatus jobmodel.Status
}

// DeletePredicate scopes the external-control-plane Delete operation
// named in section 4.7. A zero-value field is not applied as a filter.
type DeletePredicate struct {
	Status        jobmodel.Status
	FinishedAtOld *time.Time
}

// Gateway is the exact surface the job runner and scheduler depend on,
// per section 4.7. create and delete exist for the external control
// plane, not the core job-processing path.
type Gateway interface {
	// Get fetches one job row. Returns ErrNotFound if absent.
	Get(ctx context.Context, jobID string) (jobmodel.Job, error)

	// ListByStatus returns up to limit rows in status, ordered by
	// orderBy (a field name meaningful to the backend, e.g.
	// "createdAt"). limit <= 0 means no limit.
	ListByStatus(ctx context.Context, status jobmodel.Status, orderBy string, limit int) ([]jobmodel.Job, error)

	// Update applies a partial update unconditionally.
	Update(ctx context.Context, jobID string, patch jobmodel.Patch) error

	// ConditionalUpdate applies patch only if pred currently holds for
	// the row, reporting whether it changed a row. Used for the
	// atomic claim in section 4.5 step 1.
	ConditionalUpdate(ctx context.Context, jobID string, patch jobmodel.Patch, pred ClaimPredicate) (changed bool, err error)

	// Create inserts a new job row. Used by the external control plane.
	Create(ctx context.Context, job jobmodel.Job) error

	// Delete removes rows matching pred. Used by the external control
	// plane.
	Delete(ctx context.Context, pred DeletePredicate) error
}
