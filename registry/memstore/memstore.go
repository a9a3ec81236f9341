// Package memstore implements registry.Gateway entirely in memory, for
// tests and local runs without a relational or key-value store
// configured.
//
// Grounded on the teacher's checkpoint.MemoryStore (a mutex-guarded map
// standing in for a real backend), generalized from a single blob to a
// map of job rows with status-scoped listing and conditional updates.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/gurre/ddb-pitr/jobmodel"
	"github.com/gurre/ddb-pitr/registry"
)

// Store is an in-memory registry.Gateway.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]jobmodel.Job
}

// New creates an empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]jobmodel.Job)}
}

// Get implements registry.Gateway.
func (s *Store) Get(ctx context.Context, jobID string) (jobmodel.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return jobmodel.Job{}, registry.ErrNotFound
	}
	return j, nil
}

// ListByStatus implements registry.Gateway. orderBy is ignored: rows
// are always returned in ascending createdAt order, since the in-memory
// store has no index to honor arbitrary orderings.
func (s *Store) ListByStatus(ctx context.Context, status jobmodel.Status, orderBy string, limit int) ([]jobmodel.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []jobmodel.Job
	for _, j := range s.jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Update implements registry.Gateway.
func (s *Store) Update(ctx context.Context, jobID string, patch jobmodel.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return registry.ErrNotFound
	}
	patch.Apply(&j)
	s.jobs[jobID] = j
	return nil
}

// ConditionalUpdate implements registry.Gateway's atomic claim: it
// holds the single store-wide lock across the read-compare-write, so
// (unlike a distributed backend) the predicate check really is
// atomic here.
func (s *Store) ConditionalUpdate(ctx context.Context, jobID string, patch jobmodel.Patch, pred registry.ClaimPredicate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return false, registry.ErrNotFound
	}
	if j.Status != pred.RequiredStatus {
		return false, nil
	}
	patch.Apply(&j)
	s.jobs[jobID] = j
	return true, nil
}

// Create implements registry.Gateway.
func (s *Store) Create(ctx context.Context, job jobmodel.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

// Delete implements registry.Gateway.
func (s *Store) Delete(ctx context.Context, pred registry.DeletePredicate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if pred.Status != "" && j.Status != pred.Status {
			continue
		}
		if pred.FinishedAtOld != nil {
			if j.FinishedAt == nil || !j.FinishedAt.Before(*pred.FinishedAtOld) {
				continue
			}
		}
		delete(s.jobs, id)
	}
	return nil
}
