// Package idgen generates identifiers used across the module: job IDs at
// create() time and the claimedBy instance identity written during claim.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// NewJobID returns a new random job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// ClaimedBy builds the claimedBy value written on claim: the configured
// INSTANCE_INDEX combined with a per-process random suffix, so two
// instances sharing the same INSTANCE_INDEX (e.g. a misconfigured
// deployment) still produce distinguishable claim values.
func ClaimedBy(instanceIndex string) string {
	return fmt.Sprintf("%s-%s", instanceIndex, uuid.NewString()[:8])
}
