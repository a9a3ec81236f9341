// Package refdata implements the Reference Data described in section 3
// of the design specification: an immutable, per-job snapshot mapping a
// category name (currencies, provinces, products, ...) to an unordered
// set of allowed strings, loaded once at PROCESSING entry and shared
// read-only across all fragment workers for the duration of the job.
package refdata

import (
	"github.com/bits-and-blooms/bloom/v3"
)

// bloomFalsePositiveRate targets a small fast-reject benefit without
// meaningfully growing memory for typical reference-data sizes (tens of
// thousands of codes).
const bloomFalsePositiveRate = 0.01

// category holds one reference-data set plus a bloom-filter fast-reject
// path in front of it. The filter never produces a false negative, so a
// "maybe present" result always falls through to the exact map lookup;
// only a "definitely absent" result skips it. Correctness of Contains is
// therefore governed entirely by the map, never by the filter.
type category struct {
	exact map[string]struct{}
	bloom *bloom.BloomFilter
}

// ReferenceData is the immutable, per-job snapshot described in section
// 3. Construct with New and never mutate after construction — workers
// read it concurrently without synchronization.
type ReferenceData struct {
	categories map[string]category
}

// New builds a ReferenceData snapshot from category name to member-list
// mappings. A category with zero members is stored as present-but-empty;
// the validator treats an empty category as "no restriction" per section
// 4.1 ("if any referenced field has a non-empty refData set").
func New(members map[string][]string) *ReferenceData {
	rd := &ReferenceData{categories: make(map[string]category, len(members))}
	for name, values := range members {
		exact := make(map[string]struct{}, len(values))
		filter := bloom.NewWithEstimates(uint(max(len(values), 1)), bloomFalsePositiveRate)
		for _, v := range values {
			exact[v] = struct{}{}
			filter.AddString(v)
		}
		rd.categories[name] = category{exact: exact, bloom: filter}
	}
	return rd
}

// HasCategory reports whether category name was loaded with at least one
// member. Per section 4.1, an unloaded or empty category imposes no
// restriction on that field.
func (rd *ReferenceData) HasCategory(name string) bool {
	c, ok := rd.categories[name]
	return ok && len(c.exact) > 0
}

// Contains reports whether value is a member of category name. The
// bloom filter is consulted first purely as a fast-reject: when it
// reports "definitely absent" the exact map is never probed, saving a
// hash-map lookup on the common case of an invalid or freeform value in
// a large category; whenever it reports "maybe present" the exact map is
// the authority.
func (rd *ReferenceData) Contains(name, value string) bool {
	c, ok := rd.categories[name]
	if !ok {
		return false
	}
	if c.bloom != nil && !c.bloom.TestString(value) {
		return false
	}
	_, found := c.exact[value]
	return found
}
