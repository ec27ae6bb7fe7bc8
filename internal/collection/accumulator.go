package collection

import "github.com/david/aap-watch/internal/models"

// Accumulator builds a Collection while enforcing fingerprint uniqueness.
// It is not safe for concurrent use.
type Accumulator struct {
	records []models.CanonicalRecord
	index   map[string]int
}

// NewAccumulator seeds an accumulator with records as given. Duplicates in
// the seed are kept until Deduplicate is called.
func NewAccumulator(records ...models.CanonicalRecord) *Accumulator {
	a := &Accumulator{
		records: append([]models.CanonicalRecord(nil), records...),
	}
	a.reindex()
	return a
}

func (a *Accumulator) reindex() {
	a.index = make(map[string]int, len(a.records))
	for i, r := range a.records {
		fp := r.Fingerprint()
		if _, ok := a.index[fp]; !ok {
			a.index[fp] = i
		}
	}
}

func (a *Accumulator) Len() int { return len(a.records) }

// Contains reports whether a record with this fingerprint is present.
func (a *Accumulator) Contains(fingerprint string) bool {
	_, ok := a.index[fingerprint]
	return ok
}

// Add appends r unless its fingerprint is already present. Rejection
// leaves the accumulator unchanged.
func (a *Accumulator) Add(r models.CanonicalRecord) bool {
	fp := r.Fingerprint()
	if _, ok := a.index[fp]; ok {
		return false
	}
	a.index[fp] = len(a.records)
	a.records = append(a.records, r)
	return true
}

// Merge adds every record of other through the same gate as Add and
// returns how many were added.
func (a *Accumulator) Merge(other Collection) int {
	added := 0
	for _, r := range other.records {
		if a.Add(r) {
			added++
		}
	}
	return added
}

// Deduplicate drops every record whose fingerprint was already seen,
// keeping first-seen order, and returns the number removed.
func (a *Accumulator) Deduplicate() int {
	seen := make(map[string]struct{}, len(a.records))
	kept := a.records[:0:0]
	for _, r := range a.records {
		fp := r.Fingerprint()
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		kept = append(kept, r)
	}
	removed := len(a.records) - len(kept)
	a.records = kept
	a.reindex()
	return removed
}

// Collection snapshots the current contents.
func (a *Accumulator) Collection() Collection {
	return New(a.records...)
}
