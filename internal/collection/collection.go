// Package collection holds ordered sets of canonical records keyed by
// fingerprint. Collection values are read-only; every filter and sort
// returns a new Collection. Accumulator is the mutable builder that owns the
// deduplication gate.
package collection

import (
	"sort"
	"strings"
	"time"

	"github.com/david/aap-watch/internal/models"
)

type Collection struct {
	records []models.CanonicalRecord
}

// New wraps records as given, duplicates included. Use an Accumulator to
// gate or repair duplicates.
func New(records ...models.CanonicalRecord) Collection {
	return Collection{records: append([]models.CanonicalRecord(nil), records...)}
}

func (c Collection) Len() int { return len(c.records) }

// Records returns a copy of the underlying slice.
func (c Collection) Records() []models.CanonicalRecord {
	return append([]models.CanonicalRecord(nil), c.records...)
}

// Sources lists contributing source ids in first-seen order.
func (c Collection) Sources() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range c.records {
		if r.Source.ID == "" {
			continue
		}
		if _, ok := seen[r.Source.ID]; ok {
			continue
		}
		seen[r.Source.ID] = struct{}{}
		out = append(out, r.Source.ID)
	}
	return out
}

// Fingerprints lists record fingerprints in collection order.
func (c Collection) Fingerprints() []string {
	out := make([]string, len(c.records))
	for i, r := range c.records {
		out[i] = r.Fingerprint()
	}
	return out
}

func (c Collection) filter(keep func(models.CanonicalRecord) bool) Collection {
	var out []models.CanonicalRecord
	for _, r := range c.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return Collection{records: out}
}

func (c Collection) FilterActive(asOf time.Time) Collection {
	return c.filter(func(r models.CanonicalRecord) bool {
		return r.IsActiveAt(asOf)
	})
}

// FilterByCategory keeps records having any of the given categories.
func (c Collection) FilterByCategory(categories ...models.Category) Collection {
	return c.filter(func(r models.CanonicalRecord) bool {
		for _, cat := range categories {
			if r.HasCategory(cat) {
				return true
			}
		}
		return false
	})
}

// FilterByEligibility keeps records open to any of the given applicant
// types. Records without eligibility restrictions match every filter.
func (c Collection) FilterByEligibility(types ...models.EligibilityType) Collection {
	return c.filter(func(r models.CanonicalRecord) bool {
		if r.IsUnrestricted() {
			return true
		}
		for _, t := range types {
			if r.HasEligibility(t) {
				return true
			}
		}
		return false
	})
}

func (c Collection) FilterByUrgency(asOf time.Time, levels ...models.Urgency) Collection {
	return c.filter(func(r models.CanonicalRecord) bool {
		u := r.UrgencyAt(asOf)
		for _, l := range levels {
			if u == l {
				return true
			}
		}
		return false
	})
}

func (c Collection) FilterBySource(ids ...string) Collection {
	return c.filter(func(r models.CanonicalRecord) bool {
		for _, id := range ids {
			if r.Source.ID == id {
				return true
			}
		}
		return false
	})
}

// Search matches query case-insensitively against title, resume and tags.
// An empty query matches everything.
func (c Collection) Search(query string) Collection {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return New(c.records...)
	}
	return c.filter(func(r models.CanonicalRecord) bool {
		if strings.Contains(strings.ToLower(r.Title), q) ||
			strings.Contains(strings.ToLower(r.Resume), q) {
			return true
		}
		for _, tag := range r.Tags {
			if strings.Contains(strings.ToLower(tag), q) {
				return true
			}
		}
		return false
	})
}

// SortByDeadline orders by deadline. Records without a deadline come last
// in both directions; equal keys keep their relative order.
func (c Collection) SortByDeadline(ascending bool) Collection {
	out := c.Records()
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Deadline, out[j].Deadline
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		case ascending:
			return a.Before(*b)
		default:
			return a.After(*b)
		}
	})
	return Collection{records: out}
}

// SortByUrgency orders by urgency priority: expired, urgent, upcoming,
// comfortable, permanent. Within a level the earliest deadline comes first.
func (c Collection) SortByUrgency(asOf time.Time) Collection {
	out := c.SortByDeadline(true).records
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UrgencyAt(asOf).Rank() < out[j].UrgencyAt(asOf).Rank()
	})
	return Collection{records: out}
}
