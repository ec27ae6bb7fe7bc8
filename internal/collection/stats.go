package collection

import (
	"time"

	"github.com/david/aap-watch/internal/models"
)

// Stats are counts over a collection as of a given day. Records without
// eligibility restrictions are counted in Unrestricted, not ByEligibility.
type Stats struct {
	Total         int                            `json:"total"`
	Active        int                            `json:"active"`
	Expired       int                            `json:"expired"`
	ByCategory    map[models.Category]int        `json:"by_category"`
	ByUrgency     map[models.Urgency]int         `json:"by_urgency"`
	BySource      map[string]int                 `json:"by_source"`
	ByEligibility map[models.EligibilityType]int `json:"by_eligibility"`
	Unrestricted  int                            `json:"unrestricted"`
}

func (c Collection) Stats(asOf time.Time) Stats {
	s := Stats{
		Total:         len(c.records),
		ByCategory:    make(map[models.Category]int),
		ByUrgency:     make(map[models.Urgency]int),
		BySource:      make(map[string]int),
		ByEligibility: make(map[models.EligibilityType]int),
	}
	for _, r := range c.records {
		if r.IsActiveAt(asOf) {
			s.Active++
		} else {
			s.Expired++
		}
		for _, cat := range r.Categories {
			s.ByCategory[cat]++
		}
		s.ByUrgency[r.UrgencyAt(asOf)]++
		s.BySource[r.Source.ID]++
		if r.IsUnrestricted() {
			s.Unrestricted++
		}
		for _, e := range r.Eligibility {
			s.ByEligibility[e]++
		}
	}
	return s
}
