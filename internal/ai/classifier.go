package ai

import (
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/david/aap-watch/internal/models"
)

// maxEnrichTags caps the keywords taken from the model.
const maxEnrichTags = 5

// filterCategories keeps the first models.MaxCategories values that belong
// to the category taxonomy, in model order and without repeats.
// Hallucinated slugs are dropped.
func filterCategories(values []string) []models.Category {
	var out []models.Category
	seen := make(map[models.Category]bool)
	for _, v := range values {
		c, ok := models.ParseCategory(v)
		if !ok || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
		if len(out) == models.MaxCategories {
			break
		}
	}
	return out
}

func filterEligibility(values []string) []models.EligibilityType {
	var out []models.EligibilityType
	seen := make(map[models.EligibilityType]bool)
	for _, v := range values {
		e, ok := models.ParseEligibilityType(v)
		if !ok || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// filterTags trims, drops case-insensitive repeats and caps the list.
func filterTags(values []string, max int) []string {
	var out []string
	for _, v := range values {
		v = strings.Join(strings.Fields(v), " ")
		if v == "" {
			continue
		}
		dup := false
		for _, existing := range out {
			if strings.EqualFold(existing, v) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		if len(out) == max {
			break
		}
		out = append(out, v)
	}
	return out
}

func validURL(s string) string {
	s = strings.TrimSpace(s)
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return s
}

func validEmail(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "mailto:"))
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return ""
	}
	return addr.Address
}

func nonNegative(v *float64) *float64 {
	if v == nil || *v < 0 {
		return nil
	}
	out := *v
	return &out
}

// truncateResume cuts a model summary to the stored resume limit.
func truncateResume(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= models.MaxResumeLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:models.MaxResumeLength-3]) + "..."
}
