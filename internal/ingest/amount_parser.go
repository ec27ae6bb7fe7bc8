package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

// amountPattern matches French-formatted amounts: "10 000", "10.000",
// "1 500,50", "2,5 M", "50k".
var amountPattern = regexp.MustCompile(`(\d{1,3}(?:[ \x{00A0}\x{202F}.]\d{3})+|\d+)(?:,(\d{1,2}))?\s*(k|m|millions?|mds?|milliards?)?\b`)

// parseAmountRange extracts min/max amounts in euros from free text.
// A single amount is a ceiling unless the text says "minimum"/"à partir de".
func parseAmountRange(text string) (min, max *float64) {
	lower := strings.ToLower(text)
	if !strings.ContainsAny(lower, "0123456789") {
		return nil, nil
	}

	var amounts []float64
	for _, m := range amountPattern.FindAllStringSubmatch(lower, -1) {
		digits := strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", ".", "").Replace(m[1])
		val, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			continue
		}
		if m[2] != "" {
			if frac, err := strconv.ParseFloat("0."+m[2], 64); err == nil {
				val += frac
			}
		}
		switch {
		case m[3] == "k":
			val *= 1_000
		case strings.HasPrefix(m[3], "m") && !strings.HasPrefix(m[3], "md"):
			val *= 1_000_000
		case strings.HasPrefix(m[3], "md"):
			val *= 1_000_000_000
		}
		// years and percentages are not amounts
		if val >= 1900 && val <= 2100 && m[2] == "" && m[3] == "" && !strings.Contains(lower, "€") {
			continue
		}
		if val > 0 {
			amounts = append(amounts, val)
		}
	}

	switch len(amounts) {
	case 0:
		return nil, nil
	case 1:
		v := amounts[0]
		if strings.Contains(lower, "minimum") || strings.Contains(lower, "à partir de") || strings.Contains(lower, "au moins") {
			return &v, nil
		}
		return nil, &v
	}

	lo, hi := amounts[0], amounts[0]
	for _, a := range amounts[1:] {
		if a < lo {
			lo = a
		}
		if a > hi {
			hi = a
		}
	}
	if lo == hi {
		return nil, &hi
	}
	return &lo, &hi
}
