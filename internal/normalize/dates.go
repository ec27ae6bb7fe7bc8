package normalize

import (
	"regexp"
	"strings"
	"time"

	"github.com/david/aap-watch/internal/models"
)

// DateParser turns free-text dates into calendar days. Now supplies the
// year for dates written without one; it defaults to time.Now.
type DateParser struct {
	Now func() time.Time
}

// Layouts tried in order once month names have been translated. The first
// layout that parses wins; impossible calendar dates (31/02) fail every
// layout and leave the text unparsed.
var dateLayouts = []string{
	"2006-01-02",
	"2/1/2006",
	"2-1-2006",
	"2006/1/2",
	"2 January 2006",
	"2 Jan 2006",
	"2.1.2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

var yearlessLayouts = []string{
	"2 January",
	"2 Jan",
}

// frenchMonths maps French month spellings, with and without accents and
// in their usual abbreviations, to English names understood by time.Parse.
var frenchMonths = map[string]string{
	"janvier":   "January",
	"janv":      "January",
	"février":   "February",
	"fevrier":   "February",
	"févr":      "February",
	"fevr":      "February",
	"fév":       "February",
	"fev":       "February",
	"mars":      "March",
	"avril":     "April",
	"avr":       "April",
	"mai":       "May",
	"juin":      "June",
	"juillet":   "July",
	"juil":      "July",
	"août":      "August",
	"aout":      "August",
	"septembre": "September",
	"sept":      "September",
	"octobre":   "October",
	"novembre":  "November",
	"décembre":  "December",
	"decembre":  "December",
	"déc":       "December",
	"dec":       "December",
}

var frenchWeekdays = map[string]struct{}{
	"lundi": {}, "mardi": {}, "mercredi": {}, "jeudi": {},
	"vendredi": {}, "samedi": {}, "dimanche": {},
}

var dateLabelPrefixes = []string{
	"date limite de dépôt :", "date limite de dépôt:",
	"date limite :", "date limite:",
	"date de clôture :", "date de clôture:",
	"clôture :", "clôture:",
	"publié le", "jusqu'au", "avant le",
	"deadline:", "closing date:",
}

var (
	embeddedNumericDate = regexp.MustCompile(`\b(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4})\b`)
	embeddedNamedDate   = regexp.MustCompile(`(?i)\b(\d{1,2}) (January|February|March|April|May|June|July|August|September|October|November|December) (\d{4})\b`)
)

// Parse returns the calendar day written in text, as midnight UTC. The
// boolean is false when no known shape matches.
func (p DateParser) Parse(text string) (time.Time, bool) {
	s := cleanDateString(text)
	if s == "" {
		return time.Time{}, false
	}
	s = translateMonths(s)

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return models.Date(t), true
		}
	}

	year := p.now().Year()
	for _, layout := range yearlessLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		d := time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		// 29 February parses against year 0 but may not exist this year
		if d.Day() != t.Day() {
			return time.Time{}, false
		}
		return d, true
	}

	if m := embeddedNumericDate.FindStringSubmatch(s); len(m) == 4 {
		if t, err := time.Parse("2/1/2006", m[1]+"/"+m[2]+"/"+m[3]); err == nil {
			return models.Date(t), true
		}
	}
	if m := embeddedNamedDate.FindStringSubmatch(s); len(m) == 4 {
		if t, err := time.Parse("2 January 2006", m[1]+" "+m[2]+" "+m[3]); err == nil {
			return models.Date(t), true
		}
	}

	return time.Time{}, false
}

// ParsePtr is Parse for optional fields: empty or unparseable text is nil.
func (p DateParser) ParsePtr(text string) *time.Time {
	t, ok := p.Parse(text)
	if !ok {
		return nil
	}
	return &t
}

func (p DateParser) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now()
}

func cleanDateString(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, prefix := range dateLabelPrefixes {
		if strings.HasPrefix(lower, prefix) {
			s = s[len(prefix):]
			lower = lower[len(prefix):]
		}
	}
	return normalizeSpace(s)
}

// translateMonths rewrites French month names to English, drops weekday
// names and turns "1er" into "1".
func translateMonths(s string) string {
	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		key := strings.TrimSuffix(strings.ToLower(f), ".")
		key = strings.TrimSuffix(key, ",")
		if _, ok := frenchWeekdays[key]; ok {
			continue
		}
		if en, ok := frenchMonths[key]; ok {
			out = append(out, en)
			continue
		}
		if key == "1er" {
			out = append(out, "1")
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}
