package models

import (
	"strconv"
	"strings"
	"time"
)

// ExportRow is the flat key/value shape handed to push adapters.
type ExportRow map[string]any

// ExportColumns is the column order used by tabular exports.
var ExportColumns = []string{
	"id",
	"fingerprint",
	"title",
	"source_url",
	"source_id",
	"source_name",
	"source_listing_url",
	"fetched_at",
	"organization",
	"organization_url",
	"publication_date",
	"deadline",
	"categories",
	"tags",
	"eligibility",
	"target_audience",
	"geo_scope",
	"geo_label",
	"amount_min",
	"amount_max",
	"resume",
	"description",
	"application_url",
	"contact_email",
	"status",
	"urgency",
	"is_active",
	"days_remaining",
}

// Export flattens the record. Lists become ordered string slices, dates
// become YYYY-MM-DD strings (nil when absent) and the computed lifecycle is
// evaluated as of asOf.
func (r CanonicalRecord) Export(asOf time.Time) ExportRow {
	row := ExportRow{
		"id":                 r.ID.String(),
		"fingerprint":        r.Fingerprint(),
		"title":              r.Title,
		"source_url":         r.SourceURL,
		"source_id":          r.Source.ID,
		"source_name":        r.Source.Name,
		"source_listing_url": r.Source.URL,
		"fetched_at":         nil,
		"organization":       r.Organization.Name,
		"organization_url":   r.Organization.URL,
		"publication_date":   optionalDate(r.PublicationDate),
		"deadline":           optionalDate(r.Deadline),
		"categories":         categoryStrings(r.Categories),
		"tags":               append([]string{}, r.Tags...),
		"eligibility":        eligibilityStrings(r.Eligibility),
		"target_audience":    append([]string{}, r.TargetAudience...),
		"geo_scope":          string(r.GeoScope),
		"geo_label":          r.GeoLabel,
		"amount_min":         optionalFloat(r.AmountMin),
		"amount_max":         optionalFloat(r.AmountMax),
		"resume":             r.Resume,
		"description":        r.Description,
		"application_url":    r.ApplicationURL,
		"contact_email":      r.ContactEmail,
		"status":             string(r.StatusAt(asOf)),
		"urgency":            string(r.UrgencyAt(asOf)),
		"is_active":          r.IsActiveAt(asOf),
		"days_remaining":     nil,
	}
	if !r.Source.FetchedAt.IsZero() {
		row["fetched_at"] = r.Source.FetchedAt.UTC().Format(time.RFC3339)
	}
	if days := r.DaysRemainingAt(asOf); days != nil {
		row["days_remaining"] = *days
	}
	return row
}

// Strings renders the row in ExportColumns order for CSV and spreadsheet
// writers. Lists are joined with ", " and absent values become "".
func (row ExportRow) Strings() []string {
	out := make([]string, len(ExportColumns))
	for i, col := range ExportColumns {
		out[i] = CellString(row[col])
	}
	return out
}

// CellString renders a single exported value as text.
func CellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func optionalDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02")
}

func optionalFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func categoryStrings(cs []Category) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, string(c))
	}
	return out
}

func eligibilityStrings(es []EligibilityType) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, string(e))
	}
	return out
}
