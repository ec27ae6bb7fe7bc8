package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/david/aap-watch/internal/collection"
	"github.com/david/aap-watch/internal/models"
)

var (
	ErrMissingTitle     = errors.New("raw record has no title")
	ErrMissingSourceURL = errors.New("raw record has no source url")
	ErrMissingSourceID  = errors.New("raw record has no source id")
	ErrTitleTooLong     = errors.New("raw record title exceeds maximum length")
)

// Normalizer converts RawRecords into CanonicalRecords. Now is the clock
// used for the initial status and for year-less dates.
type Normalizer struct {
	Now func() time.Time
}

func New() *Normalizer {
	return &Normalizer{Now: func() time.Time { return time.Now().UTC() }}
}

// BatchReport summarizes a NormalizeAll call.
type BatchReport struct {
	Received   int
	Normalized int
	Duplicates int
	Failed     int
	Errors     []error
}

// Normalize builds a CanonicalRecord from raw. Unparseable dates become nil
// and unknown categories or applicant types are dropped; only a missing
// title, source URL or source id is an error. Description and target
// audience are kept verbatim.
func (n *Normalizer) Normalize(raw models.RawRecord, sourceName, sourceURL string) (models.CanonicalRecord, error) {
	title := normalizeSpace(raw.Title)
	if title == "" {
		return models.CanonicalRecord{}, ErrMissingTitle
	}
	if utf8.RuneCountInString(title) > models.MaxTitleLength {
		return models.CanonicalRecord{}, fmt.Errorf("%w: %d runes", ErrTitleTooLong, utf8.RuneCountInString(title))
	}
	sourceLink := normalizeSpace(raw.SourceURL)
	if sourceLink == "" {
		return models.CanonicalRecord{}, ErrMissingSourceURL
	}
	sourceID := strings.TrimSpace(raw.SourceID)
	if sourceID == "" {
		return models.CanonicalRecord{}, ErrMissingSourceID
	}

	now := n.now()
	dates := DateParser{Now: func() time.Time { return now }}

	summary := normalizeSpace(raw.SummaryText)
	description := strings.TrimSpace(raw.DescriptionText)

	org := normalizeSpace(raw.OrganizationName)
	if org == "" {
		org = models.UnspecifiedOrganization
	}

	deadline := dates.ParsePtr(raw.DeadlineText)

	rec := models.CanonicalRecord{
		ID:        uuid.New(),
		Title:     title,
		SourceURL: sourceLink,
		Source: models.SourceInfo{
			ID:        sourceID,
			Name:      sourceName,
			URL:       sourceURL,
			FetchedAt: raw.FetchedAt,
		},
		PublicationDate: dates.ParsePtr(raw.PublicationDateText),
		Deadline:        deadline,
		Organization: models.Organization{
			Name: org,
			URL:  normalizeSpace(raw.OrganizationURL),
		},
		Categories:     ClassifyCategories(title+" "+summary+" "+normalizeSpace(description), raw.RawCategories),
		Tags:           capTags(mergeUniqueFold(nil, raw.FreeTags)),
		Eligibility:    ClassifyEligibility(raw.TargetAudience),
		TargetAudience: append([]string(nil), raw.TargetAudience...),
		GeoScope:       ClassifyGeoScope(raw.GeoScopeText),
		GeoLabel:       normalizeSpace(raw.GeoScopeText),
		AmountMin:      nonNegative(raw.AmountMin),
		AmountMax:      nonNegative(raw.AmountMax),
		Resume:         TruncateText(summary, models.MaxResumeLength),
		Description:    description,
		ApplicationURL: normalizeSpace(raw.ApplicationURL),
		ContactEmail:   normalizeSpace(raw.ContactEmail),
		Status:         initialStatus(deadline, now),
	}
	return rec, nil
}

// NormalizeAll normalizes each raw record, skipping failures, and
// deduplicates the result once by fingerprint.
func (n *Normalizer) NormalizeAll(raws []models.RawRecord, sourceName, sourceURL string) (collection.Collection, BatchReport) {
	report := BatchReport{Received: len(raws)}
	records := make([]models.CanonicalRecord, 0, len(raws))
	for i, raw := range raws {
		rec, err := n.Normalize(raw, sourceName, sourceURL)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Errorf("record %d (%s): %w", i, raw.SourceURL, err))
			continue
		}
		records = append(records, rec)
	}
	acc := collection.NewAccumulator(records...)
	report.Duplicates = acc.Deduplicate()
	out := acc.Collection()
	report.Normalized = out.Len()
	return out, report
}

func (n *Normalizer) now() time.Time {
	if n == nil || n.Now == nil {
		return time.Now().UTC()
	}
	return n.Now()
}

// initialStatus never yields unknown; that value only comes from records
// built by hand.
func initialStatus(deadline *time.Time, now time.Time) models.Status {
	if deadline == nil {
		return models.StatusPermanent
	}
	if deadline.Before(models.Date(now)) {
		return models.StatusClosed
	}
	return models.StatusOpen
}

func capTags(tags []string) []string {
	if len(tags) > models.MaxTags {
		return tags[:models.MaxTags]
	}
	return tags
}

func nonNegative(v *float64) *float64 {
	if v == nil || *v < 0 {
		return nil
	}
	out := *v
	return &out
}
