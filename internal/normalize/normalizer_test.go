package normalize

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/aap-watch/internal/models"
)

var fixedNow = time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return &Normalizer{Now: func() time.Time { return fixedNow }}
}

func TestNormalize_Scenario(t *testing.T) {
	n := newTestNormalizer()
	raw := models.RawRecord{
		Title:            "Appel à projets Jeunesse 2026",
		SourceURL:        "https://example.org/aap/jeunesse-2026",
		SourceID:         "carenews",
		OrganizationName: "Ville de Test",
		DeadlineText:     "15/01/2026",
		TargetAudience:   []string{"associations loi 1901"},
	}

	rec, err := n.Normalize(raw, "Carenews", "https://www.carenews.com/appels_a_projets")
	require.NoError(t, err)

	assert.Contains(t, rec.Categories, models.CategoryEducationJeunesse)
	assert.Contains(t, rec.Eligibility, models.EligibilityAssociations)
	assert.Equal(t, models.StatusOpen, rec.Status)
	assert.Equal(t, models.StatusOpen, rec.StatusAt(fixedNow))
	assert.Equal(t, models.UrgencyComfortable, rec.UrgencyAt(fixedNow))
	require.NotNil(t, rec.Deadline)
	assert.Equal(t, "2026-01-15", rec.Deadline.Format("2006-01-02"))
	assert.Equal(t, "Carenews", rec.Source.Name)
	assert.Equal(t, "carenews", rec.Source.ID)
	assert.Equal(t, "https://www.carenews.com/appels_a_projets", rec.Source.URL)
	assert.Equal(t, []string{"associations loi 1901"}, rec.TargetAudience)
}

func TestNormalize_InvalidCalendarDateIsPermanent(t *testing.T) {
	rec, err := newTestNormalizer().Normalize(models.RawRecord{
		Title:        "Appel",
		SourceURL:    "https://example.org/a",
		SourceID:     "src",
		DeadlineText: "31/02/2026",
	}, "src", "https://example.org")
	require.NoError(t, err)

	assert.Nil(t, rec.Deadline)
	assert.Equal(t, models.StatusPermanent, rec.Status)
	assert.Equal(t, models.UnspecifiedOrganization, rec.Organization.Name)
}

func TestNormalize_PastDeadlineIsClosed(t *testing.T) {
	rec, err := newTestNormalizer().Normalize(models.RawRecord{
		Title:        "Appel clos",
		SourceURL:    "https://example.org/a",
		SourceID:     "src",
		DeadlineText: "2025-11-30",
	}, "src", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, rec.Status)

	today, err := newTestNormalizer().Normalize(models.RawRecord{
		Title:        "Appel du jour",
		SourceURL:    "https://example.org/b",
		SourceID:     "src",
		DeadlineText: "01/12/2025",
	}, "src", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, today.Status)
}

func TestNormalize_ClosedSnapshotDoesNotFreezeLifecycle(t *testing.T) {
	n := &Normalizer{Now: func() time.Time { return time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC) }}
	rec, err := n.Normalize(models.RawRecord{
		Title:        "Appel printemps",
		SourceURL:    "https://example.org/printemps",
		SourceID:     "src",
		DeadlineText: "01/06/2026",
	}, "src", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, rec.Status)
	assert.False(t, rec.ClosedExplicitly)

	before := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, models.StatusOpen, rec.StatusAt(before))
	assert.True(t, rec.IsActiveAt(before))
	assert.Equal(t, models.UrgencyComfortable, rec.UrgencyAt(before))
	require.NotNil(t, rec.DaysRemainingAt(before))
	assert.Equal(t, 31, *rec.DaysRemainingAt(before))

	row := rec.Export(before)
	assert.Equal(t, "open", row["status"])
	assert.Equal(t, true, row["is_active"])
}

func TestNormalize_FingerprintDependsOnParseSuccess(t *testing.T) {
	n := newTestNormalizer()
	a, err := n.Normalize(models.RawRecord{
		Title: "Appel", SourceURL: "https://x/1", SourceID: "s", OrganizationName: "Org", DeadlineText: "2026-01-15",
	}, "s", "")
	require.NoError(t, err)
	b, err := n.Normalize(models.RawRecord{
		Title: "Appel", SourceURL: "https://x/2", SourceID: "s", OrganizationName: "Org", DeadlineText: "mi-janvier",
	}, "s", "")
	require.NoError(t, err)

	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestNormalize_RequiredFields(t *testing.T) {
	tests := []struct {
		name string
		raw  models.RawRecord
		err  error
	}{
		{"blank title", models.RawRecord{Title: "  ", SourceURL: "https://x", SourceID: "s"}, ErrMissingTitle},
		{"missing source url", models.RawRecord{Title: "Appel", SourceID: "s"}, ErrMissingSourceURL},
		{"missing source id", models.RawRecord{Title: "T", SourceURL: "https://x"}, ErrMissingSourceID},
		{"blank source id", models.RawRecord{Title: "T", SourceURL: "https://x", SourceID: " "}, ErrMissingSourceID},
		{"title too long", models.RawRecord{Title: strings.Repeat("a", 501), SourceURL: "https://x", SourceID: "s"}, ErrTitleTooLong},
	}

	n := newTestNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.raw, "s", "")
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestNormalize_CleansOptionalFields(t *testing.T) {
	minAmount := -5.0
	maxAmount := 30000.0
	tags := []string{"Sport", "sport", " Quartier ", ""}
	for i := 0; i < 12; i++ {
		tags = append(tags, fmt.Sprintf("tag-%d", i))
	}

	rec, err := newTestNormalizer().Normalize(models.RawRecord{
		Title:       "Appel",
		SourceURL:   "https://x",
		SourceID:    "s",
		SummaryText: strings.Repeat("é", 600),
		FreeTags:    tags,
		AmountMin:   &minAmount,
		AmountMax:   &maxAmount,
	}, "s", "")
	require.NoError(t, err)

	assert.Equal(t, 500, utf8.RuneCountInString(rec.Resume))
	assert.True(t, strings.HasSuffix(rec.Resume, "..."))
	assert.Len(t, rec.Tags, models.MaxTags)
	assert.Equal(t, []string{"Sport", "Quartier"}, rec.Tags[:2])
	assert.Nil(t, rec.AmountMin)
	require.NotNil(t, rec.AmountMax)
	assert.Equal(t, 30000.0, *rec.AmountMax)
}

func TestNormalize_ExportRoundTrip(t *testing.T) {
	amount := 12000.0
	raw := models.RawRecord{
		Title:               "Fonds pour l'innovation sociale",
		SourceURL:           "https://example.org/fonds",
		SourceID:            "iledefrance_opendata",
		PublicationDateText: "2025-10-01",
		DeadlineText:        "2026-02-28",
		OrganizationName:    "Région Île-de-France",
		OrganizationURL:     "https://www.iledefrance.fr",
		SummaryText:         "Soutien aux projets d'innovation sociale",
		DescriptionText:     "Paragraphe 1.\n\nParagraphe 2 :\n  - associations\n  - PME",
		FreeTags:            []string{"innovation", "ess"},
		TargetAudience:      []string{"Associations", "associations", "  PME   innovantes "},
		GeoScopeText:        "Île-de-France",
		AmountMax:           &amount,
		ApplicationURL:      "https://mesdemarches.iledefrance.fr",
		ContactEmail:        "aides@iledefrance.fr",
	}

	rec, err := newTestNormalizer().Normalize(raw, "Île-de-France Open Data", "https://data.iledefrance.fr")
	require.NoError(t, err)
	row := rec.Export(fixedNow)

	assert.Equal(t, raw.Title, row["title"])
	assert.Equal(t, raw.SourceURL, row["source_url"])
	assert.Equal(t, "2025-10-01", row["publication_date"])
	assert.Equal(t, "2026-02-28", row["deadline"])
	assert.Equal(t, raw.OrganizationName, row["organization"])
	assert.Equal(t, raw.OrganizationURL, row["organization_url"])
	assert.Equal(t, raw.SummaryText, row["resume"])
	assert.Equal(t, raw.DescriptionText, rec.Description)
	assert.Equal(t, raw.DescriptionText, row["description"])
	assert.Equal(t, raw.FreeTags, row["tags"])
	assert.Equal(t, raw.TargetAudience, row["target_audience"])
	assert.Equal(t, raw.GeoScopeText, row["geo_label"])
	assert.Equal(t, 12000.0, row["amount_max"])
	assert.Equal(t, raw.ApplicationURL, row["application_url"])
	assert.Equal(t, raw.ContactEmail, row["contact_email"])
	assert.Equal(t, rec.Fingerprint(), row["fingerprint"])
}

func TestNormalizeAll(t *testing.T) {
	raws := []models.RawRecord{
		{Title: "Appel A", SourceURL: "https://x/a", SourceID: "carenews", DeadlineText: "2026-01-15"},
		{Title: "appel a ", SourceURL: "https://x/a-bis", SourceID: "carenews", DeadlineText: "15/01/2026"},
		{Title: "", SourceURL: "https://x/empty", SourceID: "carenews"},
		{Title: "Appel B", SourceURL: "https://x/b", SourceID: "carenews"},
	}

	out, report := newTestNormalizer().NormalizeAll(raws, "Carenews", "https://www.carenews.com")

	assert.Equal(t, 2, out.Len())
	assert.Equal(t, 4, report.Received)
	assert.Equal(t, 2, report.Normalized)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.ErrorIs(t, report.Errors[0], ErrMissingTitle)
	assert.Equal(t, []string{"carenews"}, out.Sources())
	assert.Equal(t, "Appel A", out.Records()[0].Title)
}
