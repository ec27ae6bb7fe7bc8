package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/aap-watch/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func amount(v float64) *float64 { return &v }

func sampleRecord() models.CanonicalRecord {
	return models.CanonicalRecord{
		Title:     "Appel à projets Jeunesse 2026",
		SourceURL: "https://www.carenews.com/appels_a_projets/jeunesse-2026",
		Source: models.SourceInfo{
			ID:        "carenews",
			Name:      "Carenews",
			URL:       "https://www.carenews.com/appels_a_projets",
			FetchedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		},
		Deadline:     date(2026, 4, 30),
		Organization: models.Organization{Name: "Fondation de France"},
		Categories:   []models.Category{models.CategoryEducationJeunesse},
		Tags:         []string{"jeunesse"},
		GeoScope:     models.GeoScopeNational,
		Status:       models.StatusOpen,
	}
}

func TestUpsertSuffix_FillsOnlyEmptyColumns(t *testing.T) {
	suffix := upsertSuffix()

	mustContain := []string{
		"ON CONFLICT (fingerprint) DO UPDATE SET",
		"resume = COALESCE(NULLIF(records.resume, ''), excluded.resume)",
		"amount_max = COALESCE(records.amount_max, excluded.amount_max)",
		"status = excluded.status",
		"closed_explicitly = records.closed_explicitly OR excluded.closed_explicitly",
	}
	for _, token := range mustContain {
		assert.Contains(t, suffix, token)
	}

	for _, identity := range []string{"title =", "organization =", "deadline =", "source_id ="} {
		assert.NotContains(t, suffix, identity, "identity column must never be rewritten")
	}
}

func TestListQuery_Placeholders(t *testing.T) {
	params := ListParams{SourceIDs: []string{"carenews", "paris_fr"}, Query: "Jeunesse", Limit: 5}

	pg := newSQLStore(nil, postgresDialect)
	query, args, err := pg.listQuery(params)
	require.NoError(t, err)
	assert.Contains(t, query, "source_id IN ($1,$2)")
	assert.Contains(t, query, "LOWER(title) LIKE $3")
	assert.Contains(t, query, "ORDER BY deadline IS NULL, deadline ASC, title ASC")
	assert.Contains(t, query, "LIMIT 5")
	assert.Equal(t, []any{"carenews", "paris_fr", "%jeunesse%", "%jeunesse%", "%jeunesse%"}, args)

	lite := newSQLStore(nil, sqliteDialect)
	query, _, err = lite.listQuery(ListParams{NotEnriched: true})
	require.NoError(t, err)
	assert.Contains(t, query, "enriched_at IS NULL")
	assert.False(t, strings.Contains(query, "$1"))
}

func TestSimilarQuery_UsesCosineDistance(t *testing.T) {
	query := similarQuery()
	assert.Contains(t, query, "1 - (e.embedding <=> $1) AS similarity")
	assert.Contains(t, query, "ORDER BY e.embedding <=> $1")
	assert.Contains(t, query, "r.fingerprint, r.id, r.title")
}

func TestSQLiteStore_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec := sampleRecord()
	stats, err := store.UpsertRecords(ctx, []models.CanonicalRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Inserted)
	assert.Equal(t, 0, stats.Updated)

	got, err := store.GetByFingerprint(ctx, rec.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, rec.Title, got.Title)
	assert.Equal(t, "carenews", got.Source.ID)
	require.NotNil(t, got.Deadline)
	assert.Equal(t, "2026-04-30", got.Deadline.Format("2006-01-02"))
	assert.Nil(t, got.PublicationDate)
	assert.Equal(t, []models.Category{models.CategoryEducationJeunesse}, got.Categories)
	assert.Equal(t, []models.EligibilityType{}, got.Eligibility)
	assert.Equal(t, models.GeoScopeNational, got.GeoScope)
	assert.Equal(t, models.StatusOpen, got.Status)
	assert.Equal(t, rec.Fingerprint(), got.Fingerprint())
}

func TestSQLiteStore_UpsertFillsEmptyOnly(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := sampleRecord()
	first.Resume = "Résumé d'origine"
	_, err := store.UpsertRecords(ctx, []models.CanonicalRecord{first})
	require.NoError(t, err)

	second := sampleRecord()
	second.Resume = "Autre résumé"
	second.ContactEmail = "contact@fondation.fr"
	second.AmountMax = amount(20000)
	second.Tags = []string{"autre"}
	stats, err := store.UpsertRecords(ctx, []models.CanonicalRecord{second})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Inserted)
	assert.Equal(t, 1, stats.Updated)

	got, err := store.GetByFingerprint(ctx, first.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, "Résumé d'origine", got.Resume)
	assert.Equal(t, "contact@fondation.fr", got.ContactEmail)
	require.NotNil(t, got.AmountMax)
	assert.Equal(t, 20000.0, *got.AmountMax)
	assert.Equal(t, []string{"jeunesse"}, got.Tags)
}

func TestSQLiteStore_ClosureSurvivesRebuild(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	built := sampleRecord()
	built.Status = models.StatusClosed
	_, err := store.UpsertRecords(ctx, []models.CanonicalRecord{built})
	require.NoError(t, err)

	got, err := store.GetByFingerprint(ctx, built.Fingerprint())
	require.NoError(t, err)
	assert.False(t, got.ClosedExplicitly)
	assert.Equal(t, models.StatusOpen, got.StatusAt(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))

	withdrawn := sampleRecord()
	withdrawn.ClosedExplicitly = true
	_, err = store.UpsertRecords(ctx, []models.CanonicalRecord{withdrawn})
	require.NoError(t, err)

	rebuilt := sampleRecord()
	_, err = store.UpsertRecords(ctx, []models.CanonicalRecord{rebuilt})
	require.NoError(t, err)

	got, err = store.GetByFingerprint(ctx, built.Fingerprint())
	require.NoError(t, err)
	assert.True(t, got.ClosedExplicitly)
	assert.Equal(t, models.StatusOpen, got.Status)
	assert.Equal(t, models.StatusClosed, got.StatusAt(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetByFingerprint(context.Background(), "0000000000000000")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteStore_ListRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	early := sampleRecord()
	early.Title = "Fonds d'urgence associations"
	early.Deadline = date(2026, 3, 15)

	permanent := sampleRecord()
	permanent.Title = "Aide permanente à l'emploi"
	permanent.Deadline = nil
	permanent.Source.ID = "paris_fr"
	permanent.Status = models.StatusPermanent

	_, err := store.UpsertRecords(ctx, []models.CanonicalRecord{permanent, sampleRecord(), early})
	require.NoError(t, err)

	all, err := store.ListRecords(ctx, ListParams{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Fonds d'urgence associations", all[0].Title)
	assert.Equal(t, "Aide permanente à l'emploi", all[2].Title)

	paris, err := store.ListRecords(ctx, ListParams{SourceIDs: []string{"paris_fr"}})
	require.NoError(t, err)
	require.Len(t, paris, 1)

	search, err := store.ListRecords(ctx, ListParams{Query: "URGENCE"})
	require.NoError(t, err)
	require.Len(t, search, 1)

	require.NoError(t, store.MarkEnriched(ctx, early.Fingerprint(), time.Now()))
	pending, err := store.ListRecords(ctx, ListParams{NotEnriched: true})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	assert.ErrorIs(t, store.MarkEnriched(ctx, "missing", time.Now()), ErrNotFound)
}

func TestSQLiteStore_RunLedger(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.StartRun(ctx, "fetch", "carenews")
	require.NoError(t, err)
	require.NoError(t, store.FinishRun(ctx, id, RunResult{ItemsFound: 12, ItemsSaved: 10, Errors: 2, Details: map[string]any{"duration_ms": 1500}}))

	failedID, err := store.StartRun(ctx, "fetch", "paris_fr")
	require.NoError(t, err)
	require.NoError(t, store.FinishRun(ctx, failedID, RunResult{Err: errors.New("mock 404")}))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "paris_fr", runs[0].SourceID)
	assert.Equal(t, RunFailed, runs[0].Status)
	assert.Equal(t, "mock 404", runs[0].Details["error"])

	assert.Equal(t, RunCompleted, runs[1].Status)
	assert.Equal(t, 10, runs[1].ItemsSaved)
	require.NotNil(t, runs[1].FinishedAt)
}

func TestRunResult_Status(t *testing.T) {
	tests := []struct {
		name   string
		result RunResult
		want   string
	}{
		{"clean", RunResult{ItemsFound: 3, ItemsSaved: 3}, RunCompleted},
		{"partial errors", RunResult{ItemsFound: 3, ItemsSaved: 2, Errors: 1}, RunCompleted},
		{"nothing saved", RunResult{ItemsFound: 3, Errors: 3}, RunFailed},
		{"error", RunResult{Err: errors.New("boom")}, RunFailed},
		{"empty source", RunResult{}, RunCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.Status())
		})
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))

	files, err := migrationFiles(postgresDialect)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_records.sql", "002_embeddings.sql", "003_closed_explicitly.sql"}, files)

	files, err = migrationFiles(sqliteDialect)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_records.sql", "002_closed_explicitly.sql"}, files)
}
