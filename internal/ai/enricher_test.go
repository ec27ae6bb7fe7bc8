package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/david/aap-watch/internal/db"
	"github.com/david/aap-watch/internal/models"
)

// fakeLLM answers in JSON mode and text mode from fixed strings.
type fakeLLM struct {
	jsonAnswer string
	jsonErr    error
	textAnswer string
	prompts    []string
	modes      []bool
}

func (f *fakeLLM) GenerateCompletion(_ context.Context, prompt string, jsonMode bool) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.modes = append(f.modes, jsonMode)
	if jsonMode {
		return f.jsonAnswer, f.jsonErr
	}
	return f.textAnswer, nil
}

const fullAnswer = `{
  "resume": "Soutien aux projets portés par des jeunes des quartiers.",
  "categories": ["education-jeunesse", "Culture-Sport", "sciences"],
  "tags": ["jeunesse", "quartiers", "Jeunesse", "sport", "citoyenneté", "engagement", "bénévolat"],
  "eligibilite": ["associations", "mairies"],
  "public_cible_detail": ["Jeunes de 12-25 ans"],
  "montant_min": "5 000 €",
  "montant_max": 20000,
  "type_financement": "Subvention",
  "url_candidature": "https://www.fondation.fr/candidater",
  "email_contact": "mailto:aap@fondation.fr",
  "date_limite": "2026-06-30"
}`

func baseRecord() models.CanonicalRecord {
	deadline := time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)
	return models.CanonicalRecord{
		Title:        "Appel à projets Jeunesse solidaire",
		SourceURL:    "https://www.carenews.com/appels_a_projets/jeunesse-solidaire",
		Source:       models.SourceInfo{ID: "carenews", Name: "Carenews"},
		Organization: models.Organization{Name: "Fondation de France"},
		Deadline:     &deadline,
		Description:  "Soutien aux associations de quartier. Montant : jusqu'à 20 000 €.",
		Tags:         []string{"existant"},
		Status:       models.StatusOpen,
	}
}

func TestEnricher_FillsEmptyFieldsOnly(t *testing.T) {
	llm := &fakeLLM{jsonAnswer: fullAnswer}
	e := NewEnricher(llm, nil, zap.NewNop())

	rec := baseRecord()
	out, err := e.Enrich(context.Background(), rec, rec.Description)
	require.NoError(t, err)

	assert.Equal(t, "Soutien aux projets portés par des jeunes des quartiers.", out.Resume)
	assert.Equal(t, []models.Category{models.CategoryEducationJeunesse, models.CategoryCultureSport}, out.Categories)
	assert.Equal(t, []string{"existant"}, out.Tags, "populated tags are kept")
	assert.Equal(t, []models.EligibilityType{models.EligibilityAssociations}, out.Eligibility)
	assert.Equal(t, []string{"Jeunes de 12-25 ans"}, out.TargetAudience)
	require.NotNil(t, out.AmountMin)
	require.NotNil(t, out.AmountMax)
	assert.Equal(t, 5000.0, *out.AmountMin)
	assert.Equal(t, 20000.0, *out.AmountMax)
	assert.Equal(t, "https://www.fondation.fr/candidater", out.ApplicationURL)
	assert.Equal(t, "aap@fondation.fr", out.ContactEmail)

	// identity is untouched
	assert.Equal(t, rec.Fingerprint(), out.Fingerprint())
	assert.Equal(t, "2026-04-30", out.Deadline.Format("2006-01-02"))

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "Fondation de France")
	assert.Contains(t, llm.prompts[0], `"education-jeunesse"`)
}

func TestEnricher_FallsBackToTextMode(t *testing.T) {
	llm := &fakeLLM{
		jsonAnswer: "désolé, je ne peux pas",
		textAnswer: "Voici le résultat :\n```json\n{\"resume\": \"Un résumé {court}\", \"montant_max\": null}\n```",
	}
	e := NewEnricher(llm, nil, zap.NewNop())

	rec := baseRecord()
	out, err := e.Enrich(context.Background(), rec, rec.Description)
	require.NoError(t, err)
	assert.Equal(t, "Un résumé {court}", out.Resume)
	assert.Nil(t, out.AmountMax)
	assert.Equal(t, []bool{true, false}, llm.modes)
}

func TestEnricher_Errors(t *testing.T) {
	e := NewEnricher(&fakeLLM{jsonErr: errors.New("connection refused"), textAnswer: "pas de JSON"}, nil, zap.NewNop())

	_, err := e.Enrich(context.Background(), baseRecord(), "   ")
	assert.ErrorIs(t, err, ErrNoContent)

	_, err = e.Enrich(context.Background(), baseRecord(), "texte")
	assert.ErrorContains(t, err, "after retry")
}

func TestBuildPrompt_TruncatesContent(t *testing.T) {
	content := strings.Repeat("ë", maxPromptContent+100)
	prompt := buildPrompt(baseRecord(), content)
	assert.Contains(t, prompt, strings.Repeat("ë", maxPromptContent))
	assert.NotContains(t, prompt, strings.Repeat("ë", maxPromptContent+1))
}

func TestExtraction_Patch(t *testing.T) {
	var x Extraction
	require.NoError(t, json.Unmarshal([]byte(`{
		"resume": "`+strings.Repeat("a", 600)+`",
		"tags": "jeunesse, sport",
		"type_financement": "Prix",
		"montant_min": -10,
		"montant_max": "1 500,50 euros",
		"url_candidature": "formulaire en ligne",
		"email_contact": "pas d'adresse",
		"categories": null
	}`), &x))

	patch := x.Patch()
	assert.Len(t, []rune(patch.Resume), models.MaxResumeLength)
	assert.True(t, strings.HasSuffix(patch.Resume, "..."))
	assert.Equal(t, []string{"jeunesse", "sport", "Prix"}, patch.Tags)
	assert.Nil(t, patch.AmountMin)
	require.NotNil(t, patch.AmountMax)
	assert.Equal(t, 1500.5, *patch.AmountMax)
	assert.Empty(t, patch.ApplicationURL)
	assert.Empty(t, patch.ContactEmail)
	assert.Empty(t, patch.Categories)
}

func TestExtraction_PatchCapsCategories(t *testing.T) {
	x := Extraction{Categories: llmList{
		"inventee",
		"numerique",
		"culture-sport",
		"numerique",
		"sante-handicap",
		"economie-ess",
		"vie-associative",
	}}

	patch := x.Patch()
	assert.Equal(t, []models.Category{
		models.CategoryNumerique,
		models.CategoryCultureSport,
		models.CategorySanteHandicap,
	}, patch.Categories)

	enriched := models.CanonicalRecord{}.Enrich(patch)
	assert.Len(t, enriched.Categories, models.MaxCategories)

	wide := models.CanonicalRecord{}.Enrich(models.CanonicalRecord{Categories: models.Categories})
	assert.Len(t, wide.Categories, models.MaxCategories)
}

func TestExtractFirstJSONObject(t *testing.T) {
	got, ok := extractFirstJSONObject(`prefix {"a": "}", "b": {"c": 1}} suffix {"d": 2}`)
	require.True(t, ok)
	assert.Equal(t, `{"a": "}", "b": {"c": 1}}`, got)

	_, ok = extractFirstJSONObject("no json here")
	assert.False(t, ok)
}

func TestEnricher_EnrichStore(t *testing.T) {
	ctx := context.Background()
	store, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))

	withContent := baseRecord()
	withoutContent := baseRecord()
	withoutContent.Title = "Fonds sans description"
	withoutContent.Description = ""
	_, err = store.UpsertRecords(ctx, []models.CanonicalRecord{withContent, withoutContent})
	require.NoError(t, err)

	e := NewEnricher(&fakeLLM{jsonAnswer: fullAnswer}, nil, zap.NewNop())
	e.Now = func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }

	var seen int
	report, err := e.EnrichStore(ctx, store, BatchOptions{OnRecord: func(models.CanonicalRecord, error) { seen++ }})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Selected)
	assert.Equal(t, 1, report.Enriched)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 2, seen)

	got, err := store.GetByFingerprint(ctx, withContent.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, "Soutien aux projets portés par des jeunes des quartiers.", got.Resume)
	assert.Equal(t, "aap@fondation.fr", got.ContactEmail)

	// only the record without content is still pending
	again, err := e.EnrichStore(ctx, store, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, again.Selected)
	assert.Equal(t, 1, again.Skipped)

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, RunKindEnrich, runs[0].Kind)
	assert.Equal(t, db.RunCompleted, runs[1].Status)
}

func TestOllamaClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.URL.Path {
		case "/api/generate":
			assert.Equal(t, "llama-test", body["model"])
			assert.Equal(t, "json", body["format"])
			assert.Equal(t, false, body["stream"])
			_, _ = w.Write([]byte(`{"response": "{\"resume\": \"ok\"}", "done": true}`))
		case "/api/embeddings":
			assert.Equal(t, "embed-test", body["model"])
			_, _ = w.Write([]byte(`{"embedding": [0.1, 0.2, 0.3]}`))
		default:
			http.Error(w, "model not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL+"/", "embed-test", "llama-test")

	resp, err := client.GenerateCompletion(context.Background(), "prompt", true)
	require.NoError(t, err)
	assert.Equal(t, `{"resume": "ok"}`, resp)

	vec, err := client.GenerateEmbedding(context.Background(), "texte")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	client.BaseURL = srv.URL + "/missing"
	_, err = client.GenerateCompletion(context.Background(), "prompt", false)
	assert.ErrorContains(t, err, "status 404")
}

func TestNewOllamaClient_Defaults(t *testing.T) {
	c := NewOllamaClient("", "", "")
	assert.Equal(t, defaultBaseURL, c.BaseURL)
	assert.Equal(t, defaultEmbedModel, c.EmbedModel)
	assert.Equal(t, defaultGenModel, c.GenModel)
}
