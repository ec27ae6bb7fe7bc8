package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/david/aap-watch/internal/db"
	"github.com/david/aap-watch/internal/models"
)

var ErrNoContent = errors.New("record has no content to enrich from")

// RunKindEnrich is the run ledger kind of an enrichment batch.
const RunKindEnrich = "enrich"

// Enricher fills the empty fields of canonical records from an LLM reading
// of their content. Populated fields and identity fields are never changed.
type Enricher struct {
	LLM    Completer
	Embed  Embedder // optional
	Logger *zap.Logger
	Now    func() time.Time
}

func NewEnricher(llm Completer, embed Embedder, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		LLM:    llm,
		Embed:  embed,
		Logger: logger.Named("enrich"),
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

func (e *Enricher) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Enrich returns rec with its empty fields filled from the model's reading
// of content. The deadline the model reports is ignored: it is part of the
// record identity.
func (e *Enricher) Enrich(ctx context.Context, rec models.CanonicalRecord, content string) (models.CanonicalRecord, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return rec, ErrNoContent
	}

	data, err := extract(ctx, e.LLM, buildPrompt(rec, content), e.logger())
	if err != nil {
		return rec, fmt.Errorf("enrich %q: %w", rec.Title, err)
	}
	return rec.Enrich(data.Patch()), nil
}

// Patch converts the extraction into a record usable with
// CanonicalRecord.Enrich. Unknown taxonomy values are dropped.
func (x Extraction) Patch() models.CanonicalRecord {
	tags := filterTags(x.Tags, maxEnrichTags)
	if t := strings.TrimSpace(x.TypeFinancement); t != "" {
		tags = filterTags(append(tags, t), models.MaxTags)
	}
	return models.CanonicalRecord{
		Resume:         truncateResume(x.Resume),
		Categories:     filterCategories(x.Categories),
		Tags:           tags,
		Eligibility:    filterEligibility(x.Eligibilite),
		TargetAudience: filterTags(x.PublicCible, models.MaxTags),
		AmountMin:      nonNegative(x.MontantMin.Value),
		AmountMax:      nonNegative(x.MontantMax.Value),
		ApplicationURL: validURL(x.URLCandidature),
		ContactEmail:   validEmail(x.EmailContact),
	}
}

// embeddingText is what a record's vector is computed from.
func embeddingText(rec models.CanonicalRecord) string {
	parts := []string{rec.Title, rec.Organization.Name, rec.Resume}
	if len(rec.Tags) > 0 {
		parts = append(parts, strings.Join(rec.Tags, ", "))
	}
	return strings.Join(parts, "\n")
}

// BatchOptions selects the records of an EnrichStore run.
type BatchOptions struct {
	SourceIDs []string
	Limit     int
	// Force re-reads records that were already enriched.
	Force bool
	// OnRecord is called after each record, whatever the outcome.
	OnRecord func(rec models.CanonicalRecord, err error)
}

type BatchReport struct {
	Selected int
	Enriched int
	Skipped  int
	Failed   int
	Embedded int
	Errors   []error
}

// EnrichStore enriches stored records and writes them back with the
// store's fill-empty upsert. When the store holds vectors and an embedder
// is configured, each enriched record also gets an embedding.
func (e *Enricher) EnrichStore(ctx context.Context, store db.Store, opts BatchOptions) (BatchReport, error) {
	var report BatchReport
	logger := e.logger()

	records, err := store.ListRecords(ctx, db.ListParams{
		SourceIDs:   opts.SourceIDs,
		NotEnriched: !opts.Force,
		Limit:       opts.Limit,
	})
	if err != nil {
		return report, fmt.Errorf("select records: %w", err)
	}
	report.Selected = len(records)

	runID, runErr := store.StartRun(ctx, RunKindEnrich, strings.Join(opts.SourceIDs, ","))
	if runErr != nil {
		logger.Warn("failed to create run", zap.Error(runErr))
	}
	var batchErr error
	defer func() {
		if runErr != nil {
			return
		}
		if err := store.FinishRun(context.WithoutCancel(ctx), runID, db.RunResult{
			ItemsFound: report.Selected,
			ItemsSaved: report.Enriched,
			Errors:     report.Failed,
			Err:        batchErr,
			Details: map[string]any{
				"skipped":  report.Skipped,
				"embedded": report.Embedded,
			},
		}); err != nil {
			logger.Warn("failed to update run", zap.Error(err))
		}
	}()

	vectors, _ := store.(db.VectorStore)

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			batchErr = err
			return report, err
		}
		err := e.enrichStored(ctx, store, vectors, rec, &report)
		if opts.OnRecord != nil {
			opts.OnRecord(rec, err)
		}
	}

	logger.Info("enrichment done",
		zap.Int("selected", report.Selected),
		zap.Int("enriched", report.Enriched),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("embedded", report.Embedded))
	return report, nil
}

func (e *Enricher) enrichStored(ctx context.Context, store db.Store, vectors db.VectorStore, rec models.CanonicalRecord, report *BatchReport) error {
	logger := e.logger().With(zap.String("fingerprint", rec.Fingerprint()))

	enriched, err := e.Enrich(ctx, rec, rec.Description)
	if errors.Is(err, ErrNoContent) {
		report.Skipped++
		logger.Debug("skipped, no content", zap.String("title", rec.Title))
		return err
	}
	if err != nil {
		report.Failed++
		report.Errors = append(report.Errors, err)
		logger.Warn("enrichment failed", zap.Error(err))
		return err
	}

	stats, err := store.UpsertRecords(ctx, []models.CanonicalRecord{enriched})
	if err == nil && stats.Failed > 0 {
		err = errors.Join(stats.Errors...)
	}
	if err == nil {
		err = store.MarkEnriched(ctx, rec.Fingerprint(), e.now())
	}
	if err != nil {
		report.Failed++
		report.Errors = append(report.Errors, err)
		logger.Warn("failed to store enrichment", zap.Error(err))
		return err
	}
	report.Enriched++

	if vectors != nil && e.Embed != nil {
		vec, err := e.Embed.GenerateEmbedding(ctx, embeddingText(enriched))
		if err == nil {
			err = vectors.SaveEmbedding(ctx, rec.Fingerprint(), vec)
		}
		if err != nil {
			logger.Warn("embedding failed", zap.Error(err))
		} else {
			report.Embedded++
		}
	}
	return nil
}

func (e *Enricher) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now()
}
