package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/david/aap-watch/internal/ai"
	"github.com/david/aap-watch/internal/collection"
	"github.com/david/aap-watch/internal/db"
	"github.com/david/aap-watch/internal/ingest"
	"github.com/david/aap-watch/internal/models"
)

// openStore opens the configured database and applies pending migrations.
func openStore(ctx context.Context) (db.Store, error) {
	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return store, nil
}

// newPipeline wires the registry, both fetchers and the staging store. The
// returned func releases the fetchers.
func newPipeline(store db.Store) (*ingest.Pipeline, func(), error) {
	reg, err := ingest.LoadRegistry()
	if err != nil {
		return nil, nil, err
	}
	defaults := cfg.FetchDefaults()
	fetcher := ingest.NewRateLimitedFetcher(defaults, logger)

	p := ingest.NewPipeline(reg, fetcher, ingest.NewStagingStore(cfg.StagingDir()), store, logger)
	p.Colly = ingest.NewCollyFetcher(defaults, logger)
	return p, fetcher.Close, nil
}

func newEnricher() *ai.Enricher {
	client := ai.NewOllamaClient(cfg.Ollama.BaseURL, cfg.Ollama.EmbedModel, cfg.Ollama.GenModel)
	return ai.NewEnricher(client, client, logger)
}

// loadCollection reads every stored record.
func loadCollection(ctx context.Context, store db.Store) (collection.Collection, error) {
	records, err := store.ListRecords(ctx, db.ListParams{})
	if err != nil {
		return collection.Collection{}, err
	}
	return collection.New(records...), nil
}

func exportRows(c collection.Collection, asOf time.Time) []models.ExportRow {
	records := c.Records()
	rows := make([]models.ExportRow, len(records))
	for i, r := range records {
		rows[i] = r.Export(asOf)
	}
	return rows
}

// parseAsOf reads a YYYY-MM-DD flag value; empty means today.
func parseAsOf(s string) (time.Time, error) {
	if s == "" {
		return models.Date(time.Now()), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)
}

func addProgress(bar *progressbar.ProgressBar, n int) {
	if err := bar.Add(n); err != nil {
		logger.Debug("progress bar update failed", zap.Error(err))
	}
}
