package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/david/aap-watch/internal/collection"
	"github.com/david/aap-watch/internal/db"
	"github.com/david/aap-watch/internal/models"
	"github.com/david/aap-watch/internal/normalize"
)

// Run kinds written to the run ledger.
const (
	RunKindFetch = "fetch"
	RunKindBuild = "build"
)

// Pipeline runs connectors into the staging store (fetch) and turns staged
// records into canonical ones (build).
type Pipeline struct {
	Registry   *Registry
	Fetcher    Fetcher
	Colly      Fetcher // sources with fetch.engine "colly"; nil falls back to Fetcher
	Factory    *StrategyFactory
	Staging    *StagingStore
	Normalizer *normalize.Normalizer
	Store      db.Store // optional; nil disables the run ledger and upserts
	Logger     *zap.Logger
}

func NewPipeline(reg *Registry, fetcher Fetcher, staging *StagingStore, store db.Store, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fetcher == nil {
		fetcher = NewRateLimitedFetcher(FetchConfig{}, logger)
	}
	return &Pipeline{
		Registry:   reg,
		Fetcher:    fetcher,
		Factory:    GlobalStrategyFactory,
		Staging:    staging,
		Normalizer: normalize.New(),
		Store:      store,
		Logger:     logger.Named("ingest"),
	}
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p *Pipeline) fetcherFor(src SourceConfig) Fetcher {
	if strings.EqualFold(src.Fetch.Engine, "colly") && p.Colly != nil {
		return p.Colly
	}
	if rl, ok := p.Fetcher.(*RateLimitedFetcher); ok {
		if err := rl.Configure(src.ListingPage(), src.Fetch); err != nil {
			p.logger().Warn("invalid fetch config", zap.String("source", src.ID), zap.Error(err))
		}
	}
	return p.Fetcher
}

// startRun opens a ledger entry; failures are logged and yield id 0.
func (p *Pipeline) startRun(ctx context.Context, kind, sourceID string) int64 {
	if p.Store == nil {
		return 0
	}
	id, err := p.Store.StartRun(ctx, kind, sourceID)
	if err != nil {
		p.logger().Warn("failed to create run", zap.String("kind", kind), zap.String("source", sourceID), zap.Error(err))
		return 0
	}
	return id
}

func (p *Pipeline) finishRun(ctx context.Context, id int64, result db.RunResult) {
	if p.Store == nil || id == 0 {
		return
	}
	// The caller's context may already be cancelled; the ledger still gets closed.
	if err := p.Store.FinishRun(context.WithoutCancel(ctx), id, result); err != nil {
		p.logger().Warn("failed to update run", zap.Int64("run_id", id), zap.Error(err))
	}
}

// FetchSource runs the connector of src and stages its output. Records
// without a title or source URL are skipped and counted.
func (p *Pipeline) FetchSource(ctx context.Context, src SourceConfig) (IngestionStats, error) {
	start := time.Now()
	stats := IngestionStats{SourceID: src.ID}
	logger := p.logger().Named(src.ID)

	runID := p.startRun(ctx, RunKindFetch, src.ID)
	var runErr error
	defer func() {
		stats.Duration = time.Since(start)
		p.finishRun(ctx, runID, db.RunResult{
			ItemsFound: stats.TotalFound,
			ItemsSaved: stats.TotalSaved,
			Errors:     stats.Errors,
			Err:        runErr,
			Details: map[string]any{
				"duration_ms": stats.Duration.Milliseconds(),
				"skipped":     stats.Skipped,
			},
		})
	}()

	strategy, err := p.Factory.Get(src.Strategy)
	if err != nil {
		runErr = err
		return stats, fmt.Errorf("source %s: %w", src.ID, err)
	}

	logger.Info("collecting", zap.String("strategy", src.Strategy), zap.String("url", src.ListingPage()))
	raws, err := strategy.Collect(ctx, src, p.fetcherFor(src), logger)
	if err != nil {
		stats.Errors++
		if len(raws) == 0 {
			runErr = err
			return stats, fmt.Errorf("source %s: %w", src.ID, err)
		}
		logger.Warn("connector stopped early", zap.Int("collected", len(raws)), zap.Error(err))
	}
	stats.TotalFound = len(raws)

	valid := make([]models.RawRecord, 0, len(raws))
	for _, raw := range raws {
		if strings.TrimSpace(raw.Title) == "" || strings.TrimSpace(raw.SourceURL) == "" {
			stats.Skipped++
			continue
		}
		if raw.SourceID == "" {
			raw.SourceID = src.ID
		}
		valid = append(valid, raw)
	}

	if err := p.Staging.Save(src.ID, valid); err != nil {
		stats.Errors++
		runErr = err
		return stats, fmt.Errorf("source %s: %w", src.ID, err)
	}
	stats.TotalSaved = len(valid)

	logger.Info("staged",
		zap.Int("found", stats.TotalFound),
		zap.Int("saved", stats.TotalSaved),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("duration", time.Since(start)))
	return stats, nil
}

// FetchAll fetches the given sources, or every active source when ids is
// empty. One failing source does not stop the others.
func (p *Pipeline) FetchAll(ctx context.Context, ids []string) ([]IngestionStats, error) {
	sources, err := p.Registry.Select(ids)
	if err != nil {
		return nil, err
	}

	var (
		all  []IngestionStats
		errs []error
	)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		stats, err := p.FetchSource(ctx, src)
		all = append(all, stats)
		if err != nil {
			p.logger().Error("fetch failed", zap.String("source", src.ID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return all, errors.Join(errs...)
}

// SourceBuildReport describes how one staged source went through Build.
type SourceBuildReport struct {
	SourceID string
	normalize.BatchReport
	// Added records survived cross-source deduplication.
	Added int
	// CrossSource counts records already contributed by an earlier source.
	CrossSource int
}

type BuildReport struct {
	Sources []SourceBuildReport
	Records collection.Collection
	Upsert  db.UpsertStats
}

// Received totals the raw records read from staging.
func (r BuildReport) Received() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Received
	}
	return n
}

func (r BuildReport) Failed() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Failed
	}
	return n
}

// Duplicates totals in-source and cross-source duplicates.
func (r BuildReport) Duplicates() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Duplicates + s.CrossSource
	}
	return n
}

// Build normalizes staged records of the given sources (all staged sources
// when ids is empty), merges them into one deduplicated collection in
// source order and upserts the result into the store.
func (p *Pipeline) Build(ctx context.Context, ids []string) (BuildReport, error) {
	var report BuildReport
	logger := p.logger()

	if len(ids) == 0 {
		staged, err := p.Staging.Sources()
		if err != nil {
			return report, err
		}
		ids = staged
	}

	runID := p.startRun(ctx, RunKindBuild, strings.Join(ids, ","))
	var runErr error
	defer func() {
		p.finishRun(ctx, runID, db.RunResult{
			ItemsFound: report.Received(),
			ItemsSaved: report.Upsert.Inserted + report.Upsert.Updated,
			Errors:     report.Failed() + report.Upsert.Failed,
			Err:        runErr,
			Details: map[string]any{
				"records":    report.Records.Len(),
				"duplicates": report.Duplicates(),
				"inserted":   report.Upsert.Inserted,
				"updated":    report.Upsert.Updated,
			},
		})
	}()

	acc := collection.NewAccumulator()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			runErr = err
			return report, err
		}

		name, listing := id, ""
		if p.Registry != nil {
			if src, err := p.Registry.Get(id); err == nil {
				name, listing = src.Name, src.ListingPage()
			} else {
				logger.Warn("staged source missing from registry", zap.String("source", id))
			}
		}

		raws, err := p.Staging.Load(id)
		if err != nil {
			runErr = err
			return report, fmt.Errorf("load staged %s: %w", id, err)
		}

		normalized, batch := p.Normalizer.NormalizeAll(raws, name, listing)
		added := acc.Merge(normalized)
		src := SourceBuildReport{
			SourceID:    id,
			BatchReport: batch,
			Added:       added,
			CrossSource: normalized.Len() - added,
		}
		report.Sources = append(report.Sources, src)

		for _, e := range batch.Errors {
			logger.Debug("record rejected", zap.String("source", id), zap.Error(e))
		}
		logger.Info("normalized",
			zap.String("source", id),
			zap.Int("received", batch.Received),
			zap.Int("added", added),
			zap.Int("duplicates", batch.Duplicates+src.CrossSource),
			zap.Int("failed", batch.Failed))
	}

	report.Records = acc.Collection()

	if p.Store != nil && report.Records.Len() > 0 {
		stats, err := p.Store.UpsertRecords(ctx, report.Records.Records())
		report.Upsert = stats
		if err != nil {
			runErr = err
			return report, fmt.Errorf("upsert records: %w", err)
		}
		for _, e := range stats.Errors {
			logger.Warn("record not stored", zap.Error(e))
		}
		logger.Info("stored",
			zap.Int("inserted", stats.Inserted),
			zap.Int("updated", stats.Updated),
			zap.Int("failed", stats.Failed))
	}
	return report, nil
}
