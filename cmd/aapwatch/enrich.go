package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/david/aap-watch/internal/ai"
	"github.com/david/aap-watch/internal/db"
	"github.com/david/aap-watch/internal/models"
)

func enrichCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Fill missing record fields with the local LLM",
		Long: `Reads each stored record that was not enriched yet, asks the Ollama model
for a summary, categories, eligibility, amounts and contact details, and
fills the fields that are still empty. Populated fields are never
overwritten.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			force, _ := cmd.Flags().GetBool("force")
			ids, _ := cmd.Flags().GetStringSlice("source")
			return runEnrich(cmd, ai.BatchOptions{SourceIDs: ids, Limit: limit, Force: force})
		},
	}
	cmd.Flags().Int("limit", 0, "maximum number of records (0 = no limit)")
	cmd.Flags().Bool("force", false, "also re-read records that were already enriched")
	cmd.Flags().StringSlice("source", nil, "only records from this source (repeatable)")
	return cmd
}

func runEnrich(cmd *cobra.Command, opts ai.BatchOptions) error {
	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	pending, err := store.ListRecords(ctx, db.ListParams{SourceIDs: opts.SourceIDs, NotEnriched: !opts.Force, Limit: opts.Limit})
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to enrich")
		return nil
	}

	bar := newProgressBar(len(pending), "enriching")
	opts.OnRecord = func(models.CanonicalRecord, error) { addProgress(bar, 1) }

	report, err := newEnricher().EnrichStore(ctx, store, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "enriched %d/%d (skipped %d, failed %d, embedded %d)\n",
		report.Enriched, report.Selected, report.Skipped, report.Failed, report.Embedded)
	return nil
}
