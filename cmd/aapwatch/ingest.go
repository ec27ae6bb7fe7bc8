package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/aap-watch/internal/ingest"
)

func sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List the configured sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, _ := cmd.Flags().GetBool("all")

			reg, err := ingest.LoadRegistry()
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"ID", "Name", "Strategy", "Engine", "Active", "Listing"})
			for _, src := range reg.Sources {
				if !src.Active && !all {
					continue
				}
				engine := src.Fetch.Engine
				if engine == "" {
					engine = "http"
				}
				t.AppendRow(table.Row{src.ID, src.Name, src.Strategy, engine, src.Active, src.ListingPage()})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "include inactive sources")
	return cmd
}

func fetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run source connectors and stage their raw records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids, _ := cmd.Flags().GetStringSlice("source")
			return runFetch(cmd, ids)
		},
	}
	cmd.Flags().StringSlice("source", nil, "source id (repeatable, default: all active sources)")
	return cmd
}

func runFetch(cmd *cobra.Command, ids []string) error {
	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	p, closeFetchers, err := newPipeline(store)
	if err != nil {
		return err
	}
	defer closeFetchers()

	stats, fetchErr := p.FetchAll(ctx, ids)

	t := newTable(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Source", "Found", "Staged", "Skipped", "Errors", "Duration"})
	for _, s := range stats {
		t.AppendRow(table.Row{s.SourceID, s.TotalFound, s.TotalSaved, s.Skipped, s.Errors, s.Duration.Round(time.Millisecond)})
	}
	t.Render()
	return fetchErr
}

func buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Normalize staged records, deduplicate them and store the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids, _ := cmd.Flags().GetStringSlice("source")
			return runBuild(cmd, ids)
		},
	}
	cmd.Flags().StringSlice("source", nil, "source id (repeatable, default: every staged source)")
	return cmd
}

func runBuild(cmd *cobra.Command, ids []string) error {
	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	p, closeFetchers, err := newPipeline(store)
	if err != nil {
		return err
	}
	defer closeFetchers()

	report, err := p.Build(ctx, ids)
	if err != nil {
		return err
	}

	t := newTable(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Source", "Received", "Normalized", "Added", "Duplicates", "Cross-source", "Failed"})
	var normalized, inSource, crossSource int
	for _, s := range report.Sources {
		t.AppendRow(table.Row{s.SourceID, s.Received, s.Normalized, s.Added, s.Duplicates, s.CrossSource, s.Failed})
		normalized += s.Normalized
		inSource += s.Duplicates
		crossSource += s.CrossSource
	}
	t.AppendFooter(table.Row{"Total", report.Received(), normalized, report.Records.Len(), inSource, crossSource, report.Failed()})
	t.Render()

	fmt.Fprintf(cmd.OutOrStdout(), "stored: %d inserted, %d updated, %d failed\n",
		report.Upsert.Inserted, report.Upsert.Updated, report.Upsert.Failed)
	return nil
}
