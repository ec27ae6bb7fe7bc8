package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/aap-watch/internal/models"
)

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show counts over the stored records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			asOfFlag, _ := cmd.Flags().GetString("as-of")
			asOf, err := parseAsOf(asOfFlag)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			c, err := loadCollection(ctx, store)
			if err != nil {
				return err
			}
			s := c.Stats(asOf)
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "as of %s: %d records, %d active, %d expired, %d open to all applicants\n\n",
				asOf.Format("2006-01-02"), s.Total, s.Active, s.Expired, s.Unrestricted)

			t := newTable(out)
			t.SetTitle("Urgency")
			t.AppendHeader(table.Row{"Level", "Records"})
			for _, u := range models.Urgencies {
				t.AppendRow(table.Row{u, s.ByUrgency[u]})
			}
			t.Render()

			t = newTable(out)
			t.SetTitle("Categories")
			t.AppendHeader(table.Row{"Category", "Records"})
			for _, cat := range models.Categories {
				if n := s.ByCategory[cat]; n > 0 {
					t.AppendRow(table.Row{cat, n})
				}
			}
			t.Render()

			t = newTable(out)
			t.SetTitle("Eligibility")
			t.AppendHeader(table.Row{"Applicant type", "Records"})
			for _, e := range models.EligibilityTypes {
				if n := s.ByEligibility[e]; n > 0 {
					t.AppendRow(table.Row{e, n})
				}
			}
			t.Render()

			sources := make([]string, 0, len(s.BySource))
			for id := range s.BySource {
				sources = append(sources, id)
			}
			sort.Strings(sources)
			t = newTable(out)
			t.SetTitle("Sources")
			t.AppendHeader(table.Row{"Source", "Records"})
			for _, id := range sources {
				t.AppendRow(table.Row{id, s.BySource[id]})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().String("as-of", "", "evaluation date YYYY-MM-DD (default: today)")
	return cmd
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show the most recent fetch, build, enrich and push runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}

			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"ID", "Kind", "Source", "Status", "Found", "Saved", "Errors", "Duration", "Started At"})
			for _, r := range runs {
				duration := "Running..."
				if r.FinishedAt != nil {
					duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				t.AppendRow(table.Row{r.ID, r.Kind, r.SourceID, r.Status, r.ItemsFound, r.ItemsSaved, r.Errors,
					duration, r.StartedAt.Local().Format("2006-01-02 15:04:05")})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().Int("limit", 10, "number of runs to show")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			fmt.Fprintln(cmd.OutOrStdout(), "database schema is up to date")
			return nil
		},
	}
}
