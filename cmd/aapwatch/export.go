package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/david/aap-watch/internal/db"
	"github.com/david/aap-watch/internal/push"
)

// RunKindPush is the run ledger kind of a push.
const RunKindPush = "push"

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored records to a CSV or JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, _ := cmd.Flags().GetString("format")
			out, _ := cmd.Flags().GetString("out")
			activeOnly, _ := cmd.Flags().GetBool("active-only")
			asOfFlag, _ := cmd.Flags().GetString("as-of")

			var pusher push.Pusher
			switch format {
			case "csv":
				pusher = &push.CSVWriter{Path: exportPath(out, format), W: cmd.OutOrStdout()}
			case "json":
				pusher = &push.JSONWriter{Path: exportPath(out, format), W: cmd.OutOrStdout()}
			default:
				return fmt.Errorf("unknown format %q (csv, json)", format)
			}
			res, err := runPush(cmd.Context(), format, pusher, activeOnly, asOfFlag)
			if err != nil {
				return err
			}
			if out != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "exported %d records to %s\n", res.Inserted, exportPath(out, format))
			}
			return nil
		},
	}
	cmd.Flags().String("format", "csv", "output format (csv, json)")
	cmd.Flags().String("out", "", `output file ("-" for stdout, default: <data-dir>/exports/aap.<format>)`)
	cmd.Flags().Bool("active-only", false, "only records still open as of --as-of")
	cmd.Flags().String("as-of", "", "evaluation date YYYY-MM-DD (default: today)")
	return cmd
}

func exportPath(out, format string) string {
	switch out {
	case "-":
		return ""
	case "":
		return cfg.ExportPath(format)
	}
	return out
}

func pushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push stored records to CSV, Google Sheets or MongoDB",
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, _ := cmd.Flags().GetString("target")
			clearFirst, _ := cmd.Flags().GetBool("clear")
			activeOnly, _ := cmd.Flags().GetBool("active-only")
			asOfFlag, _ := cmd.Flags().GetString("as-of")
			return runPushTarget(cmd, strings.ToLower(target), clearFirst, activeOnly, asOfFlag)
		},
	}
	cmd.Flags().String("target", "sheets", "push target (csv, sheets, mongo)")
	cmd.Flags().Bool("clear", false, "mongo: delete existing documents first")
	cmd.Flags().Bool("active-only", false, "only records still open as of --as-of")
	cmd.Flags().String("as-of", "", "evaluation date YYYY-MM-DD (default: today)")
	return cmd
}

func runPushTarget(cmd *cobra.Command, target string, clearFirst, activeOnly bool, asOfFlag string) error {
	ctx := cmd.Context()

	var pusher push.Pusher
	switch target {
	case "csv":
		pusher = &push.CSVWriter{Path: cfg.ExportPath("csv")}
	case "sheets":
		sheetsCfg := cfg.SheetsPush()
		if err := sheetsCfg.Validate(); err != nil {
			return err
		}
		svc, err := push.NewSheetsService(ctx, sheetsCfg)
		if err != nil {
			return err
		}
		p, err := push.NewSheetsPusher(svc, sheetsCfg, logger)
		if err != nil {
			return err
		}
		pusher = p
	case "mongo":
		p, err := push.NewMongoPusher(ctx, cfg.MongoPush(clearFirst), logger)
		if err != nil {
			return err
		}
		defer func() { _ = p.Close(context.WithoutCancel(ctx)) }()
		pusher = p
	default:
		return fmt.Errorf("unknown target %q (csv, sheets, mongo)", target)
	}

	res, err := runPush(ctx, target, pusher, activeOnly, asOfFlag)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pushed %d records to %s (%d inserted, %d updated, %d batches)\n",
		res.Rows, res.Target, res.Inserted, res.Updated, res.Batches)
	return nil
}

// runPush loads the stored records, exports them as of the given day and
// hands them to pusher. Each push is written to the run ledger.
func runPush(ctx context.Context, target string, pusher push.Pusher, activeOnly bool, asOfFlag string) (push.Result, error) {
	asOf, err := parseAsOf(asOfFlag)
	if err != nil {
		return push.Result{}, err
	}

	store, err := openStore(ctx)
	if err != nil {
		return push.Result{}, err
	}
	defer func() { _ = store.Close() }()

	c, err := loadCollection(ctx, store)
	if err != nil {
		return push.Result{}, err
	}
	if activeOnly {
		c = c.FilterActive(asOf)
	}
	rows := exportRows(c.SortByUrgency(asOf), asOf)

	switch p := pusher.(type) {
	case *push.SheetsPusher:
		bar := newProgressBar(len(rows), "pushing to sheets")
		p.OnBatch = func(n int) { addProgress(bar, n) }
	case *push.MongoPusher:
		bar := newProgressBar(len(rows), "pushing to mongo")
		p.OnBatch = func(n int) { addProgress(bar, n) }
	}

	runID, runErr := store.StartRun(ctx, RunKindPush, target)
	if runErr != nil {
		logger.Warn("failed to create run", zap.Error(runErr))
	}

	res, err := pusher.Push(ctx, rows)

	if runErr == nil {
		result := db.RunResult{
			ItemsFound: len(rows),
			ItemsSaved: res.Inserted + res.Updated,
			Err:        err,
			Details:    map[string]any{"batches": res.Batches},
		}
		if err != nil {
			result.Errors = 1
		}
		if finishErr := store.FinishRun(context.WithoutCancel(ctx), runID, result); finishErr != nil {
			logger.Warn("failed to update run", zap.Error(finishErr))
		}
	}
	if err != nil {
		return res, fmt.Errorf("push to %s: %w", target, err)
	}
	return res, nil
}
