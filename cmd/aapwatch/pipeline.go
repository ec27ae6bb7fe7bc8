package main

import (
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/david/aap-watch/internal/ai"
)

func pipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Fetch, build, enrich and push in one go",
		Long: `Runs the full chain: every active connector is fetched into staging, the
staged records are normalized and stored, missing fields are enriched with
the LLM and the result is pushed to the chosen target. A failing source
does not stop the chain.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			skipFetch, _ := flags.GetBool("skip-fetch")
			skipEnrich, _ := flags.GetBool("skip-enrich")
			skipPush, _ := flags.GetBool("skip-push")
			force, _ := flags.GetBool("force")
			target, _ := flags.GetString("target")
			ids, _ := flags.GetStringSlice("source")

			if !skipFetch {
				if err := runFetch(cmd, ids); err != nil {
					if cmd.Context().Err() != nil {
						return err
					}
					logger.Warn("some sources failed, continuing with what was staged", zap.Error(err))
				}
			}

			if err := runBuild(cmd, ids); err != nil {
				return err
			}

			if !skipEnrich {
				if err := runEnrich(cmd, ai.BatchOptions{SourceIDs: ids, Force: force}); err != nil {
					return err
				}
			}

			if skipPush {
				return nil
			}
			return runPushTarget(cmd, strings.ToLower(target), false, false, "")
		},
	}
	cmd.Flags().Bool("skip-fetch", false, "build from what is already staged")
	cmd.Flags().Bool("skip-enrich", false, "do not call the LLM")
	cmd.Flags().Bool("skip-push", false, "stop after enrichment")
	cmd.Flags().Bool("force", false, "re-enrich records that were already enriched")
	cmd.Flags().String("target", "csv", "push target (csv, sheets, mongo)")
	cmd.Flags().StringSlice("source", nil, "source id (repeatable, default: all active sources)")
	return cmd
}
