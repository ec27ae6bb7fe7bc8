package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/david/aap-watch/internal/config"
	"github.com/david/aap-watch/internal/logging"
)

var (
	cfgFile string
	version = "dev"

	// set by loadApp before any subcommand runs
	cfg    config.Config
	logger = zap.NewNop()

	rootCmd = &cobra.Command{
		Use:   "aapwatch",
		Short: "Watch calls for projects aimed at associations",
		Long: `aapwatch collects calls for projects (appels à projets) from funders' web
sites and open data portals, normalizes and deduplicates them, enriches them
with a local LLM and pushes the result to CSV, Google Sheets or MongoDB.`,
		PersistentPreRunE: loadApp,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./aapwatch.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.String("data-dir", "data", "directory for staging and exports")
	flags.String("database-url", "", "postgres:// or sqlite:// database url")

	rootCmd.AddCommand(sourcesCmd())
	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(buildCmd())
	rootCmd.AddCommand(enrichCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(pushCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadApp(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	l, err := logging.New(loaded.Log.Level, loaded.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cfg, logger = loaded, l
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "aapwatch", version)
		},
	}
}
