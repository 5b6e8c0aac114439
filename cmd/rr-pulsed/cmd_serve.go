package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haukened/rr-pulse/internal/pulse/common/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the filter daemon and its host API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := log.Configure(cfg.Env, cfg.Log.Level); err != nil {
		return fmt.Errorf("logging configuration error: %w", err)
	}

	log.Info(map[string]any{
		"version":          version,
		"env":              cfg.Env,
		"log_level":        cfg.Log.Level,
		"listen":           cfg.API.Listen,
		"rules_file":       cfg.Rules.File,
		"whitelist_db":     cfg.Whitelist.DB,
		"enabled":          cfg.Enabled,
		"missing_referrer": cfg.Classifier.MissingReferrer,
		"first_party_mode": cfg.Classifier.FirstPartyMode,
	}, "Starting RR-Pulse filter daemon")

	app, err := buildApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		return err
	}
	log.Info(nil, "RR-Pulse filter daemon stopped gracefully")
	return nil
}
