package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haukened/rr-pulse/internal/pulse/common/log"
	"github.com/haukened/rr-pulse/internal/pulse/config"
	"github.com/haukened/rr-pulse/internal/pulse/repos/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect filtering rules",
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Load a rules file and report its contents and skipped entries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRulesCheck,
}

var rulesDefaultCmd = &cobra.Command{
	Use:   "default",
	Short: "Print the built-in rules file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := cmd.OutOrStdout().Write(rules.DefaultRules())
		return err
	},
}

func init() {
	rulesCmd.AddCommand(rulesCheckCmd)
	rulesCmd.AddCommand(rulesDefaultCmd)
	rootCmd.AddCommand(rulesCmd)
}

func runRulesCheck(cmd *cobra.Command, args []string) error {
	var cfg *config.AppConfig
	if len(args) == 1 {
		c := config.DEFAULT_APP_CONFIG
		c.Rules.File = args[0]
		cfg = &c
	} else {
		var err error
		if cfg, err = loadConfig(); err != nil {
			return err
		}
	}

	loader := newRulesLoader(cfg, log.NewNoopLogger())
	rs, err := loader.Load()
	out := cmd.OutOrStdout()

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "SOURCE\t%s\n", loader.Name())
	fmt.Fprintf(tw, "VERSION\t%d\n", rs.Version)
	fmt.Fprintf(tw, "DOMAINS\t%d\n", len(rs.Blocks))
	fmt.Fprintf(tw, "PATTERNS\t%d active / %d total\n", rs.ActivePatterns(), len(rs.Patterns))
	fmt.Fprintf(tw, "TELEMETRY\t%d\n", len(rs.Telemetry))
	fmt.Fprintf(tw, "REWRITERS\t%d (%d targets)\n", len(rs.Rewriters), len(rs.RewriteTargets))
	if ferr := tw.Flush(); ferr != nil {
		return ferr
	}

	for _, p := range rs.Patterns {
		if !p.Enabled {
			fmt.Fprintf(out, "disabled pattern %s: %s\n", p.ID, p.Description)
		}
	}
	warnings := loader.Warnings()
	for _, w := range warnings {
		fmt.Fprintf(out, "skipped: %v\n", w)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRules, err)
	}
	if len(warnings) > 0 {
		return fmt.Errorf("%w: %d entries skipped", ErrRules, len(warnings))
	}
	return nil
}
