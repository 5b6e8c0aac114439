package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/haukened/rr-pulse/internal/pulse/config"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "rr-pulsed"

	defaultShutdownTimeout = 10 * time.Second
)

// configPath overrides $PULSE_CONFIG when set through --config.
var configPath string

var rootCmd = &cobra.Command{
	Use:           appName,
	Short:         "Ad and tracker filtering engine for an embedded browser",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $"+config.ConfigFileEnv+")")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration from --config, falling back to $PULSE_CONFIG.
func loadConfig() (*config.AppConfig, error) {
	path := configPath
	if path == "" {
		path = os.Getenv(config.ConfigFileEnv)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return cfg, nil
}
