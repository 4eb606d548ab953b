// Package cmd implements the airwave command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/airwavetv/airwave/internal/config"
	"github.com/airwavetv/airwave/internal/observability"
	"github.com/airwavetv/airwave/internal/version"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "airwave",
	Short: "Virtual IPTV headend",
	Long: `airwave turns a media library into always-on virtual TV channels,
served over an HDHomeRun-compatible tuner surface with an XMLTV guide.`,
	Version:       version.Short(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ., ./configs, /etc/airwave, $HOME/.airwave)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"log format (json, text)")
}

// loadConfig reads the configuration and applies command line overrides.
// Flag values only override when the flag was actually set, preserving
// the flag > env > config file > default precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") || cmd.InheritedFlags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if cmd.Flags().Changed("log-format") || cmd.InheritedFlags().Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

// setupLogging installs the process-wide logger from the loaded config.
func setupLogging(cfg *config.Config) {
	logger := observability.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	observability.SetDefault(logger)
}
