package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/arbiter/internal/config"
)

var (
	version = "0.1.0"

	cfgFile  string
	logLevel string
	logFile  string

	// appConfig is loaded before any subcommand runs
	appConfig *config.Config
	logSink   io.Closer

	rootCmd = &cobra.Command{
		Use:   "arbiter",
		Short: "Access review reconciliation engine",
		Long: `Arbiter - access review reconciliation engine

Arbiter groups users by department and title, finds the roles each
peer group has in common, and plans the grants and reviews needed to
bring every user in line with their peers.

Source exports (ERP, loan origination, servicing, Datascan, AWS IAM)
are normalised with 'arbiter extract' and analyzed with 'arbiter analyze'.`,
		Version:            version,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
	}
)

// Execute runs the root command
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Arbiter {{.Version}} - Access Review Reconciliation
`)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file (overrides config)")
}

// setup loads configuration and configures logging
func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFile != "" {
		cfg.Log.File = logFile
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	sink, err := setupLogging(cfg.Log.Level, cfg.Log.File, os.Stderr)
	if err != nil {
		return err
	}

	appConfig = cfg
	logSink = sink
	return nil
}

func teardown(*cobra.Command, []string) error {
	if logSink == nil {
		return nil
	}
	err := logSink.Close()
	logSink = nil
	return err
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// setupLogging sets the global logger to a console writer, plus a JSON
// file sink when path is set. The returned closer is nil without a file.
func setupLogging(level, path string, console io.Writer) (io.Closer, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)

	out := zerolog.ConsoleWriter{Out: console}
	if path == "" {
		log.Logger = log.Output(out)
		return nil, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(out, f)).With().Timestamp().Logger()
	return f, nil
}
