// Logsift - streaming log processing engine
// Parses mixed-format log streams, unifies them, aggregates tumbling
// windows, and raises alerts.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/logsift/logsift/pkg/config"
	"github.com/logsift/logsift/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	cfgFile string
	verbose bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		tui.PrintError(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "logsift",
	Short: "Logsift - parse, unify, window, and alert on log streams",
	Long: `Logsift ingests heterogeneous log streams (structured JSON, syslog,
nginx access logs, legacy app logs, OTLP span batches), normalizes them
onto one unified event shape, aggregates tumbling windows per query, and
raises per-record and per-window alerts.

Outputs are JSONL streams in the sink directory: parsed records per
format, the unified event stream, metric snapshots per query, and the
two alert streams. Records that fail parsing land in the dead-letter
queue with a machine-readable reason and can be replayed.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file, loaded after /etc, $HOME and cwd configs")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}

// loadConfig loads the effective configuration: defaults, config files in
// priority order, the --config file, then environment overrides.
func loadConfig() (*config.Manager, error) {
	mgr := config.NewManager()
	if err := mgr.Load(cfgFile); err != nil {
		return nil, err
	}
	return mgr, nil
}

// newLogger builds the process logger from the logging config and makes
// it the slog default. --verbose forces debug level.
func newLogger(cfg *config.Config) *slog.Logger {
	level := cfg.Logging.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Logging.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// isTerminal reports whether stdout is a character device, gating the
// banner and progress line.
func isTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
