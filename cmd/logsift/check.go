package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the effective configuration",
	Long: `Load the configuration exactly the way run would (defaults, /etc, $HOME,
cwd, --config, then environment overrides) and validate it without
starting anything.

Exits non-zero when any value is invalid. Every problem is listed, not
just the first one.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	mgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := mgr.Get()

	paths := mgr.GetPaths()
	if len(paths) == 0 {
		fmt.Println("No config files found, using defaults")
	} else {
		fmt.Println("Config files loaded:")
		for _, p := range paths {
			fmt.Printf("  - %s\n", p)
		}
	}
	fmt.Println()

	if err := cfg.Validate(); err != nil {
		return err
	}

	fmt.Printf("Streams:    %d bound\n", len(cfg.Streams))
	fmt.Printf("Inputs:     %d configured\n", len(cfg.Inputs))
	fmt.Printf("Workers:    %d\n", cfg.Parsers.Workers)
	fmt.Printf("Windows:    lateness %s, max skew %s, %d shards\n",
		cfg.Windows.Lateness.Std(), cfg.Windows.MaxSkew.Std(), cfg.Windows.Shards)
	fmt.Printf("Checkpoint: %s\n", cfg.Checkpoint.Backend)
	fmt.Printf("Sink dir:   %s\n", cfg.Sinks.Dir)
	fmt.Printf("DLQ dir:    %s\n", cfg.DLQ.Dir)
	if cfg.Server.Enabled {
		fmt.Printf("Server:     http://%s\n", cfg.Server.Addr())
	}
	if cfg.Telemetry.Enabled {
		fmt.Printf("Telemetry:  %s (sample %.2f)\n", cfg.Telemetry.Endpoint, cfg.Telemetry.SampleRatio)
	}
	fmt.Println()
	fmt.Println("Configuration OK")

	return nil
}
