package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/logsift/logsift/pkg/alert"
	"github.com/logsift/logsift/pkg/window"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the effective alert rules",
	Long: `Print the alert rules the engine would evaluate, with thresholds after
config and environment overrides, and the window each per-window rule is
computed over.`,
	RunE: runRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
}

func runRules(cmd *cobra.Command, args []string) error {
	mgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	if err := cfg.Validate(); err != nil {
		return err
	}
	a := cfg.Alerts

	windows := make(map[string]time.Duration)
	for _, q := range window.StandardQueries(cfg.Windows.Lateness.Std(), cfg.Windows.MaxSkew.Std()) {
		windows[q.Name] = cfg.QueryDuration(q.Name, q.Window)
	}

	fmt.Println("Per-record rules")
	fmt.Printf("  %-23s severity in {%s}\n", alert.TypeCriticalLog, strings.Join(a.CriticalSeverities, ", "))
	fmt.Println()

	fmt.Println("Per-window rules")
	fmt.Printf("  %-23s %-28s %-8s %s\n", "Rule", "Query", "Window", "Thresholds")
	printRule := func(rule, query, thresholds string) {
		fmt.Printf("  %-23s %-28s %-8s %s\n", rule, query, windows[query], thresholds)
	}
	printRule(alert.TypeErrorRate, window.QueryErrorRateByService,
		fmt.Sprintf("critical > %.1f%%, warning > %.1f%%", a.ErrorRateCriticalPct, a.ErrorRateWarningPct))
	printRule(alert.TypeLatencySLA, window.QueryLatencyByService,
		fmt.Sprintf("critical > %.0fms, warning > %.0fms max latency", a.LatencyCriticalMS, a.LatencyWarningMS))
	printRule(alert.TypeSSHFailures, window.QuerySSHFailuresByHost,
		fmt.Sprintf("critical >= %d, warning >= %d, info >= %d failed logins", a.SSHCriticalCount, a.SSHWarningCount, a.SSHInfoCount))
	printRule(alert.TypeHTTPAnomaly, window.QueryHTTPErrorsByStatus,
		fmt.Sprintf("critical > %d, warning > %d, info > %d per status", a.HTTPCriticalCount, a.HTTPWarningCount, a.HTTPInfoCount))
	printRule(alert.TypeSuspiciousIP, window.QueryRequestsByClient,
		fmt.Sprintf("over %d requests with error ratio over %.2f", a.SuspiciousMinRequests, a.SuspiciousErrorRatio))
	fmt.Println()

	fmt.Println("Queries without alert rules")
	for _, name := range []string{
		window.QueryVolumeByEndpoint,
		window.QueryVolumeBySourceSeverity,
		window.QuerySpanDurationByOperation,
	} {
		fmt.Printf("  %-52s %s\n", name, windows[name])
	}

	return nil
}
