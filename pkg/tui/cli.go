// Package tui renders the CLI output: run banner, live progress line,
// final summaries, and colored alert lines. Plain streaming output, no
// full-screen interface.
package tui

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/pkg/dlq"
	"github.com/logsift/logsift/pkg/pipeline"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	warn    = lipgloss.Color("#FFB000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(warn).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

// PrintHeader prints the program banner.
func PrintHeader(version string) {
	fmt.Println()
	fmt.Println(titleStyle.Render("  LOGSIFT") + mutedStyle.Render(" v"+version))
	fmt.Println(mutedStyle.Render("  Streaming log pipeline: parse, unify, window, alert"))
	fmt.Println()
}

// PrintRunInfo prints the run configuration block before the engine starts.
func PrintRunInfo(sources int, sinkDir, backend string) {
	fmt.Println(mutedStyle.Render("  ─────────────────────────────────────"))
	fmt.Printf("  %s %s\n", mutedStyle.Render("Sources:"), titleStyle.Render(fmt.Sprintf("%d", sources)))
	fmt.Printf("  %s %s\n", mutedStyle.Render("Sink:"), codeStyle.Render(sinkDir))
	fmt.Printf("  %s %s\n", mutedStyle.Render("Checkpoint:"), titleStyle.Render(backend))
	fmt.Println(mutedStyle.Render("  ─────────────────────────────────────"))
	fmt.Println()
}

// PrintProgress rewrites the live status line during a run.
func PrintProgress(st pipeline.Stats) {
	var rate float64
	if st.Elapsed > 0 {
		rate = float64(st.Ingested) / st.Elapsed.Seconds()
	}
	alerts := st.RecordAlerts + st.WindowAlerts
	fmt.Printf("\r  %s %s records %s",
		accentStyle.Render("⟳"),
		titleStyle.Render(formatNumber(st.Ingested)),
		mutedStyle.Render(fmt.Sprintf("(%s/sec, %d alerts, %d dead-lettered, %s)",
			formatNumber(int64(rate)), alerts, st.DeadLettered, formatDuration(st.Elapsed))))
}

// ClearLine clears the current line.
func ClearLine() {
	fmt.Print("\r\033[K")
}

// PrintSummary prints the end-of-run totals.
func PrintSummary(st pipeline.Stats) {
	fmt.Println()
	fmt.Println(successStyle.Render("  ✓ RUN COMPLETE"))
	fmt.Println()
	fmt.Printf("  %s %s\n", mutedStyle.Render("Ingested:"), titleStyle.Render(formatNumber(st.Ingested)))
	fmt.Printf("  %s %s %s\n",
		mutedStyle.Render("Parsed:"),
		titleStyle.Render(formatNumber(st.Parsed)),
		mutedStyle.Render(fmt.Sprintf("(%d failed, %d dead-lettered)", st.ParseFailed, st.DeadLettered)))
	fmt.Printf("  %s %s\n", mutedStyle.Render("Unified:"), titleStyle.Render(formatNumber(st.Normalized)))
	fmt.Printf("  %s %s %s\n",
		mutedStyle.Render("Windows:"),
		titleStyle.Render(formatNumber(st.Snapshots)),
		mutedStyle.Render(fmt.Sprintf("(%d late, %d skewed)", st.LateDropped, st.SkewDropped)))

	alerts := st.RecordAlerts + st.WindowAlerts
	alertStyle := mutedStyle
	if alerts > 0 {
		alertStyle = accentStyle
	}
	fmt.Printf("  %s %s\n", mutedStyle.Render("Alerts:"), alertStyle.Render(formatNumber(alerts)))

	if st.Elapsed > 0 {
		rate := float64(st.Ingested) / st.Elapsed.Seconds()
		fmt.Printf("  %s %s %s\n",
			mutedStyle.Render("Time:"),
			titleStyle.Render(formatDuration(st.Elapsed)),
			mutedStyle.Render(fmt.Sprintf("(%s records/sec)", formatNumber(int64(rate)))))
	}
	fmt.Println()
}

// PrintAlert prints one alert line, colored by its severity.
func PrintAlert(al model.Alert) {
	fmt.Printf("  %s %s %s %s\n",
		severityStyle(al.Severity).Render("▲ "+al.Severity),
		titleStyle.Render(al.Type),
		al.Subject,
		mutedStyle.Render(al.Time.UTC().Format("15:04:05")))
}

// PrintDLQSummary renders a dead-letter directory summary.
func PrintDLQSummary(s *dlq.Summary) {
	fmt.Println()
	if s.TotalRecords == 0 {
		fmt.Println(successStyle.Render("  ✓ DEAD LETTER QUEUE EMPTY"))
		fmt.Println()
		return
	}

	fmt.Println(accentStyle.Render("  ▸ DEAD LETTER QUEUE"))
	fmt.Println()
	fmt.Printf("  %s %s %s\n",
		mutedStyle.Render("Records:"),
		titleStyle.Render(formatNumber(s.TotalRecords)),
		mutedStyle.Render(fmt.Sprintf("(%s in %d files)", formatBytes(s.TotalBytes), s.FileCount)))

	fmt.Printf("  %s\n", mutedStyle.Render("Reasons:"))
	for _, reason := range sortedKeys(s.Reasons) {
		fmt.Printf("    %-24s %s\n", reason, titleStyle.Render(formatNumber(s.Reasons[reason])))
	}
	fmt.Printf("  %s\n", mutedStyle.Render("Streams:"))
	for _, stream := range sortedKeys(s.Streams) {
		fmt.Printf("    %-24s %s\n", stream, titleStyle.Render(formatNumber(s.Streams[stream])))
	}
	if !s.OldestRecord.IsZero() {
		fmt.Printf("  %s %s → %s\n",
			mutedStyle.Render("Span:"),
			s.OldestRecord.UTC().Format(time.RFC3339),
			s.NewestRecord.UTC().Format(time.RFC3339))
	}
	fmt.Println()
}

// PrintError prints a fatal error line.
func PrintError(err error) {
	fmt.Println(accentStyle.Render("  ✗ " + err.Error()))
}

func severityStyle(severity string) lipgloss.Style {
	switch severity {
	case model.SeverityEmergency, model.SeverityAlert, model.SeverityCritical, model.SeverityFatal, model.SeverityError:
		return accentStyle
	case model.SeverityWarning, model.SeverityWarn:
		return warnStyle
	default:
		return mutedStyle
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// ShowProgress creates a progress bar for replay runs with a known total.
func ShowProgress(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
