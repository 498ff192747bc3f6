package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/logsift/logsift/pkg/dlq"
	"github.com/logsift/logsift/pkg/tui"
)

var dlqDir string

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Summarize the dead-letter queue",
	Long: `Summarize the dead-letter directory: record and byte totals, failure
reasons, source streams, and the time span covered.

Use 'logsift replay --dlq' to feed the records back through the
pipeline.`,
	RunE: runDLQ,
}

func init() {
	dlqCmd.Flags().StringVar(&dlqDir, "dir", "", "DLQ directory (defaults to the configured one)")

	rootCmd.AddCommand(dlqCmd)
}

func runDLQ(cmd *cobra.Command, args []string) error {
	dir := dlqDir
	if dir == "" {
		mgr, err := loadConfig()
		if err != nil {
			return err
		}
		dir = mgr.Get().DLQ.Dir
	}

	summary, err := dlq.Summarize(dir)
	if err != nil {
		if os.IsNotExist(err) {
			tui.PrintDLQSummary(&dlq.Summary{})
			return nil
		}
		return err
	}

	tui.PrintDLQSummary(summary)
	return nil
}
