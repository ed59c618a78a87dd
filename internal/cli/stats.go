package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/opsight-go/internal/metrics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server runtime statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := apiClient.GetStats(context.Background())
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("Uptime: %s\n", (time.Duration(snap.UptimeSeconds) * time.Second).Round(time.Second))
		fmt.Printf("Jobs: %d submitted, %d completed, %d failed, %d cancelled\n",
			snap.JobsSubmitted, snap.JobsCompleted, snap.JobsFailed, snap.JobsCancelled)

		printOp := func(name string, op *metrics.OperationSnapshot) {
			if op == nil {
				return
			}
			fmt.Printf("  %-12s %6d calls  avg %7.1fms  min %5dms  max %5dms\n",
				name, op.Count, op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
		}

		fmt.Println("\nOperations:")
		printOp("redaction", snap.Redaction)
		printOp("extraction", snap.Extraction)
		printOp("embedding", snap.Embedding)
		printOp("analysis", snap.Analysis)
		printOp("correlation", snap.Correlation)
		printOp("db query", snap.DBQuery)
		return nil
	},
}
