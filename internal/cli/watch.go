package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/opsight-go/internal/models"
)

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job's progress",
	Long: `Follow a job's progress events until it completes or fails.

In a terminal this shows an interactive progress bar. When output is
redirected, events are printed one per line instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchJob(context.Background(), args[0])
	},
}

func watchJob(ctx context.Context, jobID string) error {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return runWatchUI(ctx, apiClient, jobID)
	}
	return watchPlain(ctx, jobID)
}

// watchPlain streams events as plain lines for non-interactive output.
func watchPlain(ctx context.Context, jobID string) error {
	err := apiClient.StreamEvents(ctx, jobID, -1, func(ev models.ProgressEvent) error {
		line := fmt.Sprintf("[%3.0f%%] %-14s %s", ev.Progress(), ev.Stage, ev.Status)
		if ev.Message != "" {
			line += ": " + ev.Message
		}
		fmt.Println(line)
		return nil
	})
	if err != nil {
		return fmt.Errorf("stream events: %w", err)
	}

	job, err := apiClient.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job.Status == models.JobStatusFailed {
		if job.Error != nil {
			return fmt.Errorf("job failed: %s", *job.Error)
		}
		return fmt.Errorf("job failed")
	}
	if job.Result != nil {
		fmt.Println()
		printResult(job.Result)
	}
	return nil
}
