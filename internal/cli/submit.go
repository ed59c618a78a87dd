package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/opsight-go/internal/client"
)

var submitWatch bool

var submitCmd = &cobra.Command{
	Use:   "submit <file> [file...]",
	Short: "Submit artifacts for analysis",
	Long: `Submit one or more artifact files for analysis. Archives (zip, tar,
gzip, bzip2, xz, 7z) are unpacked server-side.

Examples:
  opsight submit session_export.xml
  opsight submit logs.zip resource_config.json
  opsight submit incident_bundle.tar.gz --watch`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().BoolVarP(&submitWatch, "watch", "w", false, "follow job progress after submitting")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	files := make([]client.FileUpload, 0, len(args))
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		files = append(files, client.FileUpload{
			Name:    filepath.Base(path),
			Content: content,
		})
	}

	job, err := apiClient.Submit(ctx, files)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	fmt.Printf("Job %s queued (%d files)\n", job.ID, len(files))

	if submitWatch {
		return watchJob(ctx, job.ID)
	}

	fmt.Printf("Use 'opsight watch %s' to follow progress.\n", job.ID)
	return nil
}
