package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/opsight-go/internal/models"
)

var resultJSON bool

var resultCmd = &cobra.Command{
	Use:   "result <job-id>",
	Short: "Show the analysis report of a completed job",
	Long: `Fetch and render the root-cause report of a completed job.

Examples:
  opsight result abc12345
  opsight result abc12345 --json > report.json`,
	Args: cobra.ExactArgs(1),
	RunE: runResult,
}

func init() {
	resultCmd.Flags().BoolVar(&resultJSON, "json", false, "output raw JSON")
}

func runResult(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	result, err := apiClient.GetResult(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get result: %w", err)
	}

	if resultJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printResult(result)
	return nil
}

// printResult renders a report for terminal reading.
func printResult(r *models.AnalysisResult) {
	fmt.Printf("Severity: %s\n", strings.ToUpper(string(r.Severity)))
	fmt.Printf("\n%s\n", r.ExecutiveSummary)

	if r.PlatformDetection != nil && r.PlatformDetection.Platform != nil {
		fmt.Printf("\nPlatform: %s (confidence %.2f, via %s)\n",
			*r.PlatformDetection.Platform,
			r.PlatformDetection.Confidence,
			r.PlatformDetection.DetectionMethod)
		for _, e := range r.PlatformDetection.ExtractedEntities {
			fmt.Printf("  %s: %s\n", e.Key, e.Value)
		}
	}

	if len(r.Findings) > 0 {
		fmt.Printf("\nFindings (%d):\n", len(r.Findings))
		for i, f := range r.Findings {
			fmt.Printf("  %d. %s\n     %s\n", i+1, f.Title, f.Detail)
			if f.Evidence != "" {
				fmt.Printf("     Evidence: %s\n", f.Evidence)
			}
		}
	}

	if len(r.RecommendedActions.HighPriority) > 0 {
		fmt.Println("\nHigh-priority actions:")
		for _, a := range r.RecommendedActions.HighPriority {
			fmt.Printf("  ! %s\n", a)
		}
	}
	if len(r.RecommendedActions.Standard) > 0 {
		fmt.Println("\nStandard actions:")
		for _, a := range r.RecommendedActions.Standard {
			fmt.Printf("  - %s\n", a)
		}
	}

	if len(r.RelatedIncidents) > 0 {
		fmt.Printf("\nRelated incidents (%d):\n", len(r.RelatedIncidents))
		for _, ri := range r.RelatedIncidents {
			summary := ri.Fingerprint.Summary
			if len(summary) > 70 {
				summary = summary[:67] + "..."
			}
			fmt.Printf("  %.2f  job %s  %s\n", ri.Similarity, ri.Fingerprint.SourceJobID, summary)
		}
	}

	fmt.Printf("\nRedaction: %d replacements", r.RedactionSummary.TotalReplacements)
	if !r.RedactionSummary.ValidationPassed {
		fmt.Printf(" (validation warnings: %d)", len(r.RedactionSummary.ValidationWarnings))
	}
	fmt.Println()

	if verbose && len(r.RedactionSummary.ByCategory) > 0 {
		for cat, n := range r.RedactionSummary.ByCategory {
			fmt.Printf("  %s: %d\n", cat, n)
		}
	}

	fmt.Printf("Analysis took %s\n", r.Timeline.Duration.Round(time.Millisecond))
}
