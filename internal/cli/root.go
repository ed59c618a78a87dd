// Package cli provides the command-line interface for opsight.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/opsight-go/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	verbose   bool

	// API client shared by all commands
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "opsight",
	Short: "Incident analysis for automation platform artifacts",
	Long: `Opsight analyzes operational artifacts (logs, configuration exports,
session dumps) from automation platforms. Submitted files are redacted,
matched against known platforms, correlated with past incidents and
assessed by an LLM into a root-cause report.

All analysis runs server-side; this CLI submits artifacts and tracks
job progress.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		apiClient = client.New(serverURL)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $OPSIGHT_SERVER_URL or http://localhost:8491)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(resultCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statsCmd)
}
