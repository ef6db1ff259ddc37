// Package cmd defines and implements the CLI commands for the scrapeline
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrapeline",
		Short: "A staged content-acquisition pipeline",
		Long: `scrapeline crawls listing sites through a four-lane pipeline:
list pages fan out into detail fetches, resolved items fan out into media
transcodes and ingestion-API syncs. Pages are probed over plain HTTP first
and promoted to a headless browser when the site demands rendering or shows
anti-bot countermeasures.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the main entry point. Fatal conditions exit non-zero.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "scrapeline: %v\n", err)
		os.Exit(1)
	}
}
