package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "charcoal",
		Short: "Predictive threat detection for Bluesky accounts",
		Long: `charcoal watches a protected Bluesky account's amplification graph
and scores the followers of accounts that quote its posts for toxicity,
topic overlap, and behavioral risk, ranking them into threat tiers before
they escalate.`,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newDownloadModelCmd(),
		newFingerprintCmd(),
		newScanCmd(),
		newSweepCmd(),
		newScoreCmd(),
		newReportCmd(),
		newStatusCmd(),
		newMigrateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
