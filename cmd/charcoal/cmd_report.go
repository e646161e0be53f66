package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/charcoal/internal/report"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export scored accounts and amplification events as JSON",
		Long: `report writes every scored account and amplification event as a single
JSON document, the shape the read-only viewer consumes. Writes to stdout
unless --output is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")

			cfg, err := loadAndValidate()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("opening storage backend: %w", err)
			}
			defer st.Close()

			doc, err := report.Build(ctx, st, time.Now())
			if err != nil {
				return fmt.Errorf("building report: %w", err)
			}

			data, err := report.Marshal(doc)
			if err != nil {
				return err
			}

			if output == "" {
				fmt.Println(string(data))
				return nil
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("writing report to %s: %w", output, err)
			}
			fmt.Printf("wrote report to %s (%d accounts, %d events)\n", output, doc.TotalAccounts, doc.TotalEvents)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "file to write the report to (default: stdout)")
	return cmd
}
