package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/charcoal/internal/models"
	"github.com/nvandessel/charcoal/internal/setup"
)

const backlinkCursorStateKey = "backlink_cursor"

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print fingerprint age, scored-account counts, and model state",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadAndValidate()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			client := newClient(cfg)
			did, err := resolveProtectedDID(ctx, client, cfg)
			if err != nil {
				return fmt.Errorf("resolving protected handle: %w", err)
			}

			st, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("opening storage backend: %w", err)
			}
			defer st.Close()

			fingerprint, err := st.GetFingerprint(ctx, did)
			if err != nil {
				return fmt.Errorf("reading fingerprint: %w", err)
			}

			scores, err := st.GetAllAccountScores(ctx)
			if err != nil {
				return fmt.Errorf("reading account scores: %w", err)
			}
			tierCounts := map[models.ThreatTier]int{}
			for _, s := range scores {
				if s.ThreatTier != nil {
					tierCounts[*s.ThreatTier]++
				}
			}

			cursor, err := st.GetScanState(ctx, backlinkCursorStateKey)
			if err != nil {
				return fmt.Errorf("reading scan state: %w", err)
			}

			detected := setup.DetectInstalled(cfg.Model.Dir)

			result := map[string]any{
				"protected_did":    did,
				"protected_handle": cfg.Bluesky.Handle,
				"scored_accounts":  len(scores),
				"tier_counts":      tierCounts,
				"model_available":  detected.Available,
				"scorer":           cfg.Model.Scorer,
				"scan_started":     cursor != "",
			}
			if fingerprint != nil {
				result["fingerprint_post_count"] = fingerprint.PostCount
				result["fingerprint_clusters"] = len(fingerprint.Clusters)
				result["fingerprint_updated_at"] = fingerprint.UpdatedAt
				result["fingerprint_age"] = time.Since(fingerprint.UpdatedAt).Round(time.Second).String()
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(result)
			}

			fmt.Printf("protected account: %s (%s)\n", cfg.Bluesky.Handle, did)
			if fingerprint != nil && fingerprint.PostCount > 0 {
				fmt.Printf("fingerprint:       %d clusters from %d posts, updated %s ago\n",
					len(fingerprint.Clusters), fingerprint.PostCount, time.Since(fingerprint.UpdatedAt).Round(time.Second))
			} else {
				fmt.Println("fingerprint:       not built yet (run: charcoal fingerprint)")
			}
			fmt.Printf("scored accounts:   %d\n", len(scores))
			for _, tier := range []models.ThreatTier{models.TierHigh, models.TierElevated, models.TierWatch, models.TierLow} {
				fmt.Printf("  %-9s %d\n", tier, tierCounts[tier])
			}
			fmt.Printf("scan state:        %s\n", scanStateLabel(cursor))
			fmt.Printf("model:             %s (scorer: %s)\n", modelLabel(detected.Available), cfg.Model.Scorer)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func scanStateLabel(cursor string) string {
	if cursor == "" {
		return "never scanned"
	}
	return "resumable from saved cursor"
}

func modelLabel(available bool) string {
	if available {
		return "available"
	}
	return "not installed (run: charcoal download-model)"
}
