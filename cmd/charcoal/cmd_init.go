package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/charcoal/internal/setup"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize charcoal's database and model directory",
		Long: `Initialize creates the configured storage backend's schema, seeds a
default toxicity probe head if one isn't already present, and resolves the
protected account's handle to its DID.

It does not download the embedding model or llama.cpp libraries; run
"charcoal download-model" separately for that.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadAndValidate()
			if err != nil {
				return err
			}

			if err := os.MkdirAll(cfg.Model.Dir, 0755); err != nil {
				return fmt.Errorf("creating model directory: %w", err)
			}
			headPath, err := setup.EnsureToxicityHead(cfg.Model.Dir)
			if err != nil {
				return fmt.Errorf("seeding toxicity head: %w", err)
			}

			ctx := cmd.Context()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("opening storage backend: %w", err)
			}
			defer st.Close()

			client := newClient(cfg)
			did, err := resolveProtectedDID(ctx, client, cfg)
			if err != nil {
				return fmt.Errorf("resolving protected handle %s: %w", cfg.Bluesky.Handle, err)
			}

			result := map[string]any{
				"status":         "initialized",
				"protected_did":  did,
				"toxicity_head":  headPath,
				"model_dir":      cfg.Model.Dir,
				"scorer":         cfg.Model.Scorer,
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(result)
			}
			fmt.Printf("initialized charcoal for %s (did: %s)\n", cfg.Bluesky.Handle, did)
			fmt.Printf("toxicity head: %s\n", headPath)
			fmt.Printf("scorer: %s\n", cfg.Model.Scorer)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}
