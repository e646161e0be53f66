package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/charcoal/internal/setup"
)

func newDownloadModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download-model",
		Short: "Download the local embedding model and llama.cpp libraries",
		Long: `download-model fetches the llama.cpp shared libraries for this platform
and the default GGUF sentence-embedding model into the configured model
directory, then seeds a default toxicity probe head if one is missing.

Safe to re-run: the library and model downloads are skipped if already
present, unless --force is given; an existing toxicity probe head is always
kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")

			cfg, err := loadAndValidate()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			detected := setup.DetectInstalled(cfg.Model.Dir)

			if force || detected.LibPath == "" {
				fmt.Println("downloading llama.cpp libraries...")
				if err := setup.DownloadLibraries(ctx, cfg.Model.Dir); err != nil {
					return fmt.Errorf("downloading llama.cpp libraries: %w", err)
				}
			} else {
				fmt.Println("llama.cpp libraries already installed, skipping")
			}

			if force || detected.ModelPath == "" {
				fmt.Println("downloading embedding model...")
				if err := setup.DownloadEmbeddingModel(ctx, cfg.Model.Dir); err != nil {
					return fmt.Errorf("downloading embedding model: %w", err)
				}
			} else {
				fmt.Println("embedding model already installed, skipping")
			}

			headPath, err := setup.EnsureToxicityHead(cfg.Model.Dir)
			if err != nil {
				return fmt.Errorf("seeding toxicity head: %w", err)
			}
			fmt.Printf("toxicity head: %s\n", headPath)

			final := setup.DetectInstalled(cfg.Model.Dir)
			if !final.Available {
				return fmt.Errorf("model setup incomplete after download: lib=%q model=%q head=%q",
					final.LibPath, final.ModelPath, final.ToxicityHead)
			}
			fmt.Println("model setup complete")
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "re-download even if already installed")
	return cmd
}
