package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/charcoal/internal/pipeline"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for new amplification events and score the accounts behind them",
		Long: `scan fetches the protected account's recent posts, pages the backlink
index for new quotes and reposts against them, resolves the amplifiers'
followers, and scores every not-yet-stale account with bounded concurrency.
Intended to run frequently (minutes), driven by an external scheduler.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			since, _ := cmd.Flags().GetString("since")
			if since != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "--since is accepted for compatibility but has no effect; scan always resumes from the persisted backlink cursor")
			}

			cfg, err := loadAndValidate()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			logger, decision := newLogger(cfg)
			defer decision.Close()

			client := newClient(cfg)
			did, err := resolveProtectedDID(ctx, client, cfg)
			if err != nil {
				return fmt.Errorf("resolving protected handle: %w", err)
			}

			engine := newEmbeddingEngine(cfg)
			defer engine.Close()
			scorer, err := newToxicityScorer(cfg, engine)
			if err != nil {
				return err
			}

			st, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("opening storage backend: %w", err)
			}
			defer st.Close()

			builder := newProfileBuilder(cfg, client, engine, scorer)
			pool := pipeline.NewPool(cfg.Concurrency.Workers, logger)

			amp := &pipeline.Amplification{
				Store:             st,
				Client:            client,
				Builder:           builder,
				Pool:              pool,
				Logger:            logger,
				ProtectedDID:      did,
				ProtectedHandle:   cfg.Bluesky.Handle,
				FollowerPageLimit: 100,
				StalenessWindow:   time.Duration(0),
				PileOnThreshold:   cfg.Scoring.PileOnThreshold,
			}

			if err := amp.Run(ctx); err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}

			if err := runAutoBackup(cfg); err != nil {
				logger.Warn("auto-backup after scan failed", "error", err)
			}

			fmt.Println("scan complete")
			return nil
		},
	}
	cmd.Flags().String("since", "", "unused; scan always resumes from the persisted backlink cursor")
	return cmd
}
