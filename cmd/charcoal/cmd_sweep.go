package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/charcoal/internal/pipeline"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Walk the second-degree follower graph and score stale accounts",
		Long: `sweep walks every first-degree follower's own followers, scoring any
second-degree account whose score is stale, regardless of recent
amplification activity. It has no cursor of its own and re-walks the full
follower graph each run, so it is intended for a slower cadence than scan.`,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			sweep := &pipeline.Sweep{
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

			if err := sweep.Run(ctx); err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}

			if err := runAutoBackup(cfg); err != nil {
				logger.Warn("auto-backup after sweep failed", "error", err)
			}

			fmt.Println("sweep complete")
			return nil
		},
	}
	return cmd
}
