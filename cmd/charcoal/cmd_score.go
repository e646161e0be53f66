package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/charcoal/internal/behavior"
	"github.com/nvandessel/charcoal/internal/models"
	"github.com/nvandessel/charcoal/internal/profile"
)

func newScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score <handle>",
		Short: "Score a single account on demand",
		Args:  cobra.ExactArgs(1),
		Long: `score runs the full profile-build pipeline for one handle outside of a
scan or sweep, persisting the result the same way scan and sweep do. Useful
for spot-checking an account a human flagged manually.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			handle := args[0]
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadAndValidate()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			client := newClient(cfg)
			protectedDID, err := resolveProtectedDID(ctx, client, cfg)
			if err != nil {
				return fmt.Errorf("resolving protected handle: %w", err)
			}
			targetDID, err := client.ResolveHandle(ctx, handle)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", handle, err)
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

			fingerprint, err := st.GetFingerprint(ctx, protectedDID)
			if err != nil {
				return fmt.Errorf("reading protected fingerprint: %w", err)
			}
			if fingerprint == nil {
				fingerprint = &models.TopicFingerprint{}
			}

			allScores, err := st.GetAllAccountScores(ctx)
			if err != nil {
				return fmt.Errorf("reading account scores for median engagement: %w", err)
			}
			median := behavior.MedianEngagement(allScores)

			pileOnEvents, err := st.GetEventsForPileOn(ctx, protectedDID, 24*time.Hour)
			if err != nil {
				return fmt.Errorf("reading events for pile-on detection: %w", err)
			}
			pileOnSet := behavior.DetectPileOn(pileOnEvents, cfg.Scoring.PileOnThreshold)

			builder := newProfileBuilder(cfg, client, engine, scorer)
			input := profile.Input{
				Fingerprint:       *fingerprint,
				ProtectedCentroid: fingerprint.Centroid,
				MedianEngagement:  median,
				PileOnSet:         pileOnSet,
			}

			score, err := builder.Build(ctx, targetDID, handle, input)
			if err != nil {
				return fmt.Errorf("scoring %s: %w", handle, err)
			}

			if err := st.UpsertAccountScore(ctx, score); err != nil {
				return fmt.Errorf("persisting score: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(score)
			}

			printScore(score)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func printScore(s models.AccountScore) {
	fmt.Printf("account:   %s (%s)\n", s.Handle, s.DID)
	fmt.Printf("posts:     %d analyzed\n", s.PostsAnalyzed)
	if s.ToxicityScore != nil {
		fmt.Printf("toxicity:  %.3f\n", *s.ToxicityScore)
	}
	if s.TopicOverlap != nil {
		fmt.Printf("overlap:   %.3f\n", *s.TopicOverlap)
	}
	if s.ThreatScore != nil && s.ThreatTier != nil {
		fmt.Printf("threat:    %.1f (%s)\n", *s.ThreatScore, *s.ThreatTier)
	} else {
		fmt.Println("threat:    not computed (missing toxicity or overlap signal)")
	}
	for _, p := range s.TopToxicPosts {
		fmt.Printf("  - [%.3f] %s\n", p.Toxicity, p.Text)
	}
}
