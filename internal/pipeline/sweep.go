package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nvandessel/charcoal/internal/atproto"
	"github.com/nvandessel/charcoal/internal/behavior"
	"github.com/nvandessel/charcoal/internal/constants"
	"github.com/nvandessel/charcoal/internal/models"
	"github.com/nvandessel/charcoal/internal/profile"
	"github.com/nvandessel/charcoal/internal/ratelimit"
	"github.com/nvandessel/charcoal/internal/store"
)

// Sweep walks the protected user's second-degree follower graph (followers
// of followers) on a slower cadence than Amplification, scoring each
// account through the same profile-build path. It has no backlink cursor
// of its own — a full walk every run, bounded by the same staleness and
// concurrency controls.
type Sweep struct {
	Store             store.Store
	Client            BacklinkClient
	Builder           *profile.Builder
	Pool              *Pool
	Logger            *slog.Logger
	ProtectedDID      string
	ProtectedHandle   string
	FollowerPageLimit int
	StalenessWindow   time.Duration
	PileOnThreshold   int
}

func (s *Sweep) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Run walks every first-degree follower's own followers, scoring each
// not-yet-stale second-degree account.
func (s *Sweep) Run(ctx context.Context) error {
	log := s.logger()

	allScores, err := s.Store.GetAllAccountScores(ctx)
	if err != nil {
		return fmt.Errorf("reading account scores for median engagement: %w", err)
	}
	median := behavior.MedianEngagement(allScores)

	pileOnWindow := s.StalenessWindow
	if pileOnWindow <= 0 {
		pileOnWindow = constants.PileOnWindow * 2
	}
	pileOnEvents, err := s.Store.GetEventsForPileOn(ctx, s.ProtectedDID, pileOnWindow)
	if err != nil {
		return fmt.Errorf("reading events for pile-on detection: %w", err)
	}
	pileOnSet := behavior.DetectPileOn(pileOnEvents, s.PileOnThreshold)

	fingerprint, err := s.Store.GetFingerprint(ctx, s.ProtectedDID)
	if err != nil {
		return fmt.Errorf("reading protected fingerprint: %w", err)
	}
	if fingerprint == nil {
		fingerprint = &models.TopicFingerprint{}
	}

	input := profile.Input{
		Fingerprint:       *fingerprint,
		ProtectedCentroid: fingerprint.Centroid,
		MedianEngagement:  median,
		PileOnSet:         pileOnSet,
	}

	staleness := s.StalenessWindow
	if staleness <= 0 {
		staleness = constants.DefaultStalenessDays * 24 * time.Hour
	}
	limit := s.FollowerPageLimit
	if limit <= 0 {
		limit = 100
	}

	queued := make(map[string]bool)
	cursor := ""
	for {
		var firstDegree []atproto.Follower
		var nextCursor string
		err := ratelimit.RetryOnRateLimit(ctx, atproto.IsRateLimit, func() error {
			var err error
			firstDegree, nextCursor, err = s.Client.GetFollowers(ctx, s.ProtectedHandle, cursor, limit)
			return err
		})
		if err != nil {
			return fmt.Errorf("listing protected user's followers: %w", err)
		}

		for _, f := range firstDegree {
			secondCursor := ""
			for {
				var secondDegree []atproto.Follower
				var secondNext string
				err := ratelimit.RetryOnRateLimit(ctx, atproto.IsRateLimit, func() error {
					var err error
					secondDegree, secondNext, err = s.Client.GetFollowers(ctx, f.Handle, secondCursor, limit)
					return err
				})
				if err != nil {
					log.Warn("listing second-degree followers failed", "first_degree_did", f.DID, "error", err)
					break
				}

				for _, sf := range secondDegree {
					if sf.DID == s.ProtectedDID || queued[sf.DID] {
						continue
					}
					queued[sf.DID] = true

					stale, err := s.Store.IsScoreStale(ctx, sf.DID, staleness)
					if err != nil {
						log.Warn("checking staleness failed", "did", sf.DID, "error", err)
						continue
					}
					if !stale {
						continue
					}

					target := sf
					s.Pool.Go(func() {
						scoreAndPersist(context.Background(), log, s.Store, s.Builder, target.DID, target.Handle, input)
					})
				}

				if secondNext == "" {
					break
				}
				secondCursor = secondNext
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	s.Pool.Wait()
	return nil
}
