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

const backlinkCursorKey = "backlink_cursor"

// BacklinkClient is the subset of internal/atproto.Client the amplification
// pipeline drives directly.
type BacklinkClient interface {
	GetRecentPosts(ctx context.Context, handle string, limit int) ([]models.Post, error)
	GetBacklinks(ctx context.Context, postURI, cursor string, limit int) ([]atproto.BacklinkEvent, string, error)
	GetFollowers(ctx context.Context, handle, cursor string, limit int) ([]atproto.Follower, string, error)
	ResolveDIDs(ctx context.Context, dids []string) (map[string]string, error)
}

// Amplification runs the main scan: new amplification events against the
// protected user's posts fan out to the amplifiers' followers, each scored
// with bounded concurrency and persisted as it completes.
type Amplification struct {
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

func (a *Amplification) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

// Run executes one full amplification scan.
func (a *Amplification) Run(ctx context.Context) error {
	log := a.logger()

	cursor, err := a.Store.GetScanState(ctx, backlinkCursorKey)
	if err != nil {
		return fmt.Errorf("reading backlink cursor: %w", err)
	}

	var protectedPosts []models.Post
	err = ratelimit.RetryOnRateLimit(ctx, atproto.IsRateLimit, func() error {
		var err error
		protectedPosts, err = a.Client.GetRecentPosts(ctx, a.ProtectedHandle, constants.DefaultFingerprintPostCount)
		return err
	})
	if err != nil {
		return fmt.Errorf("fetching protected user's posts: %w", err)
	}

	var newEvents []atproto.BacklinkEvent
	nextCursor := cursor
	for _, post := range protectedPosts {
		var events []atproto.BacklinkEvent
		var pageCursor string
		err := ratelimit.RetryOnRateLimit(ctx, atproto.IsRateLimit, func() error {
			var err error
			events, pageCursor, err = a.Client.GetBacklinks(ctx, post.URI, cursor, 100)
			return err
		})
		if err != nil {
			log.Warn("fetching backlinks failed, skipping post", "post_uri", post.URI, "error", err)
			continue
		}
		if pageCursor != "" {
			nextCursor = pageCursor
		}
		newEvents = append(newEvents, events...)
	}

	if len(newEvents) == 0 {
		return nil
	}

	dids := make([]string, 0, len(newEvents))
	seen := make(map[string]bool)
	for _, e := range newEvents {
		if !seen[e.AmplifierDID] {
			seen[e.AmplifierDID] = true
			dids = append(dids, e.AmplifierDID)
		}
	}
	var handles map[string]string
	if err := ratelimit.RetryOnRateLimit(ctx, atproto.IsRateLimit, func() error {
		var err error
		handles, err = a.Client.ResolveDIDs(ctx, dids)
		return err
	}); err != nil {
		log.Warn("resolving amplifier handles failed", "error", err)
	}

	quoteAmplifiers := make(map[string]bool)
	for _, e := range newEvents {
		eventType := models.EventRepost
		if e.EventType == models.EventQuote {
			eventType = models.EventQuote
			quoteAmplifiers[e.AmplifierDID] = true
		}
		event := models.AmplificationEvent{
			EventType:        eventType,
			OriginalPostURI:  e.OriginalPostURI,
			AmplifierDID:     e.AmplifierDID,
			AmplifierHandle:  handles[e.AmplifierDID],
			AmplifierPostURI: e.AmplifierPostURI,
			AmplifierText:    e.AmplifierText,
			DetectedAt:       e.DetectedAt,
		}
		if _, err := a.Store.InsertAmplificationEvent(ctx, event); err != nil {
			log.Error("inserting amplification event failed", "amplifier_did", e.AmplifierDID, "error", err)
		}
	}

	allScores, err := a.Store.GetAllAccountScores(ctx)
	if err != nil {
		return fmt.Errorf("reading account scores for median engagement: %w", err)
	}
	median := behavior.MedianEngagement(allScores)
	if err := a.Store.SetMedianEngagement(ctx, a.ProtectedDID, median); err != nil {
		log.Warn("caching median engagement failed", "error", err)
	}

	pileOnWindow := a.StalenessWindow
	if pileOnWindow <= 0 {
		pileOnWindow = constants.PileOnWindow * 2
	}
	pileOnEvents, err := a.Store.GetEventsForPileOn(ctx, a.ProtectedDID, pileOnWindow)
	if err != nil {
		return fmt.Errorf("reading events for pile-on detection: %w", err)
	}
	pileOnSet := behavior.DetectPileOn(pileOnEvents, a.PileOnThreshold)

	fingerprint, err := a.Store.GetFingerprint(ctx, a.ProtectedDID)
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

	staleness := a.StalenessWindow
	if staleness <= 0 {
		staleness = constants.DefaultStalenessDays * 24 * time.Hour
	}

	queued := make(map[string]bool)
	for did := range quoteAmplifiers {
		if did == a.ProtectedDID {
			continue
		}
		a.queueFollowers(ctx, did, handles[did], input, staleness, queued)
	}

	a.Pool.Wait()

	if nextCursor != "" {
		if err := a.Store.SetScanState(ctx, backlinkCursorKey, nextCursor); err != nil {
			return fmt.Errorf("persisting backlink cursor: %w", err)
		}
	}

	return nil
}

// queueFollowers pages through amplifierDID's followers and spawns a
// bounded profile-build task for each not-yet-stale, not-already-queued
// follower.
func (a *Amplification) queueFollowers(ctx context.Context, amplifierDID, amplifierHandle string, input profile.Input, staleness time.Duration, queued map[string]bool) {
	log := a.logger()
	limit := a.FollowerPageLimit
	if limit <= 0 {
		limit = 100
	}

	cursor := ""
	for {
		var followers []atproto.Follower
		var nextCursor string
		err := ratelimit.RetryOnRateLimit(ctx, atproto.IsRateLimit, func() error {
			var err error
			followers, nextCursor, err = a.Client.GetFollowers(ctx, amplifierHandle, cursor, limit)
			return err
		})
		if err != nil {
			log.Warn("listing followers failed", "amplifier_did", amplifierDID, "error", err)
			return
		}

		for _, f := range followers {
			if f.DID == a.ProtectedDID || queued[f.DID] {
				continue
			}
			queued[f.DID] = true

			stale, err := a.Store.IsScoreStale(ctx, f.DID, staleness)
			if err != nil {
				log.Warn("checking staleness failed", "did", f.DID, "error", err)
				continue
			}
			if !stale {
				continue
			}

			follower := f
			a.Pool.Go(func() {
				a.scoreAndPersist(context.Background(), follower.DID, follower.Handle, input)
			})
		}

		if nextCursor == "" {
			return
		}
		cursor = nextCursor
	}
}

func (a *Amplification) scoreAndPersist(ctx context.Context, did, handle string, input profile.Input) {
	scoreAndPersist(ctx, a.logger(), a.Store, a.Builder, did, handle, input)
}

// scoreAndPersist builds and persists a single account's score, logging
// rather than propagating failures since it runs inside a pool goroutine
// with no caller left to receive an error.
func scoreAndPersist(ctx context.Context, log *slog.Logger, st store.Store, builder *profile.Builder, did, handle string, input profile.Input) {
	score, err := builder.Build(ctx, did, handle, input)
	if err != nil {
		log.Error("profile build failed", "did", did, "error", err)
		return
	}
	if err := st.UpsertAccountScore(ctx, score); err != nil {
		log.Error("persisting account score failed", "did", did, "error", err)
	}
}
