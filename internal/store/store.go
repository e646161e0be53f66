// Package store defines the Store interface for persisting topic
// fingerprints, account scores, and amplification events, and provides two
// implementations: an embedded SQLite backend and a networked Postgres
// backend, selected at runtime by the configured database URL scheme.
package store

import (
	"context"
	"time"

	"github.com/nvandessel/charcoal/internal/models"
)

// RankedThreat is one row of the ranked-threats report: a stored account
// score.
type RankedThreat struct {
	models.AccountScore
}

// Store is the persistence interface charcoal's pipeline depends on. Both
// the embedded and networked backends implement it identically so the rest
// of the codebase never branches on backend kind.
type Store interface {
	// Scan state tracks the protected account's last-seen cursor into the
	// backlink index, so a sweep can resume without re-walking history.
	GetScanState(ctx context.Context, key string) (string, error)
	SetScanState(ctx context.Context, key, cursor string) error

	// SaveFingerprint persists the protected account's current topic
	// fingerprint, overwriting any prior version.
	SaveFingerprint(ctx context.Context, ownerDID string, fp models.TopicFingerprint) error
	GetFingerprint(ctx context.Context, ownerDID string) (*models.TopicFingerprint, error)

	// SaveEmbedding and GetEmbedding persist a per-account centroid
	// embedding, used to avoid re-running inference on unchanged accounts.
	SaveEmbedding(ctx context.Context, did string, vec []float32) error
	GetEmbedding(ctx context.Context, did string) ([]float32, error)

	// UpsertAccountScore writes or replaces a full scoring result for an
	// account, keyed by DID.
	UpsertAccountScore(ctx context.Context, score models.AccountScore) error
	GetAccountScore(ctx context.Context, did string) (*models.AccountScore, error)

	// GetRankedThreats returns scored accounts ordered by threat score
	// descending, optionally filtered to a minimum tier.
	GetRankedThreats(ctx context.Context, minTier models.ThreatTier, limit int) ([]RankedThreat, error)

	// GetAllAccountScores returns every account score row regardless of
	// whether it has been scored yet, used by migration and reporting.
	GetAllAccountScores(ctx context.Context) ([]models.AccountScore, error)

	// IsScoreStale reports whether the account's last score is older than
	// maxAge, or has never been scored.
	IsScoreStale(ctx context.Context, did string, maxAge time.Duration) (bool, error)

	// InsertAmplificationEvent records a new quote or repost.
	InsertAmplificationEvent(ctx context.Context, event models.AmplificationEvent) (int64, error)

	// GetRecentEvents returns amplification events against originalPostURI
	// within the given window, most recent first.
	GetRecentEvents(ctx context.Context, originalPostURI string, window time.Duration) ([]models.AmplificationEvent, error)

	// GetEventsForPileOn returns amplification events against any post by
	// ownerDID within window, used to count distinct amplifiers for
	// pile-on detection.
	GetEventsForPileOn(ctx context.Context, ownerDID string, window time.Duration) ([]models.AmplificationEvent, error)

	// GetAllEvents returns every amplification event ever recorded, in
	// insertion (id) order, used by migration and the JSON report export.
	GetAllEvents(ctx context.Context) ([]models.AmplificationEvent, error)

	// GetMedianEngagement returns the cached median avg_engagement across
	// previously scored accounts, used as the benign-gate baseline.
	GetMedianEngagement(ctx context.Context, ownerDID string) (float64, error)
	SetMedianEngagement(ctx context.Context, ownerDID string, median float64) error

	// TableCount reports row counts per table, used by the status command.
	TableCount(ctx context.Context, table string) (int, error)

	// Close releases any underlying connections.
	Close() error
}
