// Package constants centralizes charcoal's tunable defaults so they are
// named once instead of scattered as magic numbers through the pipeline,
// scoring, and behavioral packages.
package constants

import "time"

// Topic extraction defaults.
const (
	// DefaultTopNKeywords is the number of TF-IDF terms kept before clustering.
	DefaultTopNKeywords = 60

	// DefaultMaxClusters bounds the number of topic clusters in a fingerprint.
	DefaultMaxClusters = 10

	// DefaultFingerprintPostCount is how many of the protected user's recent
	// posts feed fingerprint construction.
	DefaultFingerprintPostCount = 500
)

// Profile builder defaults.
const (
	// DefaultProfilePostCount is how many of a target account's recent posts
	// are fetched for scoring.
	DefaultProfilePostCount = 50

	// MaxTopToxicPosts bounds how many evidence posts are retained per score.
	MaxTopToxicPosts = 3

	// MaxToxicPostChars is the truncation length for evidence post text,
	// measured in runes (never split mid multi-byte character).
	MaxToxicPostChars = 400

	// ReplySampleLimit bounds the single-page reply-ratio sample.
	ReplySampleLimit = 50
)

// Staleness and scheduling defaults.
const (
	// DefaultStalenessDays is how old a score can be before it is re-scored.
	DefaultStalenessDays = 7
)

// Threat score composition defaults.
const (
	// RawToxicityMultiplier is the constant factor in raw = toxicity * K * (1 + overlap*L).
	RawToxicityMultiplier = 70.0

	// RawOverlapMultiplier is L in the formula above.
	RawOverlapMultiplier = 1.5

	// DefaultOverlapFloor: below this overlap, raw score is capped (see
	// DefaultOverlapFloorCap). Tunable per spec's Open Question — the
	// original calibration used a weighted-Jaccard scale; cosine similarity
	// may warrant a higher floor, so both are environment-overridable.
	DefaultOverlapFloor = 0.05

	// DefaultOverlapFloorCap is the raw-score ceiling applied below the floor.
	DefaultOverlapFloorCap = 25.0

	// BenignGateCap is the final score ceiling applied when the benign gate
	// fires — just below the Elevated tier threshold.
	BenignGateCap = 12.0
)

// Threat tier thresholds (final score, inclusive lower bound).
const (
	TierWatchThreshold    = 8.0
	TierElevatedThreshold = 15.0
	TierHighThreshold     = 25.0
)

// Behavioral signal defaults.
const (
	// DefaultBenignQuoteMax is the quote-ratio ceiling for the benign gate.
	DefaultBenignQuoteMax = 0.15

	// DefaultBenignReplyMax is the reply-ratio ceiling for the benign gate.
	DefaultBenignReplyMax = 0.30

	// QuoteBoostWeight, ReplyBoostWeight, PileOnBoost combine into the
	// behavioral boost multiplier, range [1.0, 1.5].
	QuoteBoostWeight = 0.20
	ReplyBoostWeight = 0.15
	PileOnBoost      = 0.15

	// DefaultPileOnThreshold is the number of distinct amplifiers within the
	// sliding window that flags a pile-on.
	DefaultPileOnThreshold = 5

	// PileOnWindow is the sliding-window duration for pile-on detection.
	PileOnWindow = 24 * time.Hour
)

// Toxicity composite weights (sum to 1.0).
const (
	ToxicityWeightObscene        = 0.05
	ToxicityWeightInsult         = 0.30
	ToxicityWeightIdentityAttack = 0.35
	ToxicityWeightThreat         = 0.20
	ToxicityWeightSevereToxicity = 0.10
)

// Concurrency defaults.
const (
	// DefaultFollowerConcurrency bounds concurrent profile-build tasks.
	DefaultFollowerConcurrency = 8

	// DefaultInferenceConcurrency bounds concurrent model inference calls.
	DefaultInferenceConcurrency = 1
)

// Network defaults.
const (
	// DefaultRequestTimeout is the per-request network timeout.
	DefaultRequestTimeout = 30 * time.Second

	// RateLimitBackoff is the fixed delay applied on a 429 before the single retry.
	RateLimitBackoff = 2 * time.Second
)

// Embedding dimensionality, fixed by the bundled sentence-transformer model.
const EmbeddingDim = 384

// Toxicity category count, fixed by the bundled classifier.
const ToxicityCategoryCount = 7
