// Package profile orchestrates the network client, topic extractor,
// embedding engine, toxicity scorer, behavioral analyzer, and scoring
// packages to build one account's complete AccountScore.
package profile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nvandessel/charcoal/internal/behavior"
	"github.com/nvandessel/charcoal/internal/constants"
	"github.com/nvandessel/charcoal/internal/models"
	"github.com/nvandessel/charcoal/internal/scoring"
	"github.com/nvandessel/charcoal/internal/topics"
	"github.com/nvandessel/charcoal/internal/toxicity"
	"github.com/nvandessel/charcoal/internal/vecmath"
)

// PostFetcher is the subset of internal/atproto.Client the builder needs.
type PostFetcher interface {
	GetRecentPosts(ctx context.Context, handle string, limit int) ([]models.Post, error)
	GetReplySample(ctx context.Context, handle string, pageLimit int) (models.ReplySample, error)
}

// Embedder is the subset of internal/embedding.Engine the builder needs.
// Centroid may return (nil, someErr) when the model is unavailable; the
// builder falls back to weighted-Jaccard overlap in that case rather than
// failing the whole profile.
type Embedder interface {
	Centroid(ctx context.Context, texts []string) ([]float32, error)
}

// Builder wires one account's scoring pipeline together. A Builder is
// shared read-only state across concurrent profile builds within a scan:
// the fingerprint, protected centroid, median engagement, and pile-on set
// are all immutable snapshots handed in per Build call.
type Builder struct {
	Posts      PostFetcher
	Embedder   Embedder
	Scorer     toxicity.Scorer
	PostCount  int
	Thresholds scoring.Thresholds
	Behavioral behavior.Thresholds
}

// Input bundles the per-scan immutable state shared by every concurrent
// profile build.
type Input struct {
	Fingerprint       models.TopicFingerprint
	ProtectedCentroid []float32
	MedianEngagement  float64
	PileOnSet         map[string]bool
}

// Build computes the complete AccountScore for (did, handle). If any step
// other than construction itself fails — posts, embedding, toxicity,
// behavior — the error is swallowed and the corresponding score fields are
// left null, per the spec's "neutral on partial failure" policy; only a
// hard failure to even begin (an unusable PostFetcher) returns an error.
func (b *Builder) Build(ctx context.Context, did, handle string, in Input) (models.AccountScore, error) {
	postCount := b.PostCount
	if postCount <= 0 {
		postCount = constants.DefaultProfilePostCount
	}

	score := models.AccountScore{
		DID:      did,
		Handle:   handle,
		ScoredAt: time.Now(),
	}

	posts, err := b.Posts.GetRecentPosts(ctx, handle, postCount)
	if err != nil {
		return score, fmt.Errorf("fetching posts for %s: %w", handle, err)
	}
	score.PostsAnalyzed = len(posts)
	if len(posts) == 0 {
		return score, nil
	}

	avgToxicity, topToxic := b.scoreToxicity(ctx, posts)
	if avgToxicity != nil {
		score.ToxicityScore = avgToxicity
		score.TopToxicPosts = topToxic
	}

	overlap := b.computeOverlap(ctx, posts, in)
	score.TopicOverlap = overlap

	reply, err := b.Posts.GetReplySample(ctx, handle, constants.ReplySampleLimit)
	if err != nil {
		reply = models.ReplySample{}
	}
	pileOn := in.PileOnSet[did]
	signals := behavior.Derive(posts, reply, in.MedianEngagement, pileOn, b.Behavioral)
	score.BehavioralSignals = &signals

	if avgToxicity != nil && overlap != nil {
		final, tier := scoring.Compose(*avgToxicity, *overlap, signals, b.Thresholds)
		score.ThreatScore = &final
		score.ThreatTier = &tier
	}

	return score, nil
}

// scoreToxicity scores every post, returning the mean composite and the
// top constants.MaxTopToxicPosts most-toxic posts (evidence text truncated
// on character boundaries). Returns (nil, nil) if scoring fails entirely.
func (b *Builder) scoreToxicity(ctx context.Context, posts []models.Post) (*float64, []models.ToxicPost) {
	if b.Scorer == nil {
		return nil, nil
	}

	scored := make([]models.ToxicPost, 0, len(posts))
	var sum float64
	var ok, failed int
	for _, p := range posts {
		composite, err := toxicity.ScorePost(ctx, b.Scorer, p.Text)
		if err != nil {
			failed++
			continue
		}
		sum += composite
		ok++
		scored = append(scored, models.ToxicPost{
			URI:      p.URI,
			Text:     truncate(p.Text, constants.MaxToxicPostChars),
			Toxicity: composite,
		})
	}
	if ok == 0 || failed*2 > len(posts) {
		return nil, nil
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Toxicity > scored[j].Toxicity })
	if len(scored) > constants.MaxTopToxicPosts {
		scored = scored[:constants.MaxTopToxicPosts]
	}

	avg := sum / float64(ok)
	return &avg, scored
}

// computeOverlap embeds the target's posts into a centroid and compares it
// against the protected centroid. On embedding failure, falls back to
// weighted-Jaccard over the flat keyword weights of a same-document TF-IDF
// extraction of the target's posts against the fingerprint.
func (b *Builder) computeOverlap(ctx context.Context, posts []models.Post, in Input) *float64 {
	texts := make([]string, len(posts))
	for i, p := range posts {
		texts[i] = p.Text
	}

	if b.Embedder != nil && len(in.ProtectedCentroid) > 0 {
		centroid, err := b.Embedder.Centroid(ctx, texts)
		if err == nil && len(centroid) > 0 {
			overlap := scoring.ClampOverlap(vecmath.CosineSimilarity(centroid, in.ProtectedCentroid))
			return &overlap
		}
	}

	targetFP := topics.Extract(texts, topics.Options{})
	overlap := scoring.ClampOverlap(topics.WeightedJaccardOverlap(targetFP.FlatKeywordWeights(), in.Fingerprint.FlatKeywordWeights()))
	return &overlap
}

// truncate cuts s to at most n runes, never splitting a multi-byte
// character. Returns s unchanged if it already fits.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
