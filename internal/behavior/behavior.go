// Package behavior derives the quote/reply/engagement/pile-on behavioral
// signals used by the scoring package. Every function here is pure given
// its inputs — no I/O, no clocks except what's passed in.
package behavior

import (
	"math"
	"sort"

	"github.com/nvandessel/charcoal/internal/constants"
	"github.com/nvandessel/charcoal/internal/models"
)

// Thresholds bundles the tunable gate/boost parameters, overridable from
// the environment; a zero value falls back to the package defaults.
type Thresholds struct {
	BenignQuoteMax float64
	BenignReplyMax float64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.BenignQuoteMax <= 0 {
		t.BenignQuoteMax = constants.DefaultBenignQuoteMax
	}
	if t.BenignReplyMax <= 0 {
		t.BenignReplyMax = constants.DefaultBenignReplyMax
	}
	return t
}

// Derive computes quote ratio, reply ratio, and average engagement from a
// target's fetched posts and reply sample, then applies the benign gate and
// behavioral boost. pileOn reports whether this account's DID already
// appeared in the precomputed pile-on set for this scan.
func Derive(posts []models.Post, reply models.ReplySample, medianEngagement float64, pileOn bool, th Thresholds) models.BehavioralSignals {
	th = th.withDefaults()

	quoteRatio := quoteRatio(posts)
	replyRatio := replyRatio(reply)
	avgEngagement := averageEngagement(posts)

	benign := isBenign(quoteRatio, replyRatio, pileOn, avgEngagement, medianEngagement, th)

	return models.BehavioralSignals{
		QuoteRatio:        quoteRatio,
		ReplyRatio:        replyRatio,
		AvgEngagement:     avgEngagement,
		PileOn:            pileOn,
		BenignGateApplied: benign,
		BehavioralBoost:   boost(quoteRatio, replyRatio, pileOn),
	}
}

// quoteRatio is the fraction of posts flagged as quote-posts. 0 if there
// are no posts.
func quoteRatio(posts []models.Post) float64 {
	if len(posts) == 0 {
		return 0
	}
	var quotes int
	for _, p := range posts {
		if p.IsQuote {
			quotes++
		}
	}
	return float64(quotes) / float64(len(posts))
}

// replyRatio is the reply count over total from a single-page sample. 0 if
// the sample is empty.
func replyRatio(sample models.ReplySample) float64 {
	if sample.Total == 0 {
		return 0
	}
	return float64(sample.ReplyCount) / float64(sample.Total)
}

// averageEngagement is the mean of like_count+repost_count across posts. 0
// if there are no posts.
func averageEngagement(posts []models.Post) float64 {
	if len(posts) == 0 {
		return 0
	}
	var total int
	for _, p := range posts {
		total += p.LikeCount + p.RepostCount
	}
	return float64(total) / float64(len(posts))
}

// isBenign is the four-condition AND gate: low quote ratio, low reply
// ratio, no pile-on participation, and above-median engagement.
func isBenign(quoteRatio, replyRatio float64, pileOn bool, avgEngagement, medianEngagement float64, th Thresholds) bool {
	return quoteRatio < th.BenignQuoteMax &&
		replyRatio < th.BenignReplyMax &&
		!pileOn &&
		avgEngagement > medianEngagement
}

// boost computes the behavioral boost multiplier, clamped to [1.0, 1.5].
func boost(quoteRatio, replyRatio float64, pileOn bool) float64 {
	b := 1.0 + constants.QuoteBoostWeight*quoteRatio + constants.ReplyBoostWeight*replyRatio
	if pileOn {
		b += constants.PileOnBoost
	}
	// Drop floating-point residue so the extremes land exactly on 1.0 and 1.5.
	b = math.Round(b*1e9) / 1e9
	if b > 1.5 {
		b = 1.5
	}
	if b < 1.0 {
		b = 1.0
	}
	return b
}

// MedianEngagement computes the median of avg_engagement across every
// scored account that has behavioral signals attached, or 0.0 if none do.
// Computed once per scan by the pipeline and handed to Derive as an
// immutable snapshot.
func MedianEngagement(scores []models.AccountScore) float64 {
	var values []float64
	for _, s := range scores {
		if s.BehavioralSignals != nil {
			values = append(values, s.BehavioralSignals.AvgEngagement)
		}
	}
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}
