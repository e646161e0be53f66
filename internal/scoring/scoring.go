// Package scoring composes toxicity, topic overlap, and behavioral signals
// into the final threat score and tier, per the spec's raw-score-plus-
// behavioral-modifier model.
package scoring

import (
	"github.com/nvandessel/charcoal/internal/constants"
	"github.com/nvandessel/charcoal/internal/models"
)

// Thresholds bundles the overlap floor/cap, overridable from the
// environment. A zero value falls back to constants defaults.
type Thresholds struct {
	OverlapFloor    float64
	OverlapFloorCap float64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.OverlapFloor <= 0 {
		t.OverlapFloor = constants.DefaultOverlapFloor
	}
	if t.OverlapFloorCap <= 0 {
		t.OverlapFloorCap = constants.DefaultOverlapFloorCap
	}
	return t
}

// RawScore computes the pre-behavioral raw score:
//
//	raw = toxicity * 70 * (1 + overlap * 1.5)
//
// multiplicative, so overlap amplifies toxicity rather than adding
// independently — an ally (high overlap, low toxicity) stays low. overlap
// is expected pre-clamped to [0, 1]. If overlap is below th.OverlapFloor
// the raw score is capped at th.OverlapFloorCap: hostile but outside the
// protected user's topic space, unlikely to collide.
func RawScore(toxicity, overlap float64, th Thresholds) float64 {
	th = th.withDefaults()

	raw := toxicity * constants.RawToxicityMultiplier * (1 + overlap*constants.RawOverlapMultiplier)
	if overlap < th.OverlapFloor && raw > th.OverlapFloorCap {
		raw = th.OverlapFloorCap
	}
	return raw
}

// Final applies the behavioral modifier to a raw score: if the account is
// behaviorally benign, the score is capped at constants.BenignGateCap (just
// below the Elevated threshold); otherwise the raw score is multiplied by
// the behavioral boost and clamped to [0, 100].
func Final(raw float64, signals models.BehavioralSignals) float64 {
	if signals.BenignGateApplied {
		if raw > constants.BenignGateCap {
			return constants.BenignGateCap
		}
		return raw
	}

	boosted := raw * signals.BehavioralBoost
	if boosted > 100 {
		boosted = 100
	}
	if boosted < 0 {
		boosted = 0
	}
	return boosted
}

// Tier derives the ThreatTier from a final score in [0, 100]. Total over
// all valid inputs.
func Tier(finalScore float64) models.ThreatTier {
	switch {
	case finalScore >= constants.TierHighThreshold:
		return models.TierHigh
	case finalScore >= constants.TierElevatedThreshold:
		return models.TierElevated
	case finalScore >= constants.TierWatchThreshold:
		return models.TierWatch
	default:
		return models.TierLow
	}
}

// Compose runs the full raw -> behavioral-modifier -> tier pipeline and
// returns the final score and tier together, the shape the profile builder
// persists onto AccountScore.
func Compose(toxicity, overlap float64, signals models.BehavioralSignals, th Thresholds) (float64, models.ThreatTier) {
	raw := RawScore(toxicity, overlap, th)
	final := Final(raw, signals)
	return final, Tier(final)
}

// ClampOverlap clamps a raw cosine similarity (range [-1, 1]) to the
// positive-only [0, 1] range the threat score formula expects.
func ClampOverlap(overlap float64) float64 {
	if overlap < 0 {
		return 0
	}
	if overlap > 1 {
		return 1
	}
	return overlap
}
