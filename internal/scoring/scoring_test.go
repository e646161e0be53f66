package scoring

import (
	"math"
	"testing"

	"github.com/nvandessel/charcoal/internal/models"
)

func approxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

// Invariant 1: zero toxicity and zero overlap yields a zero raw score.
func TestRawScoreZeroBaseline(t *testing.T) {
	if got := RawScore(0, 0, Thresholds{}); got != 0 {
		t.Errorf("RawScore(0,0) = %v, want 0", got)
	}
}

// Invariant 2: overlap below the floor caps the raw score at 25.
func TestRawScoreOverlapFloor(t *testing.T) {
	got := RawScore(0.95, 0.01, Thresholds{})
	if got > 25.0001 {
		t.Errorf("expected overlap floor to cap raw score at 25, got %v", got)
	}
}

// Invariant 3: final score is always within [0, 100] and tier derivation is total.
func TestFinalScoreBoundedAndTierTotal(t *testing.T) {
	cases := []struct {
		raw     float64
		signals models.BehavioralSignals
	}{
		{raw: 1000, signals: models.BehavioralSignals{BehavioralBoost: 1.5}},
		{raw: -5, signals: models.BehavioralSignals{BehavioralBoost: 1.0}},
		{raw: 500, signals: models.BehavioralSignals{BenignGateApplied: true}},
	}
	for _, c := range cases {
		final := Final(c.raw, c.signals)
		if final < 0 || final > 100 {
			t.Errorf("Final(%v, %+v) = %v, out of [0,100]", c.raw, c.signals, final)
		}
		tier := Tier(final)
		if tier == "" {
			t.Errorf("Tier(%v) returned empty tier", final)
		}
	}
}

func TestTierBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  models.ThreatTier
	}{
		{0, models.TierLow},
		{7.999, models.TierLow},
		{8, models.TierWatch},
		{14.999, models.TierWatch},
		{15, models.TierElevated},
		{24.999, models.TierElevated},
		{25, models.TierHigh},
		{100, models.TierHigh},
	}
	for _, c := range cases {
		if got := Tier(c.score); got != c.want {
			t.Errorf("Tier(%v) = %v, want %v", c.score, got, c.want)
		}
	}
}

// Scenario A — Quote-dunker.
func TestScenarioAQuoteDunker(t *testing.T) {
	raw := RawScore(0.15, 0.40, Thresholds{})
	if !approxEqual(raw, 16.8, 1e-9) {
		t.Fatalf("raw = %v, want 16.8", raw)
	}
	signals := models.BehavioralSignals{BenignGateApplied: false, BehavioralBoost: 1.205}
	final, tier := Compose(0.15, 0.40, signals, Thresholds{})
	if !approxEqual(final, 20.24, 0.01) {
		t.Errorf("final = %v, want ~20.24", final)
	}
	if tier != models.TierElevated {
		t.Errorf("tier = %v, want Elevated", tier)
	}
}

// Scenario B — Supportive ally.
func TestScenarioBSupportiveAlly(t *testing.T) {
	raw := RawScore(0.10, 0.70, Thresholds{})
	if !approxEqual(raw, 14.35, 1e-9) {
		t.Fatalf("raw = %v, want 14.35", raw)
	}
	signals := models.BehavioralSignals{BenignGateApplied: true}
	final, tier := Compose(0.10, 0.70, signals, Thresholds{})
	if final != 12.0 {
		t.Errorf("final = %v, want 12.0 (benign cap)", final)
	}
	if tier != models.TierWatch {
		t.Errorf("tier = %v, want Watch", tier)
	}
}

// Scenario C — Pile-on participant.
func TestScenarioCPileOnParticipant(t *testing.T) {
	raw := RawScore(0.20, 0.35, Thresholds{})
	if !approxEqual(raw, 21.35, 1e-9) {
		t.Fatalf("raw = %v, want 21.35", raw)
	}
	signals := models.BehavioralSignals{BenignGateApplied: false, BehavioralBoost: 1.24}
	final, tier := Compose(0.20, 0.35, signals, Thresholds{})
	if !approxEqual(final, 26.47, 0.01) {
		t.Errorf("final = %v, want ~26.47", final)
	}
	if tier != models.TierHigh {
		t.Errorf("tier = %v, want High", tier)
	}
}

// Scenario D — High toxicity + benign behavior.
func TestScenarioDHighToxicityBenign(t *testing.T) {
	raw := RawScore(0.50, 0.50, Thresholds{})
	if !approxEqual(raw, 61.25, 1e-9) {
		t.Fatalf("raw = %v, want 61.25", raw)
	}
	signals := models.BehavioralSignals{BenignGateApplied: true}
	final, tier := Compose(0.50, 0.50, signals, Thresholds{})
	if final != 12.0 {
		t.Errorf("final = %v, want 12.0 (benign cap)", final)
	}
	if tier != models.TierWatch {
		t.Errorf("tier = %v, want Watch", tier)
	}
}

// Scenario E — Irrelevant troll: overlap floor caps at 25 but does not
// exempt the account from the top tier.
func TestScenarioEIrrelevantTroll(t *testing.T) {
	raw := RawScore(0.80, 0.02, Thresholds{})
	if raw > 25.0001 {
		t.Fatalf("raw = %v, expected overlap floor to cap at 25", raw)
	}
	signals := models.BehavioralSignals{BenignGateApplied: false, BehavioralBoost: 1.0}
	final, tier := Compose(0.80, 0.02, signals, Thresholds{})
	if tier != models.TierHigh {
		t.Errorf("tier = %v, want High even though capped by the overlap floor", tier)
	}
	if final > 25.0001 {
		t.Errorf("final = %v, expected it to stay at the floor cap", final)
	}
}

func TestClampOverlap(t *testing.T) {
	cases := map[float64]float64{-1: 0, -0.5: 0, 0: 0, 0.5: 0.5, 1: 1, 1.5: 1}
	for in, want := range cases {
		if got := ClampOverlap(in); got != want {
			t.Errorf("ClampOverlap(%v) = %v, want %v", in, got, want)
		}
	}
}
