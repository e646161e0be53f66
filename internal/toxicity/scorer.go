// Package toxicity scores post text for hostile-language categories and
// combines them into the single weighted composite the scoring package
// consumes. Two backends implement Scorer: a local linear probe over the
// embedding engine (the default), and an external Perspective API fallback.
package toxicity

import (
	"context"

	"github.com/nvandessel/charcoal/internal/constants"
)

// Categories holds the seven probabilities the bundled classifier outputs.
// Toxicity and SexualExplicit are returned for completeness but do not
// enter the weighted composite (see Composite).
type Categories struct {
	Toxicity       float64
	SevereToxicity float64
	Obscene        float64
	IdentityAttack float64
	Insult         float64
	Threat         float64
	SexualExplicit float64
}

// Composite folds the seven categories into the single weighted score the
// rest of the pipeline scores against:
//
//	0.05*obscene + 0.30*insult + 0.35*identity_attack + 0.20*threat + 0.10*severe_toxicity
//
// raw toxicity and obscene are down-weighted since they track profanity,
// which reads unreliably when the protected community uses reclaimed
// language; identity_attack, insult, and threat carry the real signal.
func (c Categories) Composite() float64 {
	return constants.ToxicityWeightObscene*c.Obscene +
		constants.ToxicityWeightInsult*c.Insult +
		constants.ToxicityWeightIdentityAttack*c.IdentityAttack +
		constants.ToxicityWeightThreat*c.Threat +
		constants.ToxicityWeightSevereToxicity*c.SevereToxicity
}

// Scorer classifies a single piece of text into toxicity categories.
// Implementations must be safe for concurrent use.
type Scorer interface {
	Score(ctx context.Context, text string) (Categories, error)
}

// ScorePost runs Scorer over text and returns only the composite, the value
// the rest of the pipeline consumes directly.
func ScorePost(ctx context.Context, s Scorer, text string) (float64, error) {
	cats, err := s.Score(ctx, text)
	if err != nil {
		return 0, err
	}
	return cats.Composite(), nil
}

// AverageComposite scores every text and returns the arithmetic mean of
// their composites — the account-level toxicity score the spec defines.
// Returns 0 for an empty input.
func AverageComposite(ctx context.Context, s Scorer, texts []string) (float64, error) {
	if len(texts) == 0 {
		return 0, nil
	}
	var sum float64
	for _, t := range texts {
		composite, err := ScorePost(ctx, s, t)
		if err != nil {
			return 0, err
		}
		sum += composite
	}
	return sum / float64(len(texts)), nil
}
