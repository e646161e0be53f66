package toxicity

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/nvandessel/charcoal/internal/constants"
)

// embedder is the subset of *embedding.Engine the probe needs. Declared as
// an interface here (rather than importing internal/embedding directly) so
// the probe package has no compile-time dependency on yzma — only whatever
// already constructed the engine needs to wire the two together.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// probeHead is the on-disk shape of toxicity_head.json: a 7x384 weight
// matrix (row order matches the Categories field order) plus a 7-length
// bias vector.
type probeHead struct {
	Weights [][]float32 `json:"weights"`
	Bias    []float32   `json:"bias"`
}

// LinearProbe scores text by embedding it with the shared embedding engine
// and applying a bundled 7x384 weight matrix plus bias and a sigmoid — a
// probe classifier over frozen embeddings, standing in for a dedicated
// classification runtime that nothing in the toolchain provides locally.
type LinearProbe struct {
	engine embedder
	head   probeHead
}

// LoadLinearProbe reads toxicity_head.json from modelDir and binds it to
// engine. The file must contain exactly constants.ToxicityCategoryCount
// weight rows, each constants.EmbeddingDim wide.
func LoadLinearProbe(engine embedder, modelDir string) (*LinearProbe, error) {
	path := filepath.Join(modelDir, "toxicity_head.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading toxicity probe weights %s: %w", path, err)
	}

	var head probeHead
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parsing toxicity probe weights %s: %w", path, err)
	}
	if len(head.Weights) != constants.ToxicityCategoryCount {
		return nil, fmt.Errorf("toxicity probe weights: expected %d rows, got %d",
			constants.ToxicityCategoryCount, len(head.Weights))
	}
	if len(head.Bias) != constants.ToxicityCategoryCount {
		return nil, fmt.Errorf("toxicity probe bias: expected %d entries, got %d",
			constants.ToxicityCategoryCount, len(head.Bias))
	}
	for i, row := range head.Weights {
		if len(row) != constants.EmbeddingDim {
			return nil, fmt.Errorf("toxicity probe weights row %d: expected %d dims, got %d",
				i, constants.EmbeddingDim, len(row))
		}
	}

	return &LinearProbe{engine: engine, head: head}, nil
}

// categoryOrder is the fixed row order the bundled toxicity_head.json uses.
var categoryOrder = []string{
	"toxicity", "severe_toxicity", "obscene", "identity_attack", "insult", "threat", "sexual_explicit",
}

// Score embeds text and projects it through the probe's weight matrix,
// applying a sigmoid to each of the seven logits.
func (p *LinearProbe) Score(ctx context.Context, text string) (Categories, error) {
	vec, err := p.engine.Embed(ctx, text)
	if err != nil {
		return Categories{}, fmt.Errorf("toxicity probe: embedding text: %w", err)
	}

	logits := make([]float64, constants.ToxicityCategoryCount)
	for row := range p.head.Weights {
		var dot float64
		weights := p.head.Weights[row]
		for d := 0; d < len(vec) && d < len(weights); d++ {
			dot += float64(vec[d]) * float64(weights[d])
		}
		logits[row] = sigmoid(dot + float64(p.head.Bias[row]))
	}

	return categoriesFromLogits(logits), nil
}

func categoriesFromLogits(p []float64) Categories {
	get := func(name string) float64 {
		for i, n := range categoryOrder {
			if n == name && i < len(p) {
				return p[i]
			}
		}
		return 0
	}
	return Categories{
		Toxicity:       get("toxicity"),
		SevereToxicity: get("severe_toxicity"),
		Obscene:        get("obscene"),
		IdentityAttack: get("identity_attack"),
		Insult:         get("insult"),
		Threat:         get("threat"),
		SexualExplicit: get("sexual_explicit"),
	}
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
