package toxicity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nvandessel/charcoal/internal/models"
)

const defaultPerspectiveURL = "https://commentanalyzer.googleapis.com/v1alpha1/comments:analyze"

// perspectiveAttributes are the Perspective API attribute names charcoal
// requests, mapped onto Categories fields in requestBody/parseResponse.
var perspectiveAttributes = []string{
	"TOXICITY", "SEVERE_TOXICITY", "IDENTITY_ATTACK", "INSULT", "PROFANITY", "THREAT", "SEXUALLY_EXPLICIT",
}

// PerspectiveScorer calls the external Perspective API as a fallback
// toxicity backend, selected by CHARCOAL_SCORER=perspective. A 429 is
// returned as an ErrRateLimit error; the scorer does not retry.
type PerspectiveScorer struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewPerspectiveScorer builds a scorer using apiKey. baseURL may be left
// empty to use the production Perspective endpoint.
func NewPerspectiveScorer(apiKey, baseURL string) *PerspectiveScorer {
	if baseURL == "" {
		baseURL = defaultPerspectiveURL
	}
	return &PerspectiveScorer{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     apiKey,
		baseURL:    baseURL,
	}
}

type perspectiveRequest struct {
	Comment struct {
		Text string `json:"text"`
	} `json:"comment"`
	RequestedAttributes map[string]struct{} `json:"requestedAttributes"`
	Languages           []string             `json:"languages"`
}

type perspectiveResponse struct {
	AttributeScores map[string]struct {
		SummaryScore struct {
			Value float64 `json:"value"`
		} `json:"summaryScore"`
	} `json:"attributeScores"`
}

// Score sends text to the Perspective API and maps its attribute scores
// onto Categories. PROFANITY stands in for the bundled model's "obscene".
func (p *PerspectiveScorer) Score(ctx context.Context, text string) (Categories, error) {
	reqBody := perspectiveRequest{
		RequestedAttributes: make(map[string]struct{}, len(perspectiveAttributes)),
		Languages:           []string{"en"},
	}
	reqBody.Comment.Text = text
	for _, attr := range perspectiveAttributes {
		reqBody.RequestedAttributes[attr] = struct{}{}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Categories{}, fmt.Errorf("%w: marshaling perspective request: %v", models.ErrProtocol, err)
	}

	url := fmt.Sprintf("%s?key=%s", p.baseURL, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Categories{}, fmt.Errorf("%w: building perspective request: %v", models.ErrProtocol, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Categories{}, fmt.Errorf("%w: %v", models.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Categories{}, fmt.Errorf("%w: reading perspective response: %v", models.ErrTransientNetwork, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return Categories{}, fmt.Errorf("%w: perspective returned 429", models.ErrRateLimit)
	}
	if resp.StatusCode != http.StatusOK {
		return Categories{}, fmt.Errorf("%w: perspective returned %d: %s", models.ErrProtocol, resp.StatusCode, string(body))
	}

	var parsed perspectiveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Categories{}, fmt.Errorf("%w: decoding perspective response: %v", models.ErrProtocol, err)
	}

	get := func(attr string) float64 {
		return parsed.AttributeScores[attr].SummaryScore.Value
	}
	return Categories{
		Toxicity:       get("TOXICITY"),
		SevereToxicity: get("SEVERE_TOXICITY"),
		Obscene:        get("PROFANITY"),
		IdentityAttack: get("IDENTITY_ATTACK"),
		Insult:         get("INSULT"),
		Threat:         get("THREAT"),
		SexualExplicit: get("SEXUALLY_EXPLICIT"),
	}, nil
}
