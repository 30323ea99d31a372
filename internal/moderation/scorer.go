package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"oceania.org/internal/obs"
)

const (
	// DefaultThreshold is the toxicity score above which content is rejected.
	DefaultThreshold = 0.6

	reasonFlagged     = "Content flagged by moderation"
	reasonUnavailable = "Moderation unavailable"
)

// Scorer submits text to an external classifier and rejects content whose
// toxicity score exceeds the threshold. A classifier failure fails closed:
// the text is rejected rather than let through unreviewed.
type Scorer struct {
	endpoint  string
	threshold float64
	client    *http.Client
}

var _ Pipeline = (*Scorer)(nil)

// ScorerOption configures the scorer.
type ScorerOption func(*Scorer)

// WithThreshold overrides the rejection threshold.
func WithThreshold(t float64) ScorerOption {
	return func(s *Scorer) {
		if t >= 0 && t <= 1 {
			s.threshold = t
		}
	}
}

// WithHTTPClient overrides the HTTP client, including its timeout.
func WithHTTPClient(c *http.Client) ScorerOption {
	return func(s *Scorer) {
		if c != nil {
			s.client = c
		}
	}
}

// NewScorer creates a scorer talking to the classifier at endpoint.
func NewScorer(endpoint string, opts ...ScorerOption) *Scorer {
	s := &Scorer{
		endpoint:  endpoint,
		threshold: DefaultThreshold,
		client:    &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type scoreRequest struct {
	Text string `json:"text"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

func (s *Scorer) Review(ctx context.Context, text string) Result {
	score, err := s.score(ctx, text)
	if err != nil {
		obs.Error("moderation classifier failed", map[string]any{"err": err.Error()})
		return Rejected(reasonUnavailable)
	}
	if score > s.threshold {
		return Rejected(reasonFlagged)
	}
	return Accepted(text)
}

func (s *Scorer) score(ctx context.Context, text string) (float64, error) {
	body, err := json.Marshal(scoreRequest{Text: text})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}
	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	if out.Score < 0 || out.Score > 1 {
		return 0, fmt.Errorf("classifier returned score %v outside [0,1]", out.Score)
	}
	return out.Score, nil
}
