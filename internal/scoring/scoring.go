// Package scoring rates scraped citation text for relevance to a topic.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ddoubleg123/carrot-sub001/internal/config"
	"github.com/ddoubleg123/carrot-sub001/internal/resilience"
	"github.com/ddoubleg123/carrot-sub001/pkg/anthropic"
)

// Request carries one scoring unit.
type Request struct {
	TopicName        string
	TopicDescription string
	Title            string
	Text             string
}

// Scorer rates content 0-100 for topical relevance.
type Scorer interface {
	Score(ctx context.Context, req Request) (float64, error)
}

// systemPrompt instructs the model to return machine-parseable JSON only.
const systemPrompt = `You are evaluating whether a cited web page is relevant, substantive source material for a research topic. Score the page from 0 to 100 based on:
- Topical relevance: does the page substantially discuss the topic?
- Substance: is this an article, paper, or report rather than a listing, storefront, or index?
- Source quality: does the text read like verifiable reference material?

Respond with ONLY valid JSON, no other text:
{"score": 0, "reasoning": "brief explanation"}`

type scoreResponse struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// AnthropicScorer scores via the Anthropic messages API with retry on
// transient failures. The system prompt carries a cache breakpoint, so
// consecutive calls in a run read the cached prefix. A circuit breaker
// around the API call sheds load during an outage instead of burning
// the retry budget on every citation.
type AnthropicScorer struct {
	client  anthropic.Client
	cfg     config.ScoringConfig
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// New creates an AnthropicScorer.
func New(client anthropic.Client, cfg config.ScoringConfig, retry resilience.RetryConfig) *AnthropicScorer {
	bcfg := resilience.FromCircuitConfig(cfg.CircuitFailureThreshold, cfg.CircuitResetSecs)
	bcfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("scoring: circuit state change",
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	}
	return &AnthropicScorer{
		client:  client,
		cfg:     cfg,
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(bcfg),
	}
}

// Score sends the citation to the model and parses the returned score.
// The returned value is clamped to [0, 100].
func (s *AnthropicScorer) Score(ctx context.Context, req Request) (float64, error) {
	text := req.Text
	if s.cfg.MaxTextLen > 0 && len(text) > s.cfg.MaxTextLen {
		text = text[:s.cfg.MaxTextLen]
	}

	userMsg := fmt.Sprintf("Topic: %s\n%s\n\nPage title: %s\n\nPage content:\n%s",
		req.TopicName, req.TopicDescription, req.Title, text)

	var resp *anthropic.MessageResponse
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, s.retry, func(ctx context.Context) error {
			var callErr error
			resp, callErr = s.client.CreateMessage(ctx, anthropic.MessageRequest{
				Model:     s.cfg.Model,
				MaxTokens: 256,
				System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
				Messages:  []anthropic.Message{{Role: "user", Content: userMsg}},
			})
			return callErr
		})
	})
	if err != nil {
		return 0, eris.Wrap(err, "scoring: create message")
	}

	resp.Usage.LogCost(s.cfg.Model, "scoring")

	score, err := parseScore(resp.Text())
	if err != nil {
		return 0, err
	}

	zap.L().Debug("scoring: scored citation",
		zap.String("title", req.Title),
		zap.Float64("score", score))
	return score, nil
}

// parseScore extracts the JSON object from the model output. The response
// may carry surrounding prose.
func parseScore(text string) (float64, error) {
	if text == "" {
		return 0, eris.New("scoring: empty model response")
	}

	jsonStart := strings.Index(text, "{")
	jsonEnd := strings.LastIndex(text, "}")
	if jsonStart < 0 || jsonEnd < 0 || jsonEnd <= jsonStart {
		return 0, eris.Errorf("scoring: no JSON in response: %s", text)
	}

	var result scoreResponse
	if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd+1]), &result); err != nil {
		return 0, eris.Wrap(err, "scoring: parse response JSON")
	}

	if result.Score < 0 {
		result.Score = 0
	}
	if result.Score > 100 {
		result.Score = 100
	}
	return result.Score, nil
}
