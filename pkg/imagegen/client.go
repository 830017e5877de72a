// Package imagegen provides a client for the hero image generation service.
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Client requests generated hero images.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// GenerateRequest describes one image to produce. Prompt and
// NegativePrompt are built from a style preset; the remaining fields
// carry the preset's sampler parameters.
type GenerateRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	CfgScale       float64 `json:"cfg_scale"`
	HiresFix       bool    `json:"hires_fix,omitempty"`
	HiresScale     float64 `json:"hires_scale,omitempty"`
	HiresDenoise   float64 `json:"hires_denoise,omitempty"`
}

// GenerateResponse is the service reply.
type GenerateResponse struct {
	ImageURL string `json:"image_url"`
	Seed     int64  `json:"seed,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the default generation timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates an image generation client. Generation is slow, so
// the default timeout is generous and there are no retries: a failed generation falls
// through to the next hero provider instead.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Generate(ctx context.Context, genReq GenerateRequest) (*GenerateResponse, error) {
	payload, err := json.Marshal(genReq)
	if err != nil {
		return nil, eris.Wrap(err, "imagegen: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "imagegen: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "imagegen: generate request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, eris.Wrap(err, "imagegen: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("imagegen: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result GenerateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "imagegen: unmarshal response")
	}
	if result.ImageURL == "" {
		return nil, eris.New("imagegen: response missing image_url")
	}

	return &result, nil
}
