// Package memoryfeed provides a client for the agent-memory ingestion API.
package memoryfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Client pushes accepted content into agent memory.
type Client interface {
	// Ingest delivers a batch of items for one topic. Delivery is
	// at-least-once; the receiver dedupes on content hash.
	Ingest(ctx context.Context, topicID string, items []Item) (*IngestResponse, error)
}

// Item is one piece of content to remember.
type Item struct {
	Content     string   `json:"content"`
	SourceType  string   `json:"sourceType"`
	SourceURL   string   `json:"sourceUrl"`
	SourceTitle string   `json:"sourceTitle"`
	ContentHash string   `json:"contentHash"`
	Tags        []string `json:"tags,omitempty"`
}

// IngestResponse reports the created memory ids, one per item.
type IngestResponse struct {
	MemoryIDs []string `json:"memoryIds"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates an agent-memory ingestion client.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ingestRequest struct {
	TopicID string `json:"topicId"`
	Items   []Item `json:"items"`
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

func (c *httpClient) Ingest(ctx context.Context, topicID string, items []Item) (*IngestResponse, error) {
	if len(items) == 0 {
		return &IngestResponse{}, nil
	}

	payload, err := json.Marshal(ingestRequest{TopicID: topicID, Items: items})
	if err != nil {
		return nil, eris.Wrap(err, "memoryfeed: marshal request")
	}

	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/memories/ingest", bytes.NewReader(payload))
		if err != nil {
			return nil, eris.Wrap(err, "memoryfeed: create request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = eris.Wrap(err, "memoryfeed: ingest request")
		} else {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			_ = resp.Body.Close()
			if readErr != nil {
				return nil, eris.Wrap(readErr, "memoryfeed: read response body")
			}

			if resp.StatusCode == http.StatusOK {
				var result IngestResponse
				if err := json.Unmarshal(body, &result); err != nil {
					return nil, eris.Wrap(err, "memoryfeed: unmarshal response")
				}
				return &result, nil
			}

			lastErr = eris.Errorf("memoryfeed: unexpected status %d: %s", resp.StatusCode, string(body))
			if !retryableStatusCode(resp.StatusCode) {
				return nil, lastErr
			}
		}

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return nil, lastErr
}
