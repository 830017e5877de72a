// Package wikimedia provides a client for the Wikimedia Commons search API.
package wikimedia

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// Client searches Wikimedia Commons for freely licensed images.
type Client interface {
	// SearchImage returns the best image match for the query, or nil when
	// Commons has no usable result.
	SearchImage(ctx context.Context, query string) (*Image, error)
}

// Image is one Commons file with a direct URL.
type Image struct {
	Title string
	URL   string
}

// Option configures the Commons client.
type Option func(*httpClient)

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(baseURL string) Option {
	return func(c *httpClient) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Commons search client. baseURL defaults to the
// public commons.wikimedia.org endpoint.
func NewClient(baseURL string, opts ...Option) Client {
	if baseURL == "" {
		baseURL = "https://commons.wikimedia.org/w/api.php"
	}
	c := &httpClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
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

// searchResponse mirrors the generator=search + imageinfo API shape.
type searchResponse struct {
	Query struct {
		Pages map[string]struct {
			Title     string `json:"title"`
			Index     int    `json:"index"`
			ImageInfo []struct {
				URL string `json:"url"`
			} `json:"imageinfo"`
		} `json:"pages"`
	} `json:"query"`
}

func (c *httpClient) SearchImage(ctx context.Context, query string) (*Image, error) {
	params := url.Values{
		"action":       {"query"},
		"format":       {"json"},
		"generator":    {"search"},
		"gsrsearch":    {query},
		"gsrnamespace": {strconv.Itoa(6)}, // File: namespace
		"gsrlimit":     {"5"},
		"prop":         {"imageinfo"},
		"iiprop":       {"url"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "wikimedia: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "wikimedia: search request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, eris.Wrap(err, "wikimedia: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("wikimedia: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "wikimedia: unmarshal response")
	}

	// Pages come keyed by page id; pick the best-ranked result that has a
	// direct file URL.
	best := (*Image)(nil)
	bestIdx := 0
	for _, p := range result.Query.Pages {
		if len(p.ImageInfo) == 0 || p.ImageInfo[0].URL == "" {
			continue
		}
		if best == nil || p.Index < bestIdx {
			best = &Image{Title: p.Title, URL: p.ImageInfo[0].URL}
			bestIdx = p.Index
		}
	}
	return best, nil
}
