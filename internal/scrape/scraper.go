// Package scrape fetches cited pages and turns them into plaintext for
// relevance scoring.
package scrape

import (
	"context"
)

// Result holds a fetched page reduced to plaintext.
type Result struct {
	URL        string
	Title      string
	Text       string
	StatusCode int
	Source     string // e.g. "local_http"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}
