package scrape

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ddoubleg123/carrot-sub001/pkg/firecrawl"
)

// FirecrawlScraper fetches pages through the Firecrawl rendering service.
// Used as a fallback when the local fetch is blocked or yields no text.
type FirecrawlScraper struct {
	client firecrawl.Client
}

// NewFirecrawlScraper creates a FirecrawlScraper.
func NewFirecrawlScraper(client firecrawl.Client) *FirecrawlScraper {
	return &FirecrawlScraper{client: client}
}

func (f *FirecrawlScraper) Name() string           { return "firecrawl" }
func (f *FirecrawlScraper) Supports(_ string) bool { return true }

// Scrape fetches a URL as markdown and strips it to plaintext.
func (f *FirecrawlScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:     targetURL,
		Formats: []string{"markdown"},
	})
	if err != nil {
		return nil, eris.Wrap(err, "firecrawl: scrape")
	}
	if !resp.Success {
		return nil, eris.Errorf("firecrawl: scrape unsuccessful for %s", targetURL)
	}

	text := markdownToText(resp.Data.Markdown)
	if strings.TrimSpace(text) == "" {
		return nil, eris.Errorf("firecrawl: empty content for %s", targetURL)
	}

	return &Result{
		URL:        targetURL,
		Title:      resp.Data.Title,
		Text:       text,
		StatusCode: resp.Data.StatusCode,
		Source:     f.Name(),
	}, nil
}
