package scrape

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ddoubleg123/carrot-sub001/pkg/jina"
)

// JinaScraper fetches pages through the Jina Reader service. Last resort
// in the chain; Reader renders JavaScript-heavy pages the local fetch
// cannot.
type JinaScraper struct {
	client jina.Client
}

// NewJinaScraper creates a JinaScraper.
func NewJinaScraper(client jina.Client) *JinaScraper {
	return &JinaScraper{client: client}
}

func (j *JinaScraper) Name() string           { return "jina_reader" }
func (j *JinaScraper) Supports(_ string) bool { return true }

// Scrape fetches a URL as markdown and strips it to plaintext.
func (j *JinaScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := j.client.Read(ctx, targetURL)
	if err != nil {
		return nil, eris.Wrap(err, "jina_reader: read")
	}

	text := markdownToText(resp.Data.Content)
	if strings.TrimSpace(text) == "" {
		return nil, eris.Errorf("jina_reader: empty content for %s", targetURL)
	}

	return &Result{
		URL:        targetURL,
		Title:      resp.Data.Title,
		Text:       text,
		StatusCode: 200,
		Source:     j.Name(),
	}, nil
}

var (
	mdLink    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdImage   = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	mdHeading = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdEmph    = regexp.MustCompile(`[*_]{1,3}([^*_]+)[*_]{1,3}`)
)

// markdownToText strips markdown syntax, keeping link and emphasis text.
func markdownToText(md string) string {
	s := mdImage.ReplaceAllString(md, "")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdEmph.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, "`", "")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(strings.TrimLeft(line, ">-+ \t"))
		if line == "" || strings.HasPrefix(line, "|") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
