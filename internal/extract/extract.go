// Package extract finds outbound citations on a monitored page: the links
// in its References, Further reading, and External links sections.
package extract

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ddoubleg123/carrot-sub001/internal/canonical"
	"github.com/ddoubleg123/carrot-sub001/internal/model"
	"github.com/ddoubleg123/carrot-sub001/internal/store"
)

// ExtractedCitation is one external link found in a citation section.
type ExtractedCitation struct {
	URL             string
	Title           string
	SectionContext  string
	SourceNumber    *int
	SurroundingText string
}

// sectionPattern matches headings that introduce a citation section.
var sectionPattern = regexp.MustCompile(`(?i)^(references|further reading|external links|sources|bibliography|notes and references)$`)

const maxSurroundingText = 300

// Extractor scans page HTML for outbound citations. Links into the page's
// own domain or into any of the configured reference-site domains are
// internal and discarded.
type Extractor struct {
	internalDomains []string
}

// New creates an Extractor. internalDomains lists domain suffixes that
// never count as external citations (e.g. the wiki family hosting the
// monitored pages themselves).
func New(internalDomains []string) *Extractor {
	return &Extractor{internalDomains: internalDomains}
}

// Extract parses html and returns the external citations found in its
// citation sections, deduplicated by canonical URL with the first section
// winning.
func (e *Extractor) Extract(html, pageURL string) ([]ExtractedCitation, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse page URL")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse HTML")
	}

	var out []ExtractedCitation
	seen := make(map[string]bool)

	collect := func(section string, numbered bool, block *goquery.Selection) {
		itemIdx := 0
		block.Find("li").Each(func(_ int, li *goquery.Selection) {
			itemIdx++
			li.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
				href, _ := a.Attr("href")
				link := e.classify(base, href)
				if link == "" {
					return
				}
				key, err := canonical.Normalize(link)
				if err != nil || seen[key.CanonicalURL] {
					return
				}
				seen[key.CanonicalURL] = true

				c := ExtractedCitation{
					URL:             link,
					Title:           strings.TrimSpace(a.Text()),
					SectionContext:  section,
					SurroundingText: trimText(li.Text(), maxSurroundingText),
				}
				if numbered {
					n := itemIdx
					c.SourceNumber = &n
				}
				out = append(out, c)
			})
		})

		// Some layouts link directly under the block without list items.
		if itemIdx == 0 {
			block.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
				href, _ := a.Attr("href")
				link := e.classify(base, href)
				if link == "" {
					return
				}
				key, err := canonical.Normalize(link)
				if err != nil || seen[key.CanonicalURL] {
					return
				}
				seen[key.CanonicalURL] = true
				out = append(out, ExtractedCitation{
					URL:            link,
					Title:          strings.TrimSpace(a.Text()),
					SectionContext: section,
				})
			})
		}
	}

	doc.Find("h2, h3").Each(func(_ int, h *goquery.Selection) {
		name := headingName(h)
		if !sectionPattern.MatchString(name) {
			return
		}
		section := canonicalSection(name)
		numbered := strings.EqualFold(section, "References")
		// The section's content is everything up to the next heading of
		// the same or higher level.
		collect(section, numbered, h.NextUntil("h2, h3"))
		// MediaWiki wraps headings in container divs; the list then
		// follows the wrapper, not the heading itself.
		if parent := h.Parent(); parent.Is("div") {
			collect(section, numbered, parent.NextUntil("div:has(h2), div:has(h3), h2, h3"))
		}
	})

	// Reference lists rendered without a recognizable heading.
	doc.Find("ol.references").Each(func(_ int, ol *goquery.Selection) {
		collect("References", true, ol)
	})

	return out, nil
}

// classify resolves href against base and returns the absolute URL when it
// is a genuine external citation, or "" when it is internal or unusable.
func (e *Extractor) classify(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := base.Parse(href)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if e.isInternal(base, u.Host) {
		return ""
	}
	return u.String()
}

func (e *Extractor) isInternal(base *url.URL, host string) bool {
	host = strings.ToLower(host)
	baseHost := strings.ToLower(base.Host)
	if host == baseHost || sameRegistrableHost(host, baseHost) {
		return true
	}
	for _, d := range e.internalDomains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// sameRegistrableHost treats sub.example.com and example.com as one site.
func sameRegistrableHost(a, b string) bool {
	a = strings.TrimPrefix(a, "www.")
	b = strings.TrimPrefix(b, "www.")
	return a == b || strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}

func headingName(h *goquery.Selection) string {
	if id, ok := h.Attr("id"); ok && sectionPattern.MatchString(strings.ReplaceAll(id, "_", " ")) {
		return strings.ReplaceAll(id, "_", " ")
	}
	// Strip edit-section links before reading the text.
	text := h.Clone().Children().Remove().End().Text()
	if strings.TrimSpace(text) == "" {
		text = h.Text()
	}
	return strings.TrimSpace(text)
}

func canonicalSection(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "further"):
		return "Further reading"
	case strings.Contains(lower, "external"):
		return "External links"
	case strings.Contains(lower, "bibliograph"):
		return "Bibliography"
	case strings.Contains(lower, "source"):
		return "Sources"
	default:
		return "References"
	}
}

func trimText(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		s = s[:max]
	}
	return s
}

// SyncPage extracts citations from html and records them on the page:
// new rows are inserted, existing rows are left untouched, and the page's
// extraction bookkeeping is updated.
func (e *Extractor) SyncPage(ctx context.Context, st store.Store, page *model.MonitoredPage, html string) (int, error) {
	found, err := e.Extract(html, page.URL)
	if err != nil {
		return 0, err
	}

	cits := make([]model.Citation, 0, len(found))
	for _, f := range found {
		c := model.Citation{
			URL:             f.URL,
			SectionContext:  f.SectionContext,
			SourceNumber:    f.SourceNumber,
			SurroundingText: f.SurroundingText,
		}
		if f.Title != "" {
			title := f.Title
			c.Title = &title
		}
		cits = append(cits, c)
	}

	inserted, err := st.InsertCitations(ctx, page.ID, cits)
	if err != nil {
		return inserted, err
	}
	if err := st.MarkPageExtracted(ctx, page.ID, len(found)); err != nil {
		return inserted, err
	}

	zap.L().Info("extract: page synced",
		zap.Int64("page_id", page.ID),
		zap.String("url", page.URL),
		zap.Int("found", len(found)),
		zap.Int("inserted", inserted))
	return inserted, nil
}

// RemoveInternal deletes citations on the page whose URL is in fact
// internal under the current classification rules. This is the cleanup
// path for rows created before a domain was added to the internal list.
func (e *Extractor) RemoveInternal(ctx context.Context, st store.Store, pageID int64) (int, error) {
	page, err := st.GetPage(ctx, pageID)
	if err != nil {
		return 0, err
	}
	base, err := url.Parse(page.URL)
	if err != nil {
		return 0, eris.Wrap(err, "extract: parse page URL")
	}

	cits, err := st.ListCitationsByPage(ctx, pageID)
	if err != nil {
		return 0, err
	}

	var internal []string
	for _, c := range cits {
		u, err := url.Parse(c.URL)
		if err != nil || e.isInternal(base, u.Host) {
			internal = append(internal, c.URL)
		}
	}
	if len(internal) == 0 {
		return 0, nil
	}

	removed, err := st.RemoveInternalCitations(ctx, pageID, internal)
	if err != nil {
		return 0, err
	}
	zap.L().Info("extract: removed internal citations",
		zap.Int64("page_id", pageID),
		zap.Int("removed", removed))
	return removed, nil
}
