package scrape

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/ddoubleg123/carrot-sub001/internal/config"
)

// Gate decides whether scraped text is a readable article or a
// catalog/metadata shell not worth scoring. Rejections carry the reason so
// the denial is explainable later.
type Gate struct {
	minTextLen     int
	minSentences   int
	minLetterRatio float64
	catalogWords   []string
}

// NewGate builds a Gate from the scrape configuration.
func NewGate(cfg config.ScrapeConfig) *Gate {
	words := make([]string, 0, len(cfg.CatalogKeywords))
	for _, w := range cfg.CatalogKeywords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			words = append(words, w)
		}
	}
	return &Gate{
		minTextLen:     cfg.MinTextLen,
		minSentences:   cfg.MinSentences,
		minLetterRatio: cfg.MinLetterRatio,
		catalogWords:   words,
	}
}

// Check returns nil when text reads like an article, or an error naming the
// failed criterion.
func (g *Gate) Check(text string) error {
	text = strings.TrimSpace(text)
	if len(text) < g.minTextLen {
		return eris.Errorf("readability: text too short (%d chars)", len(text))
	}

	if n := countSentences(text); n < g.minSentences {
		return eris.Errorf("readability: too few sentences (%d)", n)
	}

	if ratio := letterRatio(text); ratio < g.minLetterRatio {
		return eris.Errorf("readability: low letter ratio (%.2f)", ratio)
	}

	lower := strings.ToLower(text)
	for _, w := range g.catalogWords {
		if strings.Contains(lower, w) {
			return eris.Errorf("readability: catalog marker %q", w)
		}
	}

	return nil
}

// countSentences counts terminal punctuation followed by whitespace or end
// of text. Decimal points and version numbers do not count.
func countSentences(text string) int {
	n := 0
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if r == '.' && i > 0 && unicode.IsDigit(runes[i-1]) {
			continue
		}
		n++
	}
	return n
}

// letterRatio is the share of non-space runes that are letters. Catalog
// and listing pages skew toward digits and punctuation.
func letterRatio(text string) float64 {
	var letters, total int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(letters) / float64(total)
}
