package scrape

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddoubleg123/carrot-sub001/internal/config"
)

func newTestGate() *Gate {
	return NewGate(config.ScrapeConfig{
		MinTextLen:      280,
		MinSentences:    3,
		MinLetterRatio:  0.55,
		CatalogKeywords: []string{"add to cart", "items per page", "sort by"},
	})
}

func TestGate_AcceptsArticle(t *testing.T) {
	g := newTestGate()
	text := strings.Repeat("The expedition crossed the mountains in early spring. ", 10) +
		"Supplies ran low before the pass opened. The survivors kept detailed journals."
	assert.NoError(t, g.Check(text))
}

func TestGate_RejectsShortText(t *testing.T) {
	g := newTestGate()
	err := g.Check("Too short to matter. Really. Truly.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}

func TestGate_RejectsFewSentences(t *testing.T) {
	g := newTestGate()
	text := strings.Repeat("word ", 100) + "one long run of words with a single stop."
	err := g.Check(text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too few sentences")
}

func TestGate_RejectsNumericSoup(t *testing.T) {
	g := newTestGate()
	var b strings.Builder
	// Each line ends the sentence with a letter so the sentence count
	// clears its minimum and the letter-ratio check is the one that fires.
	for i := 0; i < 60; i++ {
		b.WriteString("2024-01-15 17.99 443-20-1 55 sold. ")
	}
	err := g.Check(b.String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "letter ratio")
}

func TestGate_RejectsCatalogKeyword(t *testing.T) {
	g := newTestGate()
	text := strings.Repeat("A quality product with many fine features included here. ", 10) +
		"Click Add to Cart to purchase. Shipping is free. Returns accepted."
	err := g.Check(text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog marker")
}

func TestCountSentences(t *testing.T) {
	assert.Equal(t, 3, countSentences("One. Two! Three?"))
	// Decimal points do not count.
	assert.Equal(t, 1, countSentences("The price was 3.50 overall."))
	assert.Equal(t, 0, countSentences("no terminal punctuation here"))
}

func TestLetterRatio(t *testing.T) {
	assert.InDelta(t, 1.0, letterRatio("abc def"), 0.001)
	assert.InDelta(t, 0.5, letterRatio("ab 12"), 0.001)
	assert.Zero(t, letterRatio("   "))
}
