package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html><body>
<h2 id="History">History</h2>
<p>Body text with an inline link to <a href="https://inline.example.com/x">something</a>.</p>

<h2 id="References">References</h2>
<ol>
	<li>Smith, J. <a href="https://journal.example.com/paper1">The First Paper</a>. Journal of Examples, 2019.</li>
	<li>Doe, A. <a href="https://archive.example.org/doc2?utm_source=wiki">Archived Report</a>.</li>
	<li>See also <a href="/wiki/Other_Page">Other Page</a> and <a href="#cite_note-3">[3]</a>.</li>
	<li>Dup of first: <a href="https://journal.example.com/paper1#abstract">The First Paper again</a>.</li>
</ol>

<h2 id="Further_reading">Further reading</h2>
<ul>
	<li><a href="https://books.example.net/deep-dive">A Deep Dive</a>, 2021.</li>
	<li><a href="https://journal.example.com/paper1">The First Paper</a> (listed twice on purpose).</li>
</ul>

<h2 id="External_links">External links</h2>
<ul>
	<li><a href="https://official.example.io/">Official site</a></li>
	<li><a href="https://en.wikipedia.org/wiki/Sibling">Sibling article</a></li>
	<li><a href="mailto:editor@example.com">Contact</a></li>
</ul>

<h2 id="Navigation">Navigation</h2>
<ul><li><a href="https://nav.example.com/">Should not be picked up</a></li></ul>
</body></html>`

func newTestExtractor() *Extractor {
	return New([]string{"wikipedia.org", "wikimedia.org"})
}

func TestExtract_SectionsAndFiltering(t *testing.T) {
	e := newTestExtractor()

	cits, err := e.Extract(samplePage, "https://en.wikipedia.org/wiki/Main_Topic")
	require.NoError(t, err)

	byURL := make(map[string]ExtractedCitation)
	for _, c := range cits {
		byURL[c.URL] = c
	}

	// References entries, numbered by list position.
	paper, ok := byURL["https://journal.example.com/paper1"]
	require.True(t, ok)
	assert.Equal(t, "References", paper.SectionContext)
	assert.Equal(t, "The First Paper", paper.Title)
	require.NotNil(t, paper.SourceNumber)
	assert.Equal(t, 1, *paper.SourceNumber)
	assert.Contains(t, paper.SurroundingText, "Journal of Examples")

	archived, ok := byURL["https://archive.example.org/doc2?utm_source=wiki"]
	require.True(t, ok)
	require.NotNil(t, archived.SourceNumber)
	assert.Equal(t, 2, *archived.SourceNumber)

	// Further reading and External links entries carry no source number.
	deep, ok := byURL["https://books.example.net/deep-dive"]
	require.True(t, ok)
	assert.Equal(t, "Further reading", deep.SectionContext)
	assert.Nil(t, deep.SourceNumber)

	official, ok := byURL["https://official.example.io/"]
	require.True(t, ok)
	assert.Equal(t, "External links", official.SectionContext)

	// Internal, relative, fragment, mailto, inline, and
	// non-citation-section links are all excluded.
	for _, u := range []string{
		"https://en.wikipedia.org/wiki/Other_Page",
		"https://en.wikipedia.org/wiki/Sibling",
		"https://inline.example.com/x",
		"https://nav.example.com/",
	} {
		_, found := byURL[u]
		assert.False(t, found, "unexpected citation %s", u)
	}

	assert.Len(t, cits, 4)
}

func TestExtract_DedupeKeepsFirstSection(t *testing.T) {
	e := newTestExtractor()

	cits, err := e.Extract(samplePage, "https://en.wikipedia.org/wiki/Main_Topic")
	require.NoError(t, err)

	n := 0
	for _, c := range cits {
		if c.URL == "https://journal.example.com/paper1" {
			n++
			assert.Equal(t, "References", c.SectionContext)
		}
		// The fragment variant collapses to the same canonical URL.
		assert.NotEqual(t, "https://journal.example.com/paper1#abstract", c.URL)
	}
	assert.Equal(t, 1, n)
}

func TestExtract_MediaWikiHeadingWrappers(t *testing.T) {
	e := newTestExtractor()
	html := `<html><body>
	<div class="mw-heading mw-heading2"><h2 id="References">References</h2></div>
	<ol class="references">
		<li><a href="https://cited.example.com/a">Cited Work</a></li>
	</ol>
	</body></html>`

	cits, err := e.Extract(html, "https://en.wikipedia.org/wiki/Topic")
	require.NoError(t, err)
	require.Len(t, cits, 1)
	assert.Equal(t, "https://cited.example.com/a", cits[0].URL)
	assert.Equal(t, "References", cits[0].SectionContext)
	require.NotNil(t, cits[0].SourceNumber)
}

func TestExtract_SameDomainSubdomainIsInternal(t *testing.T) {
	e := New(nil)
	html := `<html><body><h2>External links</h2><ul>
	<li><a href="https://docs.example.com/page">Docs</a></li>
	<li><a href="https://other.net/page">Other</a></li>
	</ul></body></html>`

	cits, err := e.Extract(html, "https://www.example.com/article")
	require.NoError(t, err)
	require.Len(t, cits, 1)
	assert.Equal(t, "https://other.net/page", cits[0].URL)
}

func TestExtract_EmptyDocument(t *testing.T) {
	e := newTestExtractor()
	cits, err := e.Extract("<html><body><p>no sections here</p></body></html>", "https://en.wikipedia.org/wiki/T")
	require.NoError(t, err)
	assert.Empty(t, cits)
}
