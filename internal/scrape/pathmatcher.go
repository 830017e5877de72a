package scrape

import (
	"net/url"
	"path"
	"strings"
)

// defaultExcludePatterns reject binary and media URLs that will never
// yield scoreable text.
var defaultExcludePatterns = []string{
	"*.pdf",
	"*.zip",
	"*.jpg",
	"*.jpeg",
	"*.png",
	"*.gif",
	"*.mp4",
	"*.mp3",
	"*.exe",
	"*.dmg",
}

// PathMatcher filters URLs based on glob-style path patterns. Extension
// patterns like "*.pdf" match the path suffix anywhere in the tree;
// directory patterns like "/downloads/*" match the whole subtree.
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher from glob patterns.
// Falls back to the default binary-extension patterns if none are provided.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = defaultExcludePatterns
	}
	return &PathMatcher{patterns: patterns}
}

// FromExtensions builds a PathMatcher from bare extensions (".pdf", "zip").
func FromExtensions(exts []string) *PathMatcher {
	patterns := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.TrimSpace(strings.ToLower(e))
		if e == "" {
			continue
		}
		e = strings.TrimPrefix(e, "*")
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		patterns = append(patterns, "*"+e)
	}
	return NewPathMatcher(patterns)
}

// Patterns returns the configured patterns.
func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// IsExcluded checks whether a URL matches any exclude pattern.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return m.isPathExcluded(u.Path)
}

// isPathExcluded checks a URL path against all patterns.
func (m *PathMatcher) isPathExcluded(urlPath string) bool {
	urlPath = strings.ToLower(urlPath)
	for _, pattern := range m.patterns {
		pattern = strings.ToLower(pattern)
		if matchSegmented(pattern, urlPath) {
			return true
		}
	}
	return false
}

// matchSegmented performs glob matching where "*.pdf" matches any path
// ending in ".pdf", and "/downloads/*" matches the whole subtree under
// /downloads.
func matchSegmented(pattern, urlPath string) bool {
	// Extension patterns match as a suffix at any depth.
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(urlPath, pattern[1:])
	}

	// Try exact stdlib glob match.
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}

	// For patterns ending in "/*", check if the URL path starts with the
	// pattern's directory prefix. This lets "/downloads/*" match
	// "/downloads/a/b/c".
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if urlPath == prefix || strings.HasPrefix(urlPath, prefix+"/") {
			return true
		}
	}

	return false
}
