// Package canonical normalizes URLs into a stable canonical form used as the
// dedup identity across the frontier, citation, and content stores.
package canonical

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ddoubleg123/carrot-sub001/internal/config"
)

// trackingParams are query parameters stripped during canonicalization.
// Two URLs differing only in these are the same resource.
var trackingParams = map[string]bool{
	"fbclid":      true,
	"gclid":       true,
	"dclid":       true,
	"msclkid":     true,
	"igshid":      true,
	"mc_cid":      true,
	"mc_eid":      true,
	"ref":         true,
	"ref_src":     true,
	"spm":         true,
	"_hsenc":      true,
	"_hsmi":       true,
	"oly_anon_id": true,
	"oly_enc_id":  true,
	"vero_id":     true,
	"wickedid":    true,
	"yclid":       true,
	"s_cid":       true,
}

// Result is the outcome of canonicalizing a raw URL.
type Result struct {
	// CanonicalURL is the normalized absolute URL.
	CanonicalURL string
	// FinalDomain is the registrable host after redirect resolution and
	// www folding, used for display and per-domain grouping.
	FinalDomain string
}

// Canonicalizer normalizes raw URLs, optionally following redirects so that
// shortened or moved links collapse to the same canonical form.
type Canonicalizer struct {
	cfg    config.CanonicalConfig
	client *http.Client
}

// New creates a Canonicalizer from config.
func New(cfg config.CanonicalConfig) *Canonicalizer {
	c := &Canonicalizer{cfg: cfg}
	if cfg.ResolveRedirects {
		maxRedirects := cfg.MaxRedirects
		if maxRedirects <= 0 {
			maxRedirects = 5
		}
		c.client = &http.Client{
			Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		}
	}
	return c
}

// Canonicalize normalizes rawURL. When redirect resolution is enabled it
// first follows redirects to the final location; any network failure falls
// back to syntactic-only normalization rather than failing the URL.
func (c *Canonicalizer) Canonicalize(ctx context.Context, rawURL string) (Result, error) {
	u, err := parse(rawURL)
	if err != nil {
		return Result{}, err
	}

	if c.client != nil {
		if final := c.resolve(ctx, u); final != nil {
			u = final
		}
	}

	normalize(u)
	return Result{
		CanonicalURL: u.String(),
		FinalDomain:  u.Host,
	}, nil
}

// Normalize applies syntactic normalization only, never touching the network.
func Normalize(rawURL string) (Result, error) {
	u, err := parse(rawURL)
	if err != nil {
		return Result{}, err
	}
	normalize(u)
	return Result{CanonicalURL: u.String(), FinalDomain: u.Host}, nil
}

// Hash returns the sha256 hex digest of text, the identity used for
// content-level dedup and idempotent feed delivery.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func parse(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, eris.New("canonical: empty URL")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "canonical: parse URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, eris.Errorf("canonical: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, eris.New("canonical: missing host")
	}
	return u, nil
}

// resolve issues a HEAD request and returns the final post-redirect URL, or
// nil when the network is unhelpful (the caller keeps the syntactic form).
func (c *Canonicalizer) resolve(ctx context.Context, u *url.URL) *url.URL {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return nil
	}
	resp, err := c.client.Do(req)
	if err != nil {
		zap.L().Debug("canonical: redirect resolution failed, keeping syntactic form",
			zap.String("url", u.String()),
			zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.Request != nil && resp.Request.URL != nil {
		final := *resp.Request.URL
		return &final
	}
	return nil
}

func normalize(u *url.URL) {
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.User = nil

	// Strip default ports.
	if h, ok := strings.CutSuffix(u.Host, ":80"); ok && u.Scheme == "http" {
		u.Host = h
	}
	if h, ok := strings.CutSuffix(u.Host, ":443"); ok && u.Scheme == "https" {
		u.Host = h
	}

	// Fold the www prefix.
	if h, ok := strings.CutPrefix(u.Host, "www."); ok && strings.Contains(h, ".") {
		u.Host = h
	}

	// Drop tracking params, sort the rest for a stable ordering.
	if u.RawQuery != "" {
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			if trackingParams[k] || strings.HasPrefix(strings.ToLower(k), "utm_") {
				delete(q, k)
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for _, v := range vals {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				if v != "" {
					b.WriteByte('=')
					b.WriteString(url.QueryEscape(v))
				}
			}
		}
		u.RawQuery = b.String()
	}

	// Collapse a bare trailing slash; deeper paths keep theirs as-is.
	if u.Path == "/" && u.RawQuery == "" {
		u.Path = ""
	}
}
