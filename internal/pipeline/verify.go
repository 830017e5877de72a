package pipeline

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ddoubleg123/carrot-sub001/internal/config"
	"github.com/ddoubleg123/carrot-sub001/internal/scrape"
)

// Verifier checks that a citation URL is worth scanning: well-formed,
// not on the binary-extension blocklist, and actually reachable.
type Verifier struct {
	client    *http.Client
	userAgent string
	matcher   *scrape.PathMatcher
}

// NewVerifier creates a Verifier from the verify configuration.
func NewVerifier(cfg config.VerifyConfig) *Verifier {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Verifier{
		client: &http.Client{
			Timeout: timeout,
		},
		userAgent: cfg.UserAgent,
		matcher:   scrape.FromExtensions(cfg.BlockedExts),
	}
}

// Verify returns nil when the URL is reachable, or an error whose message
// classifies the failure for the citation's error_message column.
func (v *Verifier) Verify(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return eris.Wrap(err, "verify: malformed url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return eris.Errorf("verify: unsupported scheme %q", u.Scheme)
	}
	if v.matcher.IsExcluded(rawURL) {
		return eris.New("verify: low-quality url (blocked extension)")
	}

	// HEAD first; many origins reject or mishandle it, so fall back to a
	// ranged GET before declaring the URL dead.
	status, err := v.probe(ctx, http.MethodHead, rawURL)
	if err == nil && status < 400 {
		return nil
	}

	status, err = v.probe(ctx, http.MethodGet, rawURL)
	if err != nil {
		return classifyNetErr(err)
	}
	if status >= 400 {
		return eris.Errorf("verify: status %d", status)
	}
	return nil
}

func (v *Verifier) probe(ctx context.Context, method, rawURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, eris.Wrap(err, "verify: create request")
	}
	req.Header.Set("User-Agent", v.userAgent)
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-1023")
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// classifyNetErr folds transport errors into the short, stable messages
// recorded on citation rows.
func classifyNetErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return eris.Wrap(err, "verify: timeout")
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return eris.Wrap(err, "verify: connection failed")
	}
	return eris.Wrap(err, "verify: request failed")
}
