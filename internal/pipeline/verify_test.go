package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddoubleg123/carrot-sub001/internal/config"
)

func newTestVerifier() *Verifier {
	return NewVerifier(config.VerifyConfig{
		TimeoutSecs: 5,
		UserAgent:   "test-agent",
		BlockedExts: []string{".pdf", ".zip"},
	})
}

func TestVerify_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.WriteHeader(200)
	}))
	defer srv.Close()

	err := newTestVerifier().Verify(context.Background(), srv.URL+"/article")
	assert.NoError(t, err)
}

func TestVerify_HeadRejectedGetAccepted(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodHead {
			w.WriteHeader(405)
			return
		}
		assert.Equal(t, "bytes=0-1023", r.Header.Get("Range"))
		w.WriteHeader(206)
	}))
	defer srv.Close()

	err := newTestVerifier().Verify(context.Background(), srv.URL+"/doc")
	require.NoError(t, err)
	assert.Equal(t, []string{http.MethodHead, http.MethodGet}, methods)
}

func TestVerify_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))
	defer srv.Close()

	err := newTestVerifier().Verify(context.Background(), srv.URL+"/gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestVerify_BlockedExtension(t *testing.T) {
	v := newTestVerifier()
	for _, u := range []string{
		"https://example.com/report.pdf",
		"https://example.com/deep/path/archive.ZIP",
	} {
		err := v.Verify(context.Background(), u)
		require.Error(t, err, u)
		assert.Contains(t, err.Error(), "blocked extension")
	}

	// No network call happens for blocked URLs, so an unroutable host is fine.
	err := v.Verify(context.Background(), "https://0.0.0.0/x.pdf")
	assert.Error(t, err)
}

func TestVerify_UnsupportedScheme(t *testing.T) {
	err := newTestVerifier().Verify(context.Background(), "ftp://example.com/file")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestVerify_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := newTestVerifier().Verify(context.Background(), url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection failed")
}
