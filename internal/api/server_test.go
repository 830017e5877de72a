package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddoubleg123/carrot-sub001/internal/audit"
	"github.com/ddoubleg123/carrot-sub001/internal/canonical"
	"github.com/ddoubleg123/carrot-sub001/internal/config"
	"github.com/ddoubleg123/carrot-sub001/internal/engine"
	"github.com/ddoubleg123/carrot-sub001/internal/extract"
	"github.com/ddoubleg123/carrot-sub001/internal/feed"
	"github.com/ddoubleg123/carrot-sub001/internal/frontier"
	"github.com/ddoubleg123/carrot-sub001/internal/hero"
	"github.com/ddoubleg123/carrot-sub001/internal/model"
	"github.com/ddoubleg123/carrot-sub001/internal/pipeline"
	"github.com/ddoubleg123/carrot-sub001/internal/scoring"
	"github.com/ddoubleg123/carrot-sub001/internal/scrape"
	"github.com/ddoubleg123/carrot-sub001/internal/store"
	"github.com/ddoubleg123/carrot-sub001/pkg/memoryfeed"
)

type noopScorer struct{}

func (noopScorer) Score(_ context.Context, _ scoring.Request) (float64, error) { return 0, nil }

type noopFeedClient struct{}

func (noopFeedClient) Ingest(_ context.Context, _ string, _ []memoryfeed.Item) (*memoryfeed.IngestResponse, error) {
	return &memoryfeed.IngestResponse{}, nil
}

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()

	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))

	cfg := &config.Config{
		Discovery: config.DiscoveryConfig{Workers: 1, SaveThreshold: 60, PollIntervalSecs: 1},
		Verify:    config.VerifyConfig{TimeoutSecs: 2, UserAgent: "api-test"},
		Scrape:    config.ScrapeConfig{TimeoutSecs: 2, MinTextLen: 100, MinSentences: 3, MinLetterRatio: 0.5},
		Hero:      config.HeroConfig{Workers: 1, PollIntervalSecs: 1},
		Feed:      config.FeedConfig{BatchSize: 10, PollIntervalSecs: 1},
		Audit:     config.AuditConfig{IntervalSecs: 60, StuckTimeoutSecs: 600},
	}

	canon := canonical.New(config.CanonicalConfig{})
	chain := scrape.NewChain(scrape.NewPathMatcher(nil), scrape.NewLocalScraper(cfg.Scrape, cfg.Verify.UserAgent))
	pw := pipeline.NewWorker(st, pipeline.NewVerifier(cfg.Verify), chain,
		scrape.NewGate(cfg.Scrape), canon, noopScorer{}, cfg.Discovery)
	eng := engine.New(st, frontier.NewMemory(), extract.New(nil), pw,
		hero.NewWorker(st, nil, nil, cfg.Hero),
		feed.NewWorker(st, noopFeedClient{}, cfg.Feed),
		audit.New(st, canon, cfg.Audit), cfg)

	srv := NewServer(st, eng)

	// Stop any background runs before the store closes.
	t.Cleanup(func() {
		runs, _ := st.ListRuns(context.Background(), store.RunFilter{})
		for _, r := range runs {
			if r.Status.Active() {
				_ = eng.StopRun(context.Background(), r.ID)
			}
		}
		time.Sleep(50 * time.Millisecond)
		_ = st.Close()
	})
	return srv, st
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestCreateRun(t *testing.T) {
	srv, st := newTestServer(t)

	body := bytes.NewBufferString(`{"topicId":"topic-1"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/runs/", body))

	require.Equal(t, http.StatusAccepted, rec.Code)

	var run model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "topic-1", run.TopicID)
	assert.Equal(t, model.RunStatusLive, run.Status)

	status, err := st.GetRunStatus(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusLive, status)
}

func TestCreateRun_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	for name, body := range map[string]string{
		"not json":      `{{{`,
		"missing topic": `{"seedUrls":["https://example.com"]}`,
	} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/runs/", bytes.NewBufferString(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestGetRun(t *testing.T) {
	srv, st := newTestServer(t)

	run, err := st.CreateRun(context.Background(), "topic-1")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/runs/"+run.ID, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, model.RunStatusQueued, got.Status)
	require.NotNil(t, got.Metrics, "status response carries a live snapshot")
}

func TestGetRun_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/runs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopRun(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "topic-1")
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusLive))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/runs/"+run.ID+"/stop", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	status, err := st.GetRunStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusStopped, status)
}

func TestStopRun_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/runs/nope/stop", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
