package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddoubleg123/carrot-sub001/internal/config"
	"github.com/ddoubleg123/carrot-sub001/internal/model"
	"github.com/ddoubleg123/carrot-sub001/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCollect_EmptyStore(t *testing.T) {
	c := NewCollector(newTestStore(t))

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.TopicsChecked)
	assert.Zero(t, snap.RejectRate)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollect_CountsCitationOutcomes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	run, err := st.CreateRun(ctx, "topic-1")
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusLive))

	page, _, err := st.RegisterPage(ctx, "topic-1", "https://en.wikipedia.org/wiki/T", "T", 5)
	require.NoError(t, err)
	title := "Cited Work"
	_, err = st.InsertCitations(ctx, page.ID, []model.Citation{
		{URL: "https://a.test/1", Title: &title, SectionContext: "References"},
		{URL: "https://a.test/2", Title: &title, SectionContext: "References"},
	})
	require.NoError(t, err)

	cit, err := st.ClaimNextCitation(ctx, "topic-1")
	require.NoError(t, err)
	require.NoError(t, st.MarkVerificationFailed(ctx, cit.ID, "status 404"))

	c := NewCollector(st)
	snap, err := c.Collect(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.TopicsChecked)
	assert.Equal(t, 1, snap.ActiveRuns)
	assert.Equal(t, 1, snap.CitationsRejected)
	assert.Equal(t, 1.0, snap.RejectRate)
}

func TestEvaluate_Thresholds(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		RejectRateThreshold:  0.5,
		FeedBacklogThreshold: 10,
	})

	tests := []struct {
		name string
		snap Snapshot
		want []AlertType
	}{
		{
			name: "healthy",
			snap: Snapshot{CitationsSaved: 20},
			want: nil,
		},
		{
			name: "reject rate over threshold",
			snap: Snapshot{CitationsSaved: 2, CitationsRejected: 8, RejectRate: 0.8},
			want: []AlertType{AlertRejectRate},
		},
		{
			name: "small sample never alerts on rate",
			snap: Snapshot{CitationsRejected: 3, RejectRate: 1.0},
			want: nil,
		},
		{
			name: "feed failures and backlog",
			snap: Snapshot{FeedFailed: 2, FeedBacklog: 50},
			want: []AlertType{AlertFeedFailure, AlertFeedBacklog},
		},
		{
			name: "failed runs",
			snap: Snapshot{FailedRuns: 1},
			want: []AlertType{AlertRunFailure},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := a.Evaluate(&tt.snap)
			var got []AlertType
			for _, al := range alerts {
				got = append(got, al.Type)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSendAlerts_PostsWebhook(t *testing.T) {
	var received []Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		received = append(received, a)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	alerts := []Alert{
		{Type: AlertHeroFailure, Severity: "medium", Message: "2 hero enrichment(s) failed"},
		{Type: AlertFeedFailure, Severity: "high", Message: "1 feed item(s) in FAILED state"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	require.Len(t, received, 2)
	assert.Equal(t, AlertHeroFailure, received[0].Type)
}

func TestSendAlerts_NoWebhookConfigured(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailure}})
	assert.Zero(t, sent)
}

func TestSendAlerts_CountsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailure}})
	assert.Zero(t, sent)
}
