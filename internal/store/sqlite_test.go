package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddoubleg123/carrot-sub001/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedPage(t *testing.T, s *SQLiteStore, topicID string) *model.MonitoredPage {
	t.Helper()
	p, created, err := s.RegisterPage(context.Background(), topicID, "https://en.example.org/wiki/Topic", "Topic", 10)
	require.NoError(t, err)
	require.True(t, created)
	return p
}

func TestSQLite_RunLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "topic-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusLive))
	status, err := s.GetRunStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusLive, status)
	assert.True(t, status.Active())

	require.NoError(t, s.UpdateRunMetrics(ctx, run.ID, &model.MetricsSnapshot{ContentSaved: 3, TakenAt: time.Now().UTC()}))

	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusStopped))
	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusStopped, got.Status)
	assert.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.Metrics)
	assert.Equal(t, 3, got.Metrics.ContentSaved)
}

func TestSQLite_CompleteRun_OnlyFromLive(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "topic-1")
	require.NoError(t, err)
	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusLive))

	done, err := s.CompleteRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, done)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestSQLite_CompleteRun_KeepsStoppedStatus(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "topic-1")
	require.NoError(t, err)
	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusLive))
	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusStopped))

	done, err := s.CompleteRun(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, done)

	status, err := s.GetRunStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusStopped, status)
}

func TestSQLite_SetRunError(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "topic-1")
	require.NoError(t, err)
	require.NoError(t, s.SetRunError(ctx, run.ID, "storage outage"))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusError, got.Status)
	assert.Equal(t, "storage outage", got.Error)
}

func TestSQLite_RegisterPage_Dedup(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	p1, created, err := s.RegisterPage(ctx, "topic-1", "https://en.example.org/wiki/A", "A", 5)
	require.NoError(t, err)
	assert.True(t, created)

	p2, created, err := s.RegisterPage(ctx, "topic-1", "https://en.example.org/wiki/A", "A again", 9)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p1.ID, p2.ID)
	assert.Equal(t, "A", p2.Title)

	// Same URL under a different topic is a distinct page.
	_, created, err = s.RegisterPage(ctx, "topic-2", "https://en.example.org/wiki/A", "A", 5)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestSQLite_InsertCitations_Dedup(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	page := seedPage(t, s, "topic-1")

	n, err := s.InsertCitations(ctx, page.ID, []model.Citation{
		{URL: "https://a.example/x", SectionContext: "References"},
		{URL: "https://b.example/y", SectionContext: "External links"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-sync must not touch existing rows or create duplicates.
	n, err = s.InsertCitations(ctx, page.ID, []model.Citation{
		{URL: "https://a.example/x", SectionContext: "Further reading"},
		{URL: "https://c.example/z", SectionContext: "References"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_ClaimNextCitation_PriorityOrder(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	page := seedPage(t, s, "topic-1")

	_, err := s.InsertCitations(ctx, page.ID, []model.Citation{
		{URL: "https://low.example/"},
		{URL: "https://high.example/"},
		{URL: "https://unscored.example/"},
	})
	require.NoError(t, err)

	// Assign scores to two of the three; the unscored one sorts last.
	var lowID, highID int64
	require.NoError(t, s.db.QueryRow(`SELECT id FROM citations WHERE url = 'https://low.example/'`).Scan(&lowID))
	require.NoError(t, s.db.QueryRow(`SELECT id FROM citations WHERE url = 'https://high.example/'`).Scan(&highID))
	require.NoError(t, s.SetCitationScore(ctx, lowID, 20))
	require.NoError(t, s.SetCitationScore(ctx, highID, 90))

	var order []string
	for {
		c, err := s.ClaimNextCitation(ctx, "topic-1")
		require.NoError(t, err)
		if c == nil {
			break
		}
		assert.Equal(t, model.ScanScanning, c.ScanStatus)
		order = append(order, c.URL)
		// Leave the row in scanning: it must not be claimed again.
	}
	assert.Equal(t, []string{"https://high.example/", "https://low.example/", "https://unscored.example/"}, order)
}

func TestSQLite_ClaimNextCitation_SkipsDecidedAndFailed(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	page := seedPage(t, s, "topic-1")

	_, err := s.InsertCitations(ctx, page.ID, []model.Citation{
		{URL: "https://failed.example/"},
		{URL: "https://decided.example/"},
	})
	require.NoError(t, err)

	var failedID, decidedID int64
	require.NoError(t, s.db.QueryRow(`SELECT id FROM citations WHERE url = 'https://failed.example/'`).Scan(&failedID))
	require.NoError(t, s.db.QueryRow(`SELECT id FROM citations WHERE url = 'https://decided.example/'`).Scan(&decidedID))

	require.NoError(t, s.MarkVerificationFailed(ctx, failedID, "HTTP 404"))
	require.NoError(t, s.MarkVerified(ctx, decidedID))
	require.NoError(t, s.MarkScanDenied(ctx, decidedID, "catalog page"))
	require.NoError(t, s.DecideCitation(ctx, decidedID, model.DecisionDenied, nil))

	c, err := s.ClaimNextCitation(ctx, "topic-1")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSQLite_CitationStateTransitions(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	page := seedPage(t, s, "topic-1")

	_, err := s.InsertCitations(ctx, page.ID, []model.Citation{{URL: "https://a.example/x"}})
	require.NoError(t, err)

	c, err := s.ClaimNextCitation(ctx, "topic-1")
	require.NoError(t, err)
	require.NotNil(t, c)

	require.NoError(t, s.MarkVerified(ctx, c.ID))
	require.NoError(t, s.MarkScanned(ctx, c.ID, "extracted body text"))
	require.NoError(t, s.SetCitationScore(ctx, c.ID, 72))

	contentID := "content-1"
	require.NoError(t, s.DecideCitation(ctx, c.ID, model.DecisionSaved, &contentID))

	got, err := s.GetCitation(ctx, c.ID)
	require.NoError(t, err)
	state, err := model.StateOf(got)
	require.NoError(t, err)
	assert.Equal(t, model.StateSaved, state)
	require.NotNil(t, got.SavedContentID)
	assert.Equal(t, contentID, *got.SavedContentID)
	require.NotNil(t, got.ExtractedText)
	assert.Equal(t, "extracted body text", *got.ExtractedText)
}

func TestSQLite_ResetCitation(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	page := seedPage(t, s, "topic-1")

	_, err := s.InsertCitations(ctx, page.ID, []model.Citation{{URL: "https://a.example/x"}})
	require.NoError(t, err)

	c, err := s.ClaimNextCitation(ctx, "topic-1")
	require.NoError(t, err)
	require.NoError(t, s.MarkVerificationFailed(ctx, c.ID, "timeout"))

	require.NoError(t, s.ResetCitation(ctx, c.ID))
	got, err := s.GetCitation(ctx, c.ID)
	require.NoError(t, err)
	state, err := model.StateOf(got)
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, state)
	assert.Nil(t, got.ErrorMessage)
}

func TestSQLite_RequeueStuckCitations(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	page := seedPage(t, s, "topic-1")

	_, err := s.InsertCitations(ctx, page.ID, []model.Citation{{URL: "https://a.example/x"}})
	require.NoError(t, err)

	c, err := s.ClaimNextCitation(ctx, "topic-1")
	require.NoError(t, err)
	require.NotNil(t, c)

	// Backdate the claim so it looks abandoned.
	_, err = s.db.Exec(`UPDATE citations SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), c.ID)
	require.NoError(t, err)

	n, err := s.RequeueStuckCitations(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := s.ClaimNextCitation(ctx, "topic-1")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, c.ID, again.ID)
}

func TestSQLite_RemoveInternalCitations(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	page := seedPage(t, s, "topic-1")

	_, err := s.InsertCitations(ctx, page.ID, []model.Citation{
		{URL: "https://keep.example/"},
		{URL: "https://en.example.org/wiki/Internal"},
	})
	require.NoError(t, err)

	n, err := s.RemoveInternalCitations(ctx, page.ID, []string{"https://en.example.org/wiki/Internal"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	counts, err := s.CitationStateCounts(ctx, "topic-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"pending": 1}, counts)
}

func TestSQLite_PersistContent_DedupReuse(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	c := &model.Content{
		TopicID:      "topic-1",
		CanonicalURL: "https://example.com/article",
		SourceURL:    "https://www.example.com/article?utm_source=x",
		Title:        "Article",
		Text:         "body",
		ContentHash:  "hash-1",
		Provenance:   []model.ProvenanceEntry{{PageID: 1, CitationID: 2, SourceURL: "https://en.example.org/wiki/A", FoundAt: time.Now().UTC()}},
	}

	id1, created, err := s.PersistContent(ctx, c)
	require.NoError(t, err)
	assert.True(t, created)

	id2, created, err := s.PersistContent(ctx, &model.Content{
		TopicID:      "topic-1",
		CanonicalURL: "https://example.com/article",
		Text:         "different worker, same canonical url",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id1, id2)

	// Different topic: persists independently.
	_, created, err = s.PersistContent(ctx, &model.Content{
		TopicID:      "topic-2",
		CanonicalURL: "https://example.com/article",
		Text:         "body",
	})
	require.NoError(t, err)
	assert.True(t, created)

	got, err := s.GetContent(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "Article", got.Title)
	require.Len(t, got.Provenance, 1)
	assert.Equal(t, int64(2), got.Provenance[0].CitationID)
}

func TestSQLite_Hero_ClaimCompleteFail(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	id, _, err := s.PersistContent(ctx, &model.Content{TopicID: "t", CanonicalURL: "https://e.com/a", Text: "x"})
	require.NoError(t, err)
	require.NoError(t, s.CreateHeroTask(ctx, id, "Title", "Excerpt"))
	// Idempotent re-create.
	require.NoError(t, s.CreateHeroTask(ctx, id, "Other", "Other"))

	h, err := s.ClaimHeroTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, model.HeroEnriching, h.Status)
	assert.Equal(t, "Title", h.Title)

	// Nothing else pending.
	none, err := s.ClaimHeroTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, s.CompleteHero(ctx, id, "https://img.example/x.png", model.HeroSourceWikimedia))
	counts, err := s.HeroStatusCounts(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ready": 1}, counts)

	require.NoError(t, s.ResetHero(ctx, id))
	h2, err := s.ClaimHeroTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, h2)
	require.NoError(t, s.FailHero(ctx, id, "generator unreachable"))
	counts, err = s.HeroStatusCounts(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"failed": 1}, counts)
}

func TestSQLite_FeedQueue_Lifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	var ids []string
	for _, u := range []string{"https://e.com/a", "https://e.com/b", "https://e.com/c"} {
		id, _, err := s.PersistContent(ctx, &model.Content{TopicID: "t", CanonicalURL: u, Text: "x", ContentHash: "h"})
		require.NoError(t, err)
		require.NoError(t, s.EnqueueFeedItem(ctx, id, "t", "h"))
		ids = append(ids, id)
	}
	// Idempotent re-enqueue.
	require.NoError(t, s.EnqueueFeedItem(ctx, ids[0], "t", "h"))

	topics, err := s.PendingFeedTopics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, topics)

	batch, err := s.PickFeedBatch(ctx, "t", 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, model.FeedProcessing, batch[0].Status)
	assert.NotNil(t, batch[0].PickedAt)

	require.NoError(t, s.CompleteFeedItems(ctx, []int64{batch[0].ID}))
	require.NoError(t, s.FailFeedItems(ctx, []int64{batch[1].ID}))

	counts, err := s.FeedStatusCounts(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"DONE": 1, "PENDING": 2}, counts)

	// The failed item returns with attempts incremented.
	batch2, err := s.PickFeedBatch(ctx, "t", 10)
	require.NoError(t, err)
	require.Len(t, batch2, 2)
	for _, it := range batch2 {
		if it.ID == batch[1].ID {
			assert.Equal(t, 1, it.Attempts)
		}
	}
}

func TestSQLite_RequeueStuckFeedItems(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	id, _, err := s.PersistContent(ctx, &model.Content{TopicID: "t", CanonicalURL: "https://e.com/a", Text: "x", ContentHash: "h"})
	require.NoError(t, err)
	require.NoError(t, s.EnqueueFeedItem(ctx, id, "t", "h"))

	batch, err := s.PickFeedBatch(ctx, "t", 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	_, err = s.db.Exec(`UPDATE feed_queue SET picked_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), batch[0].ID)
	require.NoError(t, err)

	n, err := s.RequeueStuckFeedItems(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Exactly one attempt increment per pass.
	again, err := s.PickFeedBatch(ctx, "t", 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 1, again[0].Attempts)
}

func TestSQLite_PageCompletionRepair_BothDirections(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	page := seedPage(t, s, "topic-1")

	_, err := s.InsertCitations(ctx, page.ID, []model.Citation{{URL: "https://a.example/x"}})
	require.NoError(t, err)
	require.NoError(t, s.MarkPageExtracted(ctx, page.ID, 1))

	// Mis-marked completed while a citation still has work.
	require.NoError(t, s.UpdatePageStatus(ctx, page.ID, model.PageStatusCompleted))
	ids, err := s.PagesWithUnfinishedWork(ctx, "topic-1")
	require.NoError(t, err)
	assert.Equal(t, []int64{page.ID}, ids)
	require.NoError(t, s.ReopenPage(ctx, page.ID))

	// Finish the citation; the page can then be closed.
	c, err := s.ClaimNextCitation(ctx, "topic-1")
	require.NoError(t, err)
	require.NoError(t, s.MarkVerified(ctx, c.ID))
	require.NoError(t, s.MarkScanned(ctx, c.ID, "text"))
	require.NoError(t, s.DecideCitation(ctx, c.ID, model.DecisionDenied, nil))

	n, err := s.CompleteFinishedPages(ctx, "topic-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ids, err = s.PagesWithUnfinishedWork(ctx, "topic-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSQLite_OrphanedSavedCitations(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	page := seedPage(t, s, "topic-1")

	_, err := s.InsertCitations(ctx, page.ID, []model.Citation{{URL: "https://a.example/x"}})
	require.NoError(t, err)
	c, err := s.ClaimNextCitation(ctx, "topic-1")
	require.NoError(t, err)
	require.NoError(t, s.MarkVerified(ctx, c.ID))
	require.NoError(t, s.MarkScanned(ctx, c.ID, "text"))
	require.NoError(t, s.DecideCitation(ctx, c.ID, model.DecisionSaved, nil))

	orphans, err := s.OrphanedSavedCitations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, c.ID, orphans[0].ID)

	contentID := "content-1"
	require.NoError(t, s.DecideCitation(ctx, c.ID, model.DecisionSaved, &contentID))
	orphans, err = s.OrphanedSavedCitations(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestSQLite_ContentsMissingHeroAndFeed(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	id, _, err := s.PersistContent(ctx, &model.Content{TopicID: "t", CanonicalURL: "https://e.com/a", Text: "x", ContentHash: "h"})
	require.NoError(t, err)

	missingHero, err := s.ContentsMissingHero(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missingHero, 1)
	assert.Equal(t, id, missingHero[0].ID)

	missingFeed, err := s.ContentsMissingFeed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missingFeed, 1)

	require.NoError(t, s.CreateHeroTask(ctx, id, "T", "E"))
	require.NoError(t, s.EnqueueFeedItem(ctx, id, "t", "h"))

	missingHero, err = s.ContentsMissingHero(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, missingHero)
	missingFeed, err = s.ContentsMissingFeed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, missingFeed)
}
