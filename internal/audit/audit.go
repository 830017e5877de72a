// Package audit runs the periodic self-repair job. Four independent,
// idempotent passes fix drift left behind by crashed workers and failed
// fan-out: stuck feed items, misclosed pages, orphaned saved citations,
// and contents missing their downstream tasks.
package audit

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ddoubleg123/carrot-sub001/internal/canonical"
	"github.com/ddoubleg123/carrot-sub001/internal/config"
	"github.com/ddoubleg123/carrot-sub001/internal/metrics"
	"github.com/ddoubleg123/carrot-sub001/internal/model"
	"github.com/ddoubleg123/carrot-sub001/internal/store"
)

const orphanBatchLimit = 100

// Report counts the repairs applied by one audit cycle.
type Report struct {
	StuckFeedItems   int
	ReopenedPages    int
	CompletedPages   int
	StuckCitations   int
	OrphansRepaired  int
	HeroesBackfilled int
	FeedsBackfilled  int
}

// Total sums all repairs in the report.
func (r Report) Total() int {
	return r.StuckFeedItems + r.ReopenedPages + r.CompletedPages +
		r.StuckCitations + r.OrphansRepaired + r.HeroesBackfilled + r.FeedsBackfilled
}

// Auditor applies the repair passes against one topic's data.
type Auditor struct {
	store store.Store
	canon *canonical.Canonicalizer
	cfg   config.AuditConfig
}

// New creates an Auditor.
func New(st store.Store, canon *canonical.Canonicalizer, cfg config.AuditConfig) *Auditor {
	return &Auditor{store: st, canon: canon, cfg: cfg}
}

// Run executes audit cycles on a fixed interval until ctx is cancelled.
func (a *Auditor) Run(ctx context.Context, topicID string) error {
	interval := time.Duration(a.cfg.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := a.RunOnce(ctx, topicID)
			if err != nil {
				return err
			}
			if report.Total() > 0 {
				zap.L().Info("audit: repairs applied",
					zap.String("topic_id", topicID),
					zap.Int("stuck_feed", report.StuckFeedItems),
					zap.Int("reopened_pages", report.ReopenedPages),
					zap.Int("completed_pages", report.CompletedPages),
					zap.Int("stuck_citations", report.StuckCitations),
					zap.Int("orphans", report.OrphansRepaired),
					zap.Int("heroes_backfilled", report.HeroesBackfilled),
					zap.Int("feeds_backfilled", report.FeedsBackfilled))
			}
		}
	}
}

// RunOnce applies all four passes and reports what was repaired.
func (a *Auditor) RunOnce(ctx context.Context, topicID string) (Report, error) {
	var report Report

	stuckTimeout := time.Duration(a.cfg.StuckTimeoutSecs) * time.Second
	if stuckTimeout <= 0 {
		stuckTimeout = 10 * time.Minute
	}

	// Pass a: feed items abandoned mid-delivery.
	n, err := a.store.RequeueStuckFeedItems(ctx, stuckTimeout)
	if err != nil {
		return report, eris.Wrap(err, "audit: requeue stuck feed items")
	}
	report.StuckFeedItems = n
	metrics.ObserveAuditRepairs("stuck_feed", n)

	// Pass b: page bookkeeping that drifted from the citations underneath.
	pages, err := a.store.PagesWithUnfinishedWork(ctx, topicID)
	if err != nil {
		return report, eris.Wrap(err, "audit: find misclosed pages")
	}
	for _, pageID := range pages {
		if err := a.store.ReopenPage(ctx, pageID); err != nil {
			return report, eris.Wrapf(err, "audit: reopen page %d", pageID)
		}
	}
	report.ReopenedPages = len(pages)
	metrics.ObserveAuditRepairs("reopened_pages", len(pages))

	completed, err := a.store.CompleteFinishedPages(ctx, topicID)
	if err != nil {
		return report, eris.Wrap(err, "audit: complete finished pages")
	}
	report.CompletedPages = completed

	stuck, err := a.store.RequeueStuckCitations(ctx, stuckTimeout)
	if err != nil {
		return report, eris.Wrap(err, "audit: requeue stuck citations")
	}
	report.StuckCitations = stuck
	metrics.ObserveAuditRepairs("stuck_citations", stuck)

	// Pass c: saved decisions whose persist step never landed.
	repaired, err := a.repairOrphans(ctx, topicID)
	if err != nil {
		return report, err
	}
	report.OrphansRepaired = repaired
	metrics.ObserveAuditRepairs("orphaned_citations", repaired)

	// Pass d: contents missing their downstream tasks.
	heroes, feeds, err := a.backfillFanOut(ctx)
	if err != nil {
		return report, err
	}
	report.HeroesBackfilled = heroes
	report.FeedsBackfilled = feeds
	metrics.ObserveAuditRepairs("missing_heroes", heroes)
	metrics.ObserveAuditRepairs("missing_feed_items", feeds)

	return report, nil
}

// repairOrphans re-drives the persist step for citations that recorded a
// saved decision but never got their content id attached. The scanned
// text is still on the row, so no refetch is needed; persisting is
// conflict-as-reuse, making the repair idempotent.
func (a *Auditor) repairOrphans(ctx context.Context, topicID string) (int, error) {
	orphans, err := a.store.OrphanedSavedCitations(ctx, orphanBatchLimit)
	if err != nil {
		return 0, eris.Wrap(err, "audit: find orphaned citations")
	}

	repaired := 0
	for i := range orphans {
		cit := &orphans[i]
		if cit.ExtractedText == nil || *cit.ExtractedText == "" {
			zap.L().Warn("audit: orphaned citation has no scanned text, skipping",
				zap.Int64("citation_id", cit.ID))
			continue
		}

		canonRes, err := a.canon.Canonicalize(ctx, cit.URL)
		if err != nil {
			zap.L().Warn("audit: canonicalize failed for orphan",
				zap.Int64("citation_id", cit.ID), zap.Error(err))
			continue
		}

		text := *cit.ExtractedText
		title := ""
		if cit.Title != nil {
			title = *cit.Title
		}
		score := 0.0
		if cit.AIPriorityScore != nil {
			score = *cit.AIPriorityScore
		}

		hash := canonical.Hash(text)
		contentID, _, err := a.store.PersistContent(ctx, &model.Content{
			TopicID:        topicID,
			CanonicalURL:   canonRes.CanonicalURL,
			SourceURL:      cit.URL,
			Title:          title,
			Domain:         canonRes.FinalDomain,
			Text:           text,
			ContentHash:    hash,
			RelevanceScore: score,
			Provenance: []model.ProvenanceEntry{{
				PageID:     cit.PageID,
				CitationID: cit.ID,
				SourceURL:  cit.URL,
				Section:    cit.SectionContext,
				FoundAt:    time.Now().UTC(),
			}},
		})
		if err != nil {
			return repaired, eris.Wrapf(err, "audit: persist orphan %d", cit.ID)
		}

		if err := a.store.DecideCitation(ctx, cit.ID, model.DecisionSaved, &contentID); err != nil {
			return repaired, eris.Wrapf(err, "audit: attach content to orphan %d", cit.ID)
		}
		if err := a.store.CreateHeroTask(ctx, contentID, title, excerptOf(text)); err != nil {
			return repaired, eris.Wrapf(err, "audit: hero task for orphan %d", cit.ID)
		}
		if err := a.store.EnqueueFeedItem(ctx, contentID, topicID, hash); err != nil {
			return repaired, eris.Wrapf(err, "audit: feed item for orphan %d", cit.ID)
		}
		repaired++
	}
	return repaired, nil
}

// backfillFanOut creates the hero task or feed item for any content that
// is missing one.
func (a *Auditor) backfillFanOut(ctx context.Context) (int, int, error) {
	missingHero, err := a.store.ContentsMissingHero(ctx, orphanBatchLimit)
	if err != nil {
		return 0, 0, eris.Wrap(err, "audit: find contents missing hero")
	}
	for _, c := range missingHero {
		if err := a.store.CreateHeroTask(ctx, c.ID, c.Title, excerptOf(c.Text)); err != nil {
			return 0, 0, eris.Wrapf(err, "audit: backfill hero for %s", c.ID)
		}
	}

	missingFeed, err := a.store.ContentsMissingFeed(ctx, orphanBatchLimit)
	if err != nil {
		return len(missingHero), 0, eris.Wrap(err, "audit: find contents missing feed")
	}
	for _, c := range missingFeed {
		if err := a.store.EnqueueFeedItem(ctx, c.ID, c.TopicID, c.ContentHash); err != nil {
			return len(missingHero), 0, eris.Wrapf(err, "audit: backfill feed for %s", c.ID)
		}
	}

	return len(missingHero), len(missingFeed), nil
}

func excerptOf(text string) string {
	const max = 200
	if len(text) > max {
		return text[:max]
	}
	return text
}
