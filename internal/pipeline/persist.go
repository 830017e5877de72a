package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ddoubleg123/carrot-sub001/internal/canonical"
	"github.com/ddoubleg123/carrot-sub001/internal/metrics"
	"github.com/ddoubleg123/carrot-sub001/internal/model"
	"github.com/ddoubleg123/carrot-sub001/internal/scrape"
)

// excerptLen bounds the summary handed to hero enrichment.
const excerptLen = 200

// persistSave runs the save path for an accepted citation: canonicalize,
// persist the content (conflict means reuse), attach the content id, and
// fan out hero and feed tasks. Fan-out failures are logged, not fatal;
// the self-audit backfills missing tasks.
func (w *Worker) persistSave(ctx context.Context, topicID string, cit *model.Citation, res *scrape.Result, title string, score float64) error {
	log := zap.L().With(zap.Int64("citation_id", cit.ID), zap.String("url", cit.URL))

	canonRes, err := w.canon.Canonicalize(ctx, cit.URL)
	if err != nil {
		log.Warn("pipeline: canonicalize failed", zap.Error(err))
		return w.store.SetCitationError(ctx, cit.ID, err.Error())
	}

	hash := canonical.Hash(res.Text)
	content := &model.Content{
		TopicID:        topicID,
		CanonicalURL:   canonRes.CanonicalURL,
		SourceURL:      cit.URL,
		Title:          title,
		Domain:         canonRes.FinalDomain,
		Text:           res.Text,
		ContentHash:    hash,
		RelevanceScore: score,
		Provenance: []model.ProvenanceEntry{{
			PageID:     cit.PageID,
			CitationID: cit.ID,
			SourceURL:  cit.URL,
			Section:    cit.SectionContext,
			FoundAt:    time.Now().UTC(),
		}},
	}

	contentID, created, err := w.store.PersistContent(ctx, content)
	if err != nil {
		log.Warn("pipeline: persist content failed", zap.Error(err))
		return w.store.SetCitationError(ctx, cit.ID, err.Error())
	}

	if err := w.store.DecideCitation(ctx, cit.ID, model.DecisionSaved, &contentID); err != nil {
		return err
	}
	metrics.ObserveCitation(topicID, "saved")
	if created {
		metrics.ObserveContentCreated(topicID)
	}

	// Fan out. Both calls are idempotent, so re-running the save path for
	// a reused content id is harmless.
	if err := w.store.CreateHeroTask(ctx, contentID, title, excerpt(res.Text)); err != nil {
		log.Warn("pipeline: create hero task failed", zap.String("content_id", contentID), zap.Error(err))
	}
	if err := w.store.EnqueueFeedItem(ctx, contentID, topicID, hash); err != nil {
		log.Warn("pipeline: enqueue feed item failed", zap.String("content_id", contentID), zap.Error(err))
	}

	log.Info("pipeline: citation saved",
		zap.String("content_id", contentID),
		zap.Bool("content_created", created),
		zap.Float64("score", score))
	return nil
}

func excerpt(text string) string {
	if len(text) > excerptLen {
		return text[:excerptLen]
	}
	return text
}
