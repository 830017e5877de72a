// Package pipeline runs the processing worker: claim a citation, verify
// the URL, fetch and gate its content, score it, decide, and persist.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ddoubleg123/carrot-sub001/internal/canonical"
	"github.com/ddoubleg123/carrot-sub001/internal/config"
	"github.com/ddoubleg123/carrot-sub001/internal/metrics"
	"github.com/ddoubleg123/carrot-sub001/internal/model"
	"github.com/ddoubleg123/carrot-sub001/internal/scoring"
	"github.com/ddoubleg123/carrot-sub001/internal/scrape"
	"github.com/ddoubleg123/carrot-sub001/internal/store"
)

// Worker processes claimed citations for one topic. Multiple workers may
// run against the same topic; the store's atomic claim keeps them from
// colliding.
type Worker struct {
	store    store.Store
	verifier *Verifier
	chain    *scrape.Chain
	gate     *scrape.Gate
	canon    *canonical.Canonicalizer
	scorer   scoring.Scorer
	cfg      config.DiscoveryConfig
}

// NewWorker creates a processing worker.
func NewWorker(
	st store.Store,
	verifier *Verifier,
	chain *scrape.Chain,
	gate *scrape.Gate,
	canon *canonical.Canonicalizer,
	scorer scoring.Scorer,
	cfg config.DiscoveryConfig,
) *Worker {
	return &Worker{
		store:    st,
		verifier: verifier,
		chain:    chain,
		gate:     gate,
		canon:    canon,
		scorer:   scorer,
		cfg:      cfg,
	}
}

// Run claims and processes citations until the run leaves the live state
// or the context is cancelled. Storage errors are fatal: the worker
// surfaces them and lets the supervisor decide.
func (w *Worker) Run(ctx context.Context, runID, topicID string) error {
	log := zap.L().With(zap.String("run_id", runID), zap.String("topic_id", topicID))
	log.Info("pipeline: worker started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		status, err := w.store.GetRunStatus(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "pipeline: get run status")
		}
		if !status.Active() {
			log.Info("pipeline: run no longer live, worker exiting", zap.String("status", string(status)))
			return nil
		}

		cit, err := w.store.ClaimNextCitation(ctx, topicID)
		if err != nil {
			return eris.Wrap(err, "pipeline: claim citation")
		}
		if cit == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pollDelay()):
			}
			continue
		}

		if err := w.processOne(ctx, topicID, cit); err != nil {
			return err
		}
	}
}

// pollDelay returns the poll interval with jitter applied, so a fleet of
// workers does not thundering-herd the claim query.
func (w *Worker) pollDelay() time.Duration {
	base := w.cfg.PollInterval()
	if base <= 0 {
		base = 5 * time.Second
	}
	frac := w.cfg.PollJitterFrac
	if frac <= 0 {
		return base
	}
	jitter := time.Duration((rand.Float64()*2 - 1) * frac * float64(base))
	return base + jitter
}

// processOne drives a claimed citation through the state machine. A
// failure at any step is recorded on the row and does not stop the loop;
// only storage errors propagate. Panics from a single citation are
// contained the same way.
func (w *Worker) processOne(ctx context.Context, topicID string, cit *model.Citation) (err error) {
	log := zap.L().With(zap.Int64("citation_id", cit.ID), zap.String("url", cit.URL))

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline: panic processing citation", zap.Any("panic", r))
			err = w.store.SetCitationError(ctx, cit.ID, fmt.Sprintf("panic: %v", r))
		}
	}()

	// Verify reachability unless a previous pass already did.
	if cit.VerificationStatus == model.VerificationPending {
		if verr := w.verifier.Verify(ctx, cit.URL); verr != nil {
			log.Info("pipeline: verification failed", zap.String("reason", verr.Error()))
			metrics.ObserveCitation(topicID, "verify_failed")
			return w.store.MarkVerificationFailed(ctx, cit.ID, verr.Error())
		}
		if err := w.store.MarkVerified(ctx, cit.ID); err != nil {
			return err
		}
	}

	// Fetch and reduce to plaintext.
	res, serr := w.chain.Scrape(ctx, cit.URL)
	if serr != nil {
		log.Info("pipeline: scrape failed", zap.String("reason", serr.Error()))
		metrics.ObserveCitation(topicID, "scan_denied")
		return w.store.MarkScanDenied(ctx, cit.ID, serr.Error())
	}

	// Readability gate: catalog and metadata shells end here.
	if gerr := w.gate.Check(res.Text); gerr != nil {
		log.Info("pipeline: readability denied", zap.String("reason", gerr.Error()))
		metrics.ObserveCitation(topicID, "scan_denied")
		return w.store.MarkScanDenied(ctx, cit.ID, gerr.Error())
	}

	if err := w.store.MarkScanned(ctx, cit.ID, res.Text); err != nil {
		return err
	}

	// Score. A scoring failure leaves the citation scanned with no
	// decision; the error is recorded and the worker moves on.
	title := citationTitle(cit, res)
	score, scoreErr := w.scorer.Score(ctx, scoring.Request{
		TopicName: topicID,
		Title:     title,
		Text:      res.Text,
	})
	if scoreErr != nil {
		log.Warn("pipeline: scoring failed", zap.Error(scoreErr))
		metrics.ObserveCitation(topicID, "error")
		return w.store.SetCitationError(ctx, cit.ID, scoreErr.Error())
	}

	if err := w.store.SetCitationScore(ctx, cit.ID, score); err != nil {
		return err
	}

	// Decide: the save boundary is closed on the save side.
	if score >= w.cfg.SaveThreshold {
		return w.persistSave(ctx, topicID, cit, res, title, score)
	}

	log.Info("pipeline: citation denied", zap.Float64("score", score))
	metrics.ObserveCitation(topicID, "denied")
	return w.store.DecideCitation(ctx, cit.ID, model.DecisionDenied, nil)
}

// citationTitle prefers the anchor text the citation was found under,
// falling back to the fetched page's own title.
func citationTitle(cit *model.Citation, res *scrape.Result) string {
	if cit.Title != nil && *cit.Title != "" {
		return *cit.Title
	}
	return res.Title
}
