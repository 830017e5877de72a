// Package engine owns the discovery run lifecycle: it seeds the frontier,
// launches the worker fleet for a run, publishes metrics snapshots, and
// detects when a run has drained.
package engine

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ddoubleg123/carrot-sub001/internal/audit"
	"github.com/ddoubleg123/carrot-sub001/internal/canonical"
	"github.com/ddoubleg123/carrot-sub001/internal/config"
	"github.com/ddoubleg123/carrot-sub001/internal/extract"
	"github.com/ddoubleg123/carrot-sub001/internal/feed"
	"github.com/ddoubleg123/carrot-sub001/internal/frontier"
	"github.com/ddoubleg123/carrot-sub001/internal/hero"
	"github.com/ddoubleg123/carrot-sub001/internal/metrics"
	"github.com/ddoubleg123/carrot-sub001/internal/model"
	"github.com/ddoubleg123/carrot-sub001/internal/pipeline"
	"github.com/ddoubleg123/carrot-sub001/internal/scrape"
	"github.com/ddoubleg123/carrot-sub001/internal/store"
)

const maxPageBody = 4 << 20

// snapshotInterval paces the watch loop; a variable so tests can tighten it.
var snapshotInterval = 10 * time.Second

// Engine wires the stores and workers together and drives runs.
type Engine struct {
	store     store.Store
	frontier  frontier.Frontier
	extractor *extract.Extractor
	pipeline  *pipeline.Worker
	hero      *hero.Worker
	feed      *feed.Worker
	auditor   *audit.Auditor
	client    *http.Client
	userAgent string
	cfg       *config.Config

	mu   sync.Mutex
	runs map[string]context.CancelFunc
}

// New creates an Engine from its assembled parts.
func New(
	st store.Store,
	fr frontier.Frontier,
	ex *extract.Extractor,
	pw *pipeline.Worker,
	hw *hero.Worker,
	fw *feed.Worker,
	au *audit.Auditor,
	cfg *config.Config,
) *Engine {
	timeout := time.Duration(cfg.Scrape.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Engine{
		store:     st,
		frontier:  fr,
		extractor: ex,
		pipeline:  pw,
		hero:      hw,
		feed:      fw,
		auditor:   au,
		client:    &http.Client{Timeout: timeout},
		userAgent: cfg.Verify.UserAgent,
		cfg:       cfg,
		runs:      make(map[string]context.CancelFunc),
	}
}

// Seed normalizes and enqueues candidate page URLs for a topic. Already
// queued candidates are skipped; the count of newly added ones is
// returned.
func (e *Engine) Seed(ctx context.Context, topicID string, urls []string) (int, error) {
	added := 0
	for _, raw := range urls {
		res, err := canonical.Normalize(raw)
		if err != nil {
			zap.L().Warn("engine: skipping malformed seed url",
				zap.String("url", raw), zap.Error(err))
			continue
		}
		ok, err := e.frontier.Enqueue(ctx, topicID, frontier.Candidate{
			URL:          raw,
			CanonicalURL: res.CanonicalURL,
			Priority:     5,
		})
		if err != nil {
			return added, eris.Wrapf(err, "engine: enqueue seed %s", raw)
		}
		if ok {
			added++
		}
	}
	zap.L().Info("engine: frontier seeded",
		zap.String("topic_id", topicID),
		zap.Int("urls", len(urls)),
		zap.Int("added", added))
	return added, nil
}

// StartRun creates a run, flips it live, and launches its worker fleet in
// the background. The run keeps going until it drains, errors, or is
// stopped.
func (e *Engine) StartRun(ctx context.Context, topicID string) (*model.Run, error) {
	run, err := e.store.CreateRun(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if err := e.store.UpdateRunStatus(ctx, run.ID, model.RunStatusLive); err != nil {
		return nil, err
	}
	run.Status = model.RunStatusLive

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Lock()
	e.runs[run.ID] = cancel
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.runs, run.ID)
			e.mu.Unlock()
			cancel()
		}()
		if err := e.Execute(runCtx, run.ID, topicID); err != nil {
			zap.L().Error("engine: run failed",
				zap.String("run_id", run.ID), zap.Error(err))
		}
	}()

	return run, nil
}

// StopRun marks the run stopped. Workers notice on their next status
// check; in-flight units finish first.
func (e *Engine) StopRun(ctx context.Context, runID string) error {
	if err := e.store.UpdateRunStatus(ctx, runID, model.RunStatusStopped); err != nil {
		return err
	}
	zap.L().Info("engine: run stopped", zap.String("run_id", runID))
	return nil
}

// ResetCitation is the operator repair: a failed citation goes back to
// the initial pending state and becomes claimable again.
func (e *Engine) ResetCitation(ctx context.Context, id int64) error {
	return e.store.ResetCitation(ctx, id)
}

// Execute runs a run's worker fleet to completion: an extraction loop,
// N processing workers, the hero pool, the feed poller, the audit
// ticker, and a status watcher that snapshots metrics and detects drain.
func (e *Engine) Execute(ctx context.Context, runID, topicID string) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return e.watch(gctx, cancel, runID, topicID) })
	g.Go(func() error { return e.extractLoop(gctx, runID, topicID) })

	workers := e.cfg.Discovery.Workers
	if workers <= 0 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			metrics.IncProcessingWorkers()
			defer metrics.DecProcessingWorkers()
			return e.pipeline.Run(gctx, runID, topicID)
		})
	}

	g.Go(func() error { return e.hero.Run(gctx) })
	g.Go(func() error { return e.feed.Run(gctx) })
	g.Go(func() error { return e.auditor.Run(gctx, topicID) })

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		// Storage outage or similar: record it on the run so the
		// operator sees why the fleet died.
		_ = e.store.SetRunError(context.WithoutCancel(ctx), runID, err.Error())
		return eris.Wrapf(err, "engine: run %s", runID)
	}

	zap.L().Info("engine: run finished", zap.String("run_id", runID))
	return nil
}

// watch polls the run status, publishes metrics snapshots, and completes
// the run once everything has drained. Cancelling the shared context is
// how the rest of the fleet learns the run is over.
func (e *Engine) watch(ctx context.Context, cancel context.CancelFunc, runID, topicID string) error {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		status, err := e.store.GetRunStatus(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "engine: watch run status")
		}
		if !status.Active() {
			cancel()
			return nil
		}

		snap, err := e.Snapshot(ctx, topicID)
		if err != nil {
			zap.L().Warn("engine: snapshot failed", zap.Error(err))
			continue
		}
		if err := e.store.UpdateRunMetrics(ctx, runID, snap); err != nil {
			return eris.Wrap(err, "engine: update run metrics")
		}
		metrics.SetSnapshot(topicID,
			snap.PagesByStatus, snap.CitationsByState,
			snap.HeroesByStatus, snap.FeedByStatus, snap.ContentSaved)

		if drained(snap) {
			completed, err := e.store.CompleteRun(ctx, runID)
			if err != nil {
				return eris.Wrap(err, "engine: complete run")
			}
			if completed {
				zap.L().Info("engine: run drained",
					zap.String("run_id", runID),
					zap.Int("contents", snap.ContentSaved))
			} else {
				// The run already left live, via stop or error. That
				// terminal status wins; do not overwrite it.
				zap.L().Info("engine: run drained after leaving live",
					zap.String("run_id", runID))
			}
			cancel()
			return nil
		}
	}
}

// drained reports whether no unit of work remains anywhere in the run:
// frontier empty, every page closed, no claimable citation, and both
// downstream queues idle.
func drained(snap *model.MetricsSnapshot) bool {
	if snap.FrontierSize > 0 {
		return false
	}
	pages := snap.PagesByStatus
	// A run that has not registered a single page has not started
	// working yet; only the operator ends it.
	if len(pages) == 0 {
		return false
	}
	if pages[string(model.PageStatusPending)] > 0 || pages[string(model.PageStatusScanning)] > 0 {
		return false
	}
	cits := snap.CitationsByState
	for _, state := range []model.CitationState{model.StatePending, model.StateVerified, model.StateScanning} {
		if cits[string(state)] > 0 {
			return false
		}
	}
	heroes := snap.HeroesByStatus
	if heroes[string(model.HeroPending)] > 0 || heroes[string(model.HeroEnriching)] > 0 {
		return false
	}
	feedItems := snap.FeedByStatus
	if feedItems[string(model.FeedPending)] > 0 || feedItems[string(model.FeedProcessing)] > 0 {
		return false
	}
	return true
}

// Snapshot collects the per-topic counts that make up a run's metrics.
func (e *Engine) Snapshot(ctx context.Context, topicID string) (*model.MetricsSnapshot, error) {
	size, err := e.frontier.Size(ctx, topicID)
	if err != nil {
		return nil, eris.Wrap(err, "engine: frontier size")
	}
	pages, err := e.store.PageStatusCounts(ctx, topicID)
	if err != nil {
		return nil, err
	}
	cits, err := e.store.CitationStateCounts(ctx, topicID)
	if err != nil {
		return nil, err
	}
	contents, err := e.store.ContentCount(ctx, topicID)
	if err != nil {
		return nil, err
	}
	heroes, err := e.store.HeroStatusCounts(ctx, topicID)
	if err != nil {
		return nil, err
	}
	feedCounts, err := e.store.FeedStatusCounts(ctx, topicID)
	if err != nil {
		return nil, err
	}

	return &model.MetricsSnapshot{
		FrontierSize:     size,
		PagesByStatus:    pages,
		CitationsByState: cits,
		ContentSaved:     contents,
		HeroesByStatus:   heroes,
		FeedByStatus:     feedCounts,
		TakenAt:          time.Now().UTC(),
	}, nil
}

// extractLoop pops frontier candidates, registers them as monitored
// pages, fetches their HTML, and syncs the citations found. Fetch
// failures mark the page errored and the loop moves on; store failures
// are fatal.
func (e *Engine) extractLoop(ctx context.Context, runID, topicID string) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		status, err := e.store.GetRunStatus(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "engine: extract loop run status")
		}
		if !status.Active() {
			return nil
		}

		cand, err := e.frontier.Pop(ctx, topicID)
		if err != nil {
			return eris.Wrap(err, "engine: frontier pop")
		}
		if cand == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(e.extractDelay()):
			}
			continue
		}

		page, created, err := e.store.RegisterPage(ctx, topicID, cand.URL, cand.Title, cand.Priority)
		if err != nil {
			return eris.Wrapf(err, "engine: register page %s", cand.URL)
		}
		if !created && page.CitationsExtracted {
			continue
		}

		html, err := e.fetchPage(ctx, page.URL)
		if err != nil {
			zap.L().Warn("engine: page fetch failed",
				zap.String("url", page.URL), zap.Error(err))
			if err := e.store.UpdatePageStatus(ctx, page.ID, model.PageStatusError); err != nil {
				return err
			}
			continue
		}

		if _, err := e.extractor.SyncPage(ctx, e.store, page, html); err != nil {
			return eris.Wrapf(err, "engine: sync page %s", page.URL)
		}
	}
}

func (e *Engine) extractDelay() time.Duration {
	base := e.cfg.Discovery.PollInterval()
	if base <= 0 {
		base = 5 * time.Second
	}
	jitter := time.Duration(float64(base) * 0.2 * (rand.Float64()*2 - 1))
	return base + jitter
}

// fetchPage downloads the raw HTML of a monitored page. The extractor
// needs markup, so this bypasses the plaintext scrape chain.
func (e *Engine) fetchPage(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", eris.Wrap(err, "engine: create page request")
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", eris.Wrapf(err, "engine: fetch page %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", eris.Errorf("engine: page fetch status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBody))
	if err != nil {
		return "", eris.Wrap(err, "engine: read page body")
	}

	if blocked, kind := scrape.DetectBlock(resp, body); blocked {
		return "", eris.Errorf("engine: page fetch blocked (%s)", kind)
	}

	return string(body), nil
}
