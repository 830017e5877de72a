package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/ddoubleg123/carrot-sub001/internal/audit"
	"github.com/ddoubleg123/carrot-sub001/internal/canonical"
	"github.com/ddoubleg123/carrot-sub001/internal/engine"
	"github.com/ddoubleg123/carrot-sub001/internal/extract"
	"github.com/ddoubleg123/carrot-sub001/internal/feed"
	"github.com/ddoubleg123/carrot-sub001/internal/frontier"
	"github.com/ddoubleg123/carrot-sub001/internal/hero"
	"github.com/ddoubleg123/carrot-sub001/internal/pipeline"
	"github.com/ddoubleg123/carrot-sub001/internal/resilience"
	"github.com/ddoubleg123/carrot-sub001/internal/scoring"
	"github.com/ddoubleg123/carrot-sub001/internal/scrape"
	"github.com/ddoubleg123/carrot-sub001/internal/store"
	"github.com/ddoubleg123/carrot-sub001/pkg/anthropic"
	"github.com/ddoubleg123/carrot-sub001/pkg/firecrawl"
	"github.com/ddoubleg123/carrot-sub001/pkg/imagegen"
	"github.com/ddoubleg123/carrot-sub001/pkg/jina"
	"github.com/ddoubleg123/carrot-sub001/pkg/memoryfeed"
	"github.com/ddoubleg123/carrot-sub001/pkg/wikimedia"
)

// env holds the assembled service graph shared by the subcommands.
type env struct {
	store    store.Store
	frontier frontier.Frontier
	engine   *engine.Engine
}

// Close releases the store connection.
func (e *env) Close() {
	_ = e.store.Close()
}

// initEngine builds the store, frontier, and engine from configuration.
func initEngine(ctx context.Context) (*env, error) {
	st, fr, err := buildStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "cmd: migrate store")
	}

	canon := canonical.New(cfg.Canonical)
	extractor := extract.New(cfg.Extract.InternalDomains)

	scrapers := []scrape.Scraper{
		scrape.NewLocalScraper(cfg.Scrape, cfg.Verify.UserAgent),
	}
	if cfg.Scrape.FirecrawlKey != "" {
		scrapers = append(scrapers, scrape.NewFirecrawlScraper(firecrawl.NewClient(cfg.Scrape.FirecrawlKey)))
	}
	if cfg.Scrape.JinaKey != "" {
		scrapers = append(scrapers, scrape.NewJinaScraper(jina.NewClient(cfg.Scrape.JinaKey)))
	}
	chain := scrape.NewChain(scrape.FromExtensions(cfg.Verify.BlockedExts), scrapers...)
	if cfg.Discovery.RatePerSecond > 0 {
		chain = chain.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Discovery.RatePerSecond), 1))
	}

	scorer := scoring.New(
		anthropic.NewClient(cfg.Scoring.Key),
		cfg.Scoring,
		resilience.FromConfig(cfg.Retry),
	)

	pipelineWorker := pipeline.NewWorker(
		st,
		pipeline.NewVerifier(cfg.Verify),
		chain,
		scrape.NewGate(cfg.Scrape),
		canon,
		scorer,
		cfg.Discovery,
	)

	var wm wikimedia.Client
	if cfg.Hero.WikimediaBaseURL != "" {
		wm = wikimedia.NewClient(cfg.Hero.WikimediaBaseURL)
	}
	var ig imagegen.Client
	if cfg.Hero.ImageGenBaseURL != "" {
		opts := []imagegen.Option{}
		if cfg.Hero.GenTimeoutSecs > 0 {
			opts = append(opts, imagegen.WithTimeout(time.Duration(cfg.Hero.GenTimeoutSecs)*time.Second))
		}
		ig = imagegen.NewClient(cfg.Hero.ImageGenBaseURL, cfg.Hero.ImageGenKey, opts...)
	}
	heroWorker := hero.NewWorker(st, wm, ig, cfg.Hero)

	feedWorker := feed.NewWorker(
		st,
		memoryfeed.NewClient(cfg.Feed.BaseURL, cfg.Feed.Key),
		cfg.Feed,
	)

	auditor := audit.New(st, canon, cfg.Audit)

	eng := engine.New(st, fr, extractor, pipelineWorker, heroWorker, feedWorker, auditor, cfg)

	return &env{store: st, frontier: fr, engine: eng}, nil
}

// buildStore selects the backend from store.driver. Postgres shares its
// pool with the frontier; SQLite shares the database file.
func buildStore(ctx context.Context) (store.Store, frontier.Frontier, error) {
	switch cfg.Store.Driver {
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, nil, eris.Wrap(err, "cmd: connect postgres")
		}
		return st, frontier.NewPostgres(st.Pool()), nil
	case "sqlite":
		st, err := store.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, eris.Wrap(err, "cmd: open sqlite")
		}
		fr, err := frontier.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			_ = st.Close()
			return nil, nil, eris.Wrap(err, "cmd: open sqlite frontier")
		}
		return st, fr, nil
	default:
		return nil, nil, eris.Errorf("cmd: unknown store driver %q", cfg.Store.Driver)
	}
}
