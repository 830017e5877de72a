// Package hero resolves a representative image for each saved content
// record through a fallback chain: free-license image search, then AI
// generation, then a locally rendered placeholder.
package hero

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ddoubleg123/carrot-sub001/internal/config"
	"github.com/ddoubleg123/carrot-sub001/internal/metrics"
	"github.com/ddoubleg123/carrot-sub001/internal/model"
	"github.com/ddoubleg123/carrot-sub001/internal/store"
	"github.com/ddoubleg123/carrot-sub001/pkg/imagegen"
	"github.com/ddoubleg123/carrot-sub001/pkg/wikimedia"
)

// Worker drains pending hero tasks with a bounded pool. Each task runs
// to completion once claimed; the placeholder step guarantees a terminal
// ready state, so failed is reserved for genuinely unexpected errors.
type Worker struct {
	store     store.Store
	wikimedia wikimedia.Client
	imagegen  imagegen.Client
	cfg       config.HeroConfig
}

// NewWorker creates a hero Worker. Either client may be nil, which skips
// that step of the chain.
func NewWorker(st store.Store, wm wikimedia.Client, ig imagegen.Client, cfg config.HeroConfig) *Worker {
	return &Worker{store: st, wikimedia: wm, imagegen: ig, cfg: cfg}
}

// Run drains hero tasks until ctx is cancelled. It spawns cfg.Workers
// goroutines that each claim, resolve, and record tasks independently.
func (w *Worker) Run(ctx context.Context) error {
	workers := w.cfg.Workers
	if workers <= 0 {
		workers = 5
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return w.loop(ctx)
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		task, err := w.store.ClaimHeroTask(ctx)
		if err != nil {
			return eris.Wrap(err, "hero: claim task")
		}
		if task == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.pollDelay()):
			}
			continue
		}

		if err := w.processOne(ctx, task); err != nil {
			return err
		}
	}
}

func (w *Worker) pollDelay() time.Duration {
	base := time.Duration(w.cfg.PollIntervalSecs) * time.Second
	if base <= 0 {
		base = 5 * time.Second
	}
	jitter := time.Duration(float64(base) * 0.2 * (rand.Float64()*2 - 1))
	return base + jitter
}

// processOne resolves one claimed task. Resolution errors are recorded on
// the row; only store failures bubble up.
func (w *Worker) processOne(ctx context.Context, task *model.Hero) (err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("hero: panic resolving task",
				zap.String("content_id", task.ContentID), zap.Any("panic", r))
			err = w.store.FailHero(ctx, task.ContentID, fmt.Sprintf("panic: %v", r))
		}
	}()

	imageURL, source := w.resolve(ctx, task)
	if err := w.store.CompleteHero(ctx, task.ContentID, imageURL, source); err != nil {
		return eris.Wrap(err, "hero: complete task")
	}

	metrics.ObserveHero(string(source))
	zap.L().Info("hero: resolved",
		zap.String("content_id", task.ContentID),
		zap.String("source", string(source)))
	return nil
}

// resolve walks the provider chain. It always produces an image: the
// skeleton placeholder is the terminal fallback and cannot fail.
func (w *Worker) resolve(ctx context.Context, task *model.Hero) (string, model.HeroSource) {
	if w.wikimedia != nil {
		img, err := w.wikimedia.SearchImage(ctx, searchQuery(task.Title))
		if err != nil {
			zap.L().Debug("hero: wikimedia search failed",
				zap.String("content_id", task.ContentID), zap.Error(err))
		} else if img != nil {
			return img.URL, model.HeroSourceWikimedia
		}
	}

	if w.imagegen != nil {
		req := imagegen.BuildRequest(task.Title, task.Excerpt, styleFor(task.Title, task.Excerpt))
		resp, err := w.imagegen.Generate(ctx, req)
		if err != nil {
			zap.L().Debug("hero: image generation failed",
				zap.String("content_id", task.ContentID), zap.Error(err))
		} else {
			return resp.ImageURL, model.HeroSourceAI
		}
	}

	return SkeletonDataURI(task.ContentID, task.Title), model.HeroSourceSkeleton
}

var queryStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "and": true, "or": true,
	"in": true, "on": true, "for": true, "to": true, "with": true, "by": true,
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}\s]`)

// searchQuery reduces a content title to its significant terms.
func searchQuery(title string) string {
	cleaned := nonWord.ReplaceAllString(title, " ")
	var terms []string
	for _, word := range strings.Fields(cleaned) {
		if queryStopwords[strings.ToLower(word)] {
			continue
		}
		terms = append(terms, word)
		if len(terms) == 6 {
			break
		}
	}
	if len(terms) == 0 {
		return title
	}
	return strings.Join(terms, " ")
}

// styleFor picks a generation preset from textual hints. Without a
// stronger content-type signal the default editorial look applies.
func styleFor(title, excerpt string) string {
	text := strings.ToLower(title + " " + excerpt)
	switch {
	case strings.Contains(text, "film") || strings.Contains(text, "movie") ||
		strings.Contains(text, "documentary"):
		return "cinematic"
	case strings.Contains(text, "photo") || strings.Contains(text, "portrait"):
		return "photoreal"
	case strings.Contains(text, "history") || strings.Contains(text, "archive") ||
		strings.Contains(text, "journal"):
		return "documentary"
	default:
		return "editorial"
	}
}
