// Package feed delivers saved content to the agent-memory ingestion
// service, topic by topic, in bounded batches.
package feed

import (
	"context"
	"math/rand"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ddoubleg123/carrot-sub001/internal/config"
	"github.com/ddoubleg123/carrot-sub001/internal/metrics"
	"github.com/ddoubleg123/carrot-sub001/internal/model"
	"github.com/ddoubleg123/carrot-sub001/internal/store"
	"github.com/ddoubleg123/carrot-sub001/pkg/memoryfeed"
)

// maxExcerpt bounds how much page text travels in one memory item.
const maxExcerpt = 2000

// Worker polls the feed queue and ships pending items. Delivery is
// at-least-once: an item is only DONE after the receiver acknowledged the
// batch, and a failed batch returns to PENDING for the next cycle.
type Worker struct {
	store  store.Store
	client memoryfeed.Client
	cfg    config.FeedConfig
}

// NewWorker creates a feed Worker.
func NewWorker(st store.Store, client memoryfeed.Client, cfg config.FeedConfig) *Worker {
	return &Worker{store: st, client: client, cfg: cfg}
}

// Run polls until ctx is cancelled. Only store failures are fatal;
// delivery failures are recorded on the items and retried next cycle.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		delivered, err := w.DeliverOnce(ctx)
		if err != nil {
			return err
		}
		if delivered == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.pollDelay()):
			}
		}
	}
}

// DeliverOnce drains one batch per pending topic and reports how many
// items were delivered.
func (w *Worker) DeliverOnce(ctx context.Context) (int, error) {
	topics, err := w.store.PendingFeedTopics(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "feed: list pending topics")
	}

	delivered := 0
	for _, topicID := range topics {
		n, err := w.deliverTopic(ctx, topicID)
		if err != nil {
			return delivered, err
		}
		delivered += n
	}
	return delivered, nil
}

func (w *Worker) deliverTopic(ctx context.Context, topicID string) (int, error) {
	batchSize := w.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	batch, err := w.store.PickFeedBatch(ctx, topicID, batchSize)
	if err != nil {
		return 0, eris.Wrapf(err, "feed: pick batch for %s", topicID)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	items, ids, err := w.buildItems(ctx, batch)
	if err != nil {
		return 0, err
	}

	if _, err := w.client.Ingest(ctx, topicID, items); err != nil {
		zap.L().Warn("feed: batch delivery failed",
			zap.String("topic_id", topicID),
			zap.Int("items", len(ids)),
			zap.Error(err))
		metrics.ObserveFeedItems(topicID, "failed", len(ids))
		if err := w.store.FailFeedItems(ctx, ids); err != nil {
			return 0, eris.Wrap(err, "feed: requeue failed batch")
		}
		return 0, nil
	}

	if err := w.store.CompleteFeedItems(ctx, ids); err != nil {
		return 0, eris.Wrap(err, "feed: complete batch")
	}
	metrics.ObserveFeedItems(topicID, "delivered", len(ids))

	zap.L().Info("feed: batch delivered",
		zap.String("topic_id", topicID),
		zap.Int("items", len(ids)))
	return len(ids), nil
}

// buildItems loads the content behind each queue item and shapes the
// ingestion payload.
func (w *Worker) buildItems(ctx context.Context, batch []model.FeedQueueItem) ([]memoryfeed.Item, []int64, error) {
	items := make([]memoryfeed.Item, 0, len(batch))
	ids := make([]int64, 0, len(batch))

	for _, qi := range batch {
		content, err := w.store.GetContent(ctx, qi.ContentID)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "feed: load content %s", qi.ContentID)
		}

		items = append(items, memoryfeed.Item{
			Content:     excerpt(content.Text),
			SourceType:  "discovered-content",
			SourceURL:   content.SourceURL,
			SourceTitle: content.Title,
			ContentHash: qi.ContentHash,
			Tags:        []string{content.Domain},
		})
		ids = append(ids, qi.ID)
	}
	return items, ids, nil
}

func excerpt(text string) string {
	if len(text) > maxExcerpt {
		return text[:maxExcerpt]
	}
	return text
}

func (w *Worker) pollDelay() time.Duration {
	base := time.Duration(w.cfg.PollIntervalSecs) * time.Second
	if base <= 0 {
		base = 10 * time.Second
	}
	jitter := time.Duration(float64(base) * 0.2 * (rand.Float64()*2 - 1))
	return base + jitter
}
