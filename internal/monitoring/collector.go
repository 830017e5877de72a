// Package monitoring watches discovery health and raises webhook alerts
// when reject rates or queue backlogs cross configured thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ddoubleg123/carrot-sub001/internal/model"
	"github.com/ddoubleg123/carrot-sub001/internal/store"
)

// Snapshot holds a point-in-time view of discovery health across the
// topics with recent runs.
type Snapshot struct {
	TopicsChecked int `json:"topics_checked"`
	ActiveRuns    int `json:"active_runs"`
	FailedRuns    int `json:"failed_runs"`

	// Citation outcomes across all checked topics.
	CitationsSaved    int `json:"citations_saved"`
	CitationsDenied   int `json:"citations_denied"`
	CitationsRejected int `json:"citations_rejected"` // verify_failed + scan_denied

	// RejectRate is rejected over all decided citations.
	RejectRate float64 `json:"reject_rate"`

	// Queue depths.
	HeroBacklog int `json:"hero_backlog"`
	HeroFailed  int `json:"hero_failed"`
	FeedBacklog int `json:"feed_backlog"`
	FeedFailed  int `json:"feed_failed"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers health metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect builds a snapshot over the topics of the most recent runs.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{CollectedAt: time.Now().UTC()}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: 100})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	topics := make(map[string]bool)
	for _, r := range runs {
		topics[r.TopicID] = true
		switch r.Status {
		case model.RunStatusLive:
			snap.ActiveRuns++
		case model.RunStatusError:
			snap.FailedRuns++
		}
	}

	for topicID := range topics {
		cits, err := c.store.CitationStateCounts(ctx, topicID)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: citation counts")
		}
		snap.CitationsSaved += cits[string(model.StateSaved)]
		snap.CitationsDenied += cits[string(model.StateDenied)]
		snap.CitationsRejected += cits[string(model.StateVerifyFailed)] + cits[string(model.StateScanDenied)]

		heroes, err := c.store.HeroStatusCounts(ctx, topicID)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: hero counts")
		}
		snap.HeroBacklog += heroes[string(model.HeroPending)] + heroes[string(model.HeroEnriching)]
		snap.HeroFailed += heroes[string(model.HeroFailed)]

		feed, err := c.store.FeedStatusCounts(ctx, topicID)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: feed counts")
		}
		snap.FeedBacklog += feed[string(model.FeedPending)] + feed[string(model.FeedProcessing)]
		snap.FeedFailed += feed[string(model.FeedFailed)]
	}
	snap.TopicsChecked = len(topics)

	decided := snap.CitationsSaved + snap.CitationsDenied + snap.CitationsRejected
	if decided > 0 {
		snap.RejectRate = float64(snap.CitationsRejected) / float64(decided)
	}

	return snap, nil
}
