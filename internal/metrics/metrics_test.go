package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveHelpers(t *testing.T) {
	Init()
	Init()

	ObserveCitation("topic-1", "saved")
	ObserveCitation("topic-1", "saved")
	ObserveCitation("topic-1", "denied")
	assert.Equal(t, 2.0, testutil.ToFloat64(citationsTotal.WithLabelValues("topic-1", "saved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(citationsTotal.WithLabelValues("topic-1", "denied")))

	ObserveHero("wikimedia")
	assert.Equal(t, 1.0, testutil.ToFloat64(heroesTotal.WithLabelValues("wikimedia")))

	ObserveFeedItems("topic-1", "delivered", 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(feedItemsTotal.WithLabelValues("topic-1", "delivered")))

	ObserveAuditRepairs("stuck_feed", 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(auditRepairsTotal.WithLabelValues("stuck_feed")))
}

func TestSetSnapshot(t *testing.T) {
	Init()

	SetSnapshot("topic-2",
		map[string]int{"scanning": 1},
		map[string]int{"scanned": 4, "saved": 2},
		map[string]int{"ready": 2},
		map[string]int{"PENDING": 1, "DONE": 1},
		2,
	)

	assert.Equal(t, 4.0, testutil.ToFloat64(citationStateGauge.WithLabelValues("topic-2", "scanned")))
	assert.Equal(t, 2.0, testutil.ToFloat64(contentCountGauge.WithLabelValues("topic-2")))

	// Re-publishing overwrites rather than accumulates.
	SetSnapshot("topic-2", nil, map[string]int{"scanned": 1}, nil, nil, 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(citationStateGauge.WithLabelValues("topic-2", "scanned")))
	assert.Equal(t, 3.0, testutil.ToFloat64(contentCountGauge.WithLabelValues("topic-2")))
}
