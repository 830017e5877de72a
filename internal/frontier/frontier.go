// Package frontier holds the queue of candidate URLs waiting to become
// monitored pages. Entries are deduplicated by canonical URL per topic;
// Pop is atomic under concurrent workers.
package frontier

import "context"

// Candidate is one URL waiting in the frontier.
type Candidate struct {
	URL          string `json:"url"`
	CanonicalURL string `json:"canonical_url"`
	Title        string `json:"title,omitempty"`
	Priority     int    `json:"priority"`
}

// Frontier is the shared candidate queue. Enqueue has set semantics by
// (topic, canonical URL): re-adding a queued candidate is a no-op and
// reports added=false. Pop removes and returns the highest-priority
// candidate, FIFO among ties, or nil when the queue is empty.
type Frontier interface {
	Enqueue(ctx context.Context, topicID string, c Candidate) (added bool, err error)
	Pop(ctx context.Context, topicID string) (*Candidate, error)
	Size(ctx context.Context, topicID string) (int, error)
	Clear(ctx context.Context, topicID string) (int, error)
}
