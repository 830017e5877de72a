package model

import "time"

// FeedStatus tracks a feed queue item's delivery lifecycle.
type FeedStatus string

const (
	FeedPending    FeedStatus = "PENDING"
	FeedProcessing FeedStatus = "PROCESSING"
	FeedDone       FeedStatus = "DONE"
	FeedFailed     FeedStatus = "FAILED"
)

// FeedQueueItem is a delivery task from saved content to the agent-memory
// ingestion service. Delivery is at-least-once; the content hash lets the
// receiver detect idempotent re-delivery. Transitions are owned solely by
// the feed queue worker and the self-audit job.
type FeedQueueItem struct {
	ID          int64      `json:"id" db:"id"`
	ContentID   string     `json:"content_id" db:"content_id"`
	TopicID     string     `json:"topic_id" db:"topic_id"`
	ContentHash string     `json:"content_hash" db:"content_hash"`
	Status      FeedStatus `json:"status" db:"status"`
	Attempts    int        `json:"attempts" db:"attempts"`
	PickedAt    *time.Time `json:"picked_at,omitempty" db:"picked_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}
