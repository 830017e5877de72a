// Package model defines the core entities of the discovery engine: runs,
// monitored pages, citations, content, heroes, and feed queue items.
package model

import "time"

// RunStatus represents the lifecycle state of a discovery run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusLive      RunStatus = "live"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
	RunStatusStopped   RunStatus = "stopped"
)

// Active reports whether workers should keep pulling units of work.
// Workers check this between units; there is no mid-unit cancellation.
func (s RunStatus) Active() bool {
	return s == RunStatusLive
}

// Run represents a single discovery run over one topic.
type Run struct {
	ID          string          `json:"id" db:"id"`
	TopicID     string          `json:"topic_id" db:"topic_id"`
	Status      RunStatus       `json:"status" db:"status"`
	Metrics     *MetricsSnapshot `json:"metrics,omitempty" db:"metrics"`
	Error       string          `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// MetricsSnapshot summarizes the state of a run's stores at a point in time.
type MetricsSnapshot struct {
	FrontierSize      int            `json:"frontier_size"`
	PagesByStatus     map[string]int `json:"pages_by_status,omitempty"`
	CitationsByState  map[string]int `json:"citations_by_state,omitempty"`
	ContentSaved      int            `json:"content_saved"`
	HeroesByStatus    map[string]int `json:"heroes_by_status,omitempty"`
	FeedByStatus      map[string]int `json:"feed_by_status,omitempty"`
	TakenAt           time.Time      `json:"taken_at"`
}
