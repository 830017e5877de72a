package model

import "time"

// PageStatus represents the processing state of a monitored page.
type PageStatus string

const (
	PageStatusPending   PageStatus = "pending"
	PageStatusScanning  PageStatus = "scanning"
	PageStatusCompleted PageStatus = "completed"
	PageStatusError     PageStatus = "error"
)

// MonitoredPage is a page being watched for outbound citations. Pages are
// created when registered (from the plan or from link-following) and are
// never deleted. The ContentScanned and CitationsExtracted booleans are a
// compatibility view; the authoritative "is there work left" answer comes
// from the citation store's work-remaining query.
type MonitoredPage struct {
	ID                 int64      `json:"id" db:"id"`
	TopicID            string     `json:"topic_id" db:"topic_id"`
	URL                string     `json:"url" db:"url"`
	Title              string     `json:"title,omitempty" db:"title"`
	Status             PageStatus `json:"status" db:"status"`
	Priority           int        `json:"priority" db:"priority"`
	CitationCount      int        `json:"citation_count" db:"citation_count"`
	ContentScanned     bool       `json:"content_scanned" db:"content_scanned"`
	CitationsExtracted bool       `json:"citations_extracted" db:"citations_extracted"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}
