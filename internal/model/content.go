package model

import "time"

// ProvenanceEntry records one path by which a piece of content was
// discovered: the monitored page and citation that led to it.
type ProvenanceEntry struct {
	PageID     int64     `json:"page_id"`
	CitationID int64     `json:"citation_id"`
	SourceURL  string    `json:"source_url"`
	Section    string    `json:"section,omitempty"`
	FoundAt    time.Time `json:"found_at"`
}

// Content is an accepted, persisted piece of discovered material.
// (TopicID, CanonicalURL) is unique: it is the deduplication boundary.
// A Content row is created exactly once per canonical URL per topic;
// downstream workers read it and only attach a hero reference.
type Content struct {
	ID              string            `json:"id" db:"id"`
	TopicID         string            `json:"topic_id" db:"topic_id"`
	CanonicalURL    string            `json:"canonical_url" db:"canonical_url"`
	SourceURL       string            `json:"source_url" db:"source_url"`
	Title           string            `json:"title,omitempty" db:"title"`
	Domain          string            `json:"domain,omitempty" db:"domain"`
	Text            string            `json:"text" db:"text"`
	ContentHash     string            `json:"content_hash" db:"content_hash"`
	RelevanceScore  float64           `json:"relevance_score" db:"relevance_score"`
	QualityScore    float64           `json:"quality_score" db:"quality_score"`
	ImportanceScore float64           `json:"importance_score" db:"importance_score"`
	Provenance      []ProvenanceEntry `json:"provenance,omitempty" db:"provenance"`
	Metadata        map[string]any    `json:"metadata,omitempty" db:"metadata"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
}
