package model

import "time"

// HeroStatus tracks the enrichment lifecycle of a hero image.
type HeroStatus string

const (
	HeroPending   HeroStatus = "pending"
	HeroEnriching HeroStatus = "enriching"
	HeroReady     HeroStatus = "ready"
	HeroFailed    HeroStatus = "failed"
)

// HeroSource identifies which step of the fallback chain produced the image.
type HeroSource string

const (
	HeroSourceWikimedia HeroSource = "wikimedia"
	HeroSourceAI        HeroSource = "ai-generated"
	HeroSourceSkeleton  HeroSource = "skeleton"
)

// Hero is the representative image for a piece of saved content, at most
// one per content record. A skeleton placeholder is a valid terminal ready
// state; failed is reserved for unexpected errors, not for the absence of
// a better image. Retries re-enrich the same row.
type Hero struct {
	ContentID    string     `json:"content_id" db:"content_id"`
	ImageURL     string     `json:"image_url,omitempty" db:"image_url"`
	Status       HeroStatus `json:"status" db:"status"`
	Source       HeroSource `json:"source,omitempty" db:"source"`
	Title        string     `json:"title,omitempty" db:"title"`
	Excerpt      string     `json:"excerpt,omitempty" db:"excerpt"`
	ErrorMessage *string    `json:"error_message,omitempty" db:"error_message"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}
