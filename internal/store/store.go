// Package store persists the discovery engine's state: runs, monitored
// pages, citations, contents, heroes, and the feed queue. Two backends
// implement the same interface: Postgres for shared multi-worker
// deployments and SQLite for single-node development.
package store

import (
	"context"
	"time"

	"github.com/ddoubleg123/carrot-sub001/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status  model.RunStatus `json:"status,omitempty"`
	TopicID string          `json:"topic_id,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the discovery engine.
//
// Claim methods (ClaimNextCitation, ClaimHeroTask, PickFeedBatch) are
// atomic: no two concurrent callers ever receive the same row. On
// Postgres this is a SKIP LOCKED subselect; on SQLite the single-writer
// model gives the same guarantee.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, topicID string) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	GetRunStatus(ctx context.Context, runID string) (model.RunStatus, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	// CompleteRun transitions a live run to completed. It reports false,
	// without error, when the run already left the live state: stopped
	// and errored are terminal and are never overwritten.
	CompleteRun(ctx context.Context, runID string) (bool, error)
	SetRunError(ctx context.Context, runID string, msg string) error
	UpdateRunMetrics(ctx context.Context, runID string, snap *model.MetricsSnapshot) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Monitored pages. RegisterPage is an upsert keyed on (topic_id, url);
	// the bool result reports whether a new row was created.
	RegisterPage(ctx context.Context, topicID, url, title string, priority int) (*model.MonitoredPage, bool, error)
	GetPage(ctx context.Context, pageID int64) (*model.MonitoredPage, error)
	ListPages(ctx context.Context, topicID string, status model.PageStatus, limit int) ([]model.MonitoredPage, error)
	UpdatePageStatus(ctx context.Context, pageID int64, status model.PageStatus) error
	MarkPageExtracted(ctx context.Context, pageID int64, citationCount int) error
	// PagesWithUnfinishedWork returns completed pages that still have
	// citations with work remaining; the count of live citations is the
	// authoritative signal, not the page booleans.
	PagesWithUnfinishedWork(ctx context.Context, topicID string) ([]int64, error)
	ReopenPage(ctx context.Context, pageID int64) error
	// CompleteFinishedPages closes scanning pages whose citations have all
	// reached a terminal state. Returns the number of pages closed.
	CompleteFinishedPages(ctx context.Context, topicID string) (int, error)

	// Citations
	InsertCitations(ctx context.Context, pageID int64, cits []model.Citation) (int, error)
	ListCitationsByPage(ctx context.Context, pageID int64) ([]model.Citation, error)
	GetCitation(ctx context.Context, id int64) (*model.Citation, error)
	// ClaimNextCitation atomically selects the highest-priority eligible
	// citation for the topic and moves it to scanning. Returns nil when
	// no work is available.
	ClaimNextCitation(ctx context.Context, topicID string) (*model.Citation, error)
	MarkVerified(ctx context.Context, id int64) error
	MarkVerificationFailed(ctx context.Context, id int64, reason string) error
	MarkScanned(ctx context.Context, id int64, text string) error
	MarkScanDenied(ctx context.Context, id int64, reason string) error
	SetCitationScore(ctx context.Context, id int64, score float64) error
	SetCitationError(ctx context.Context, id int64, msg string) error
	DecideCitation(ctx context.Context, id int64, decision model.RelevanceDecision, contentID *string) error
	// ResetCitation returns a failed or stuck citation to the initial
	// pending/not_scanned state for reprocessing.
	ResetCitation(ctx context.Context, id int64) error
	// RequeueStuckCitations returns citations stuck in scanning longer
	// than olderThan to not_scanned. Returns the number requeued.
	RequeueStuckCitations(ctx context.Context, olderThan time.Duration) (int, error)
	// RemoveInternalCitations deletes rows whose URL was mis-classified
	// as external. This is the only citation delete path.
	RemoveInternalCitations(ctx context.Context, pageID int64, urls []string) (int, error)
	// OrphanedSavedCitations returns saved citations missing their
	// content reference, for the audit to re-drive persistence.
	OrphanedSavedCitations(ctx context.Context, limit int) ([]model.Citation, error)

	// Contents. PersistContent inserts once per (topic_id, canonical_url);
	// on conflict it returns the existing row's id with created=false.
	PersistContent(ctx context.Context, c *model.Content) (id string, created bool, err error)
	GetContent(ctx context.Context, id string) (*model.Content, error)
	ContentsMissingHero(ctx context.Context, limit int) ([]model.Content, error)
	ContentsMissingFeed(ctx context.Context, limit int) ([]model.Content, error)

	// Heroes. One row per content; CreateHeroTask is idempotent.
	CreateHeroTask(ctx context.Context, contentID, title, excerpt string) error
	ClaimHeroTask(ctx context.Context) (*model.Hero, error)
	GetHero(ctx context.Context, contentID string) (*model.Hero, error)
	CompleteHero(ctx context.Context, contentID, imageURL string, source model.HeroSource) error
	FailHero(ctx context.Context, contentID, msg string) error
	ResetHero(ctx context.Context, contentID string) error

	// Feed queue
	EnqueueFeedItem(ctx context.Context, contentID, topicID, contentHash string) error
	PendingFeedTopics(ctx context.Context) ([]string, error)
	// PickFeedBatch atomically moves up to limit PENDING items for the
	// topic to PROCESSING with picked_at set.
	PickFeedBatch(ctx context.Context, topicID string, limit int) ([]model.FeedQueueItem, error)
	CompleteFeedItems(ctx context.Context, ids []int64) error
	FailFeedItems(ctx context.Context, ids []int64) error
	// RequeueStuckFeedItems returns PROCESSING items older than olderThan
	// to PENDING with attempts incremented once.
	RequeueStuckFeedItems(ctx context.Context, olderThan time.Duration) (int, error)

	// Counts for metrics snapshots and status reporting.
	PageStatusCounts(ctx context.Context, topicID string) (map[string]int, error)
	CitationStateCounts(ctx context.Context, topicID string) (map[string]int, error)
	ContentCount(ctx context.Context, topicID string) (int, error)
	HeroStatusCounts(ctx context.Context, topicID string) (map[string]int, error)
	FeedStatusCounts(ctx context.Context, topicID string) (map[string]int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
