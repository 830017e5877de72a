package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/ddoubleg123/carrot-sub001/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is intended
// for single-node development; the single-writer model makes the claim
// operations trivially atomic.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS discovery_runs (
	id           TEXT PRIMARY KEY,
	topic_id     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	metrics      TEXT,
	error        TEXT,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS monitored_pages (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	topic_id            TEXT NOT NULL,
	url                 TEXT NOT NULL,
	title               TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'pending',
	priority            INTEGER NOT NULL DEFAULT 0,
	citation_count      INTEGER NOT NULL DEFAULT 0,
	content_scanned     INTEGER NOT NULL DEFAULT 0,
	citations_extracted INTEGER NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL,
	UNIQUE (topic_id, url)
);

CREATE TABLE IF NOT EXISTS citations (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	page_id             INTEGER NOT NULL REFERENCES monitored_pages(id),
	url                 TEXT NOT NULL,
	title               TEXT,
	section_context     TEXT NOT NULL DEFAULT '',
	source_number       INTEGER,
	surrounding_text    TEXT NOT NULL DEFAULT '',
	verification_status TEXT NOT NULL DEFAULT 'pending',
	scan_status         TEXT NOT NULL DEFAULT 'not_scanned',
	relevance_decision  TEXT,
	ai_priority_score   REAL,
	extracted_text      TEXT,
	saved_content_id    TEXT,
	error_message       TEXT,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL,
	UNIQUE (page_id, url)
);

CREATE TABLE IF NOT EXISTS contents (
	id               TEXT PRIMARY KEY,
	topic_id         TEXT NOT NULL,
	canonical_url    TEXT NOT NULL,
	source_url       TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	domain           TEXT NOT NULL DEFAULT '',
	text             TEXT NOT NULL,
	content_hash     TEXT NOT NULL,
	relevance_score  REAL NOT NULL DEFAULT 0,
	quality_score    REAL NOT NULL DEFAULT 0,
	importance_score REAL NOT NULL DEFAULT 0,
	provenance       TEXT,
	metadata         TEXT,
	created_at       DATETIME NOT NULL,
	UNIQUE (topic_id, canonical_url)
);

CREATE TABLE IF NOT EXISTS heroes (
	content_id    TEXT PRIMARY KEY REFERENCES contents(id),
	image_url     TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	source        TEXT NOT NULL DEFAULT '',
	title         TEXT NOT NULL DEFAULT '',
	excerpt       TEXT NOT NULL DEFAULT '',
	error_message TEXT,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS feed_queue (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	content_id   TEXT NOT NULL REFERENCES contents(id),
	topic_id     TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'PENDING',
	attempts     INTEGER NOT NULL DEFAULT 0,
	picked_at    DATETIME,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	UNIQUE (content_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_topic_status ON discovery_runs(topic_id, status);
CREATE INDEX IF NOT EXISTS idx_pages_topic_status ON monitored_pages(topic_id, status);
CREATE INDEX IF NOT EXISTS idx_citations_page_id ON citations(page_id);
CREATE INDEX IF NOT EXISTS idx_contents_topic ON contents(topic_id);
CREATE INDEX IF NOT EXISTS idx_feed_queue_topic_status ON feed_queue(topic_id, status);
`

// sqliteStateCase mirrors citationStateCase for the sqlite dialect.
const sqliteStateCase = `CASE
	WHEN c.relevance_decision = 'saved' THEN 'saved'
	WHEN c.relevance_decision = 'denied' THEN 'denied'
	WHEN c.verification_status = 'failed' THEN 'verify_failed'
	WHEN c.scan_status = 'scanning' THEN 'scanning'
	WHEN c.scan_status = 'scanned' THEN 'scanned'
	WHEN c.scan_status = 'scanned_denied' THEN 'scan_denied'
	WHEN c.verification_status = 'verified' THEN 'verified'
	ELSE 'pending'
END`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return eris.Wrap(s.db.Close(), "sqlite: close")
}

func sqlitePlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, topicID string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO discovery_runs (id, topic_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, topicID, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &model.Run{ID: id, TopicID: topicID, Status: model.RunStatusQueued, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) scanRun(row interface{ Scan(...any) error }) (*model.Run, error) {
	var r model.Run
	var metricsJSON, errMsg sql.NullString
	if err := row.Scan(&r.ID, &r.TopicID, &r.Status, &metricsJSON, &errMsg, &r.CreatedAt, &r.UpdatedAt, &r.CompletedAt); err != nil {
		return nil, err
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	if metricsJSON.Valid && metricsJSON.String != "" {
		r.Metrics = &model.MetricsSnapshot{}
		if err := json.Unmarshal([]byte(metricsJSON.String), r.Metrics); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run metrics")
		}
	}
	return &r, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := s.scanRun(s.db.QueryRowContext(ctx,
		`SELECT id, topic_id, status, metrics, error, created_at, updated_at, completed_at FROM discovery_runs WHERE id = ?`,
		runID))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) GetRunStatus(ctx context.Context, runID string) (model.RunStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM discovery_runs WHERE id = ?`, runID).Scan(&status)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: get run status %s", runID)
	}
	return model.RunStatus(status), nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	now := time.Now().UTC()
	query := `UPDATE discovery_runs SET status = ?, updated_at = ? WHERE id = ?`
	args := []any{string(status), now, runID}
	if status == model.RunStatusCompleted || status == model.RunStatusStopped {
		query = `UPDATE discovery_runs SET status = ?, updated_at = ?, completed_at = ? WHERE id = ?`
		args = []any{string(status), now, now, runID}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovery_runs SET status = ?, updated_at = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(model.RunStatusCompleted), now, now, runID, string(model.RunStatusLive),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) SetRunError(ctx context.Context, runID string, msg string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovery_runs SET status = ?, error = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusError), msg, now, now, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set run error %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *SQLiteStore) UpdateRunMetrics(ctx context.Context, runID string, snap *model.MetricsSnapshot) error {
	metricsJSON, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal metrics")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE discovery_runs SET metrics = ?, updated_at = ? WHERE id = ?`,
		string(metricsJSON), time.Now().UTC(), runID,
	)
	return eris.Wrapf(err, "sqlite: update run metrics %s", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, topic_id, status, metrics, error, created_at, updated_at, completed_at FROM discovery_runs WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.TopicID != "" {
		query += ` AND topic_id = ?`
		args = append(args, filter.TopicID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := s.scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// --- Monitored pages ---

const sqlitePageColumns = `id, topic_id, url, title, status, priority, citation_count, content_scanned, citations_extracted, created_at, updated_at`

func scanSQLitePage(row interface{ Scan(...any) error }) (*model.MonitoredPage, error) {
	var p model.MonitoredPage
	err := row.Scan(&p.ID, &p.TopicID, &p.URL, &p.Title, &p.Status, &p.Priority, &p.CitationCount, &p.ContentScanned, &p.CitationsExtracted, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) RegisterPage(ctx context.Context, topicID, url, title string, priority int) (*model.MonitoredPage, bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO monitored_pages (topic_id, url, title, status, priority, created_at, updated_at)
		 VALUES (?, ?, ?, 'pending', ?, ?, ?)
		 ON CONFLICT (topic_id, url) DO NOTHING`,
		topicID, url, title, priority, now, now,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: register page %s", url)
	}
	created, _ := res.RowsAffected()

	p, err := scanSQLitePage(s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePageColumns+` FROM monitored_pages WHERE topic_id = ? AND url = ?`,
		topicID, url))
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: lookup page %s", url)
	}
	return p, created > 0, nil
}

func (s *SQLiteStore) GetPage(ctx context.Context, pageID int64) (*model.MonitoredPage, error) {
	p, err := scanSQLitePage(s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePageColumns+` FROM monitored_pages WHERE id = ?`, pageID))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get page %d", pageID)
	}
	return p, nil
}

func (s *SQLiteStore) ListPages(ctx context.Context, topicID string, status model.PageStatus, limit int) ([]model.MonitoredPage, error) {
	query := `SELECT ` + sqlitePageColumns + ` FROM monitored_pages WHERE topic_id = ?`
	args := []any{topicID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY priority DESC, id ASC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pages")
	}
	defer rows.Close()

	var pages []model.MonitoredPage
	for rows.Next() {
		p, err := scanSQLitePage(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan page")
		}
		pages = append(pages, *p)
	}
	return pages, eris.Wrap(rows.Err(), "sqlite: list pages iterate")
}

func (s *SQLiteStore) UpdatePageStatus(ctx context.Context, pageID int64, status model.PageStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE monitored_pages SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), pageID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update page status %d", pageID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("page not found: %d", pageID)
	}
	return nil
}

func (s *SQLiteStore) MarkPageExtracted(ctx context.Context, pageID int64, citationCount int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE monitored_pages
		 SET content_scanned = 1, citations_extracted = 1, citation_count = ?, status = 'scanning', updated_at = ?
		 WHERE id = ?`,
		citationCount, time.Now().UTC(), pageID,
	)
	return eris.Wrapf(err, "sqlite: mark page extracted %d", pageID)
}

const sqliteUnfinishedCitations = `
	SELECT 1 FROM citations c
	WHERE c.page_id = p.id
	  AND c.relevance_decision IS NULL
	  AND c.verification_status != 'failed'
	  AND c.scan_status NOT IN ('scanned', 'scanned_denied')`

func (s *SQLiteStore) PagesWithUnfinishedWork(ctx context.Context, topicID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id FROM monitored_pages p
		 WHERE p.topic_id = ? AND p.status = 'completed' AND EXISTS (`+sqliteUnfinishedCitations+`)`,
		topicID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pages with unfinished work")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan page id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: pages with unfinished work iterate")
}

func (s *SQLiteStore) ReopenPage(ctx context.Context, pageID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE monitored_pages SET status = 'scanning', updated_at = ? WHERE id = ?`,
		time.Now().UTC(), pageID,
	)
	return eris.Wrapf(err, "sqlite: reopen page %d", pageID)
}

func (s *SQLiteStore) CompleteFinishedPages(ctx context.Context, topicID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE monitored_pages SET status = 'completed', updated_at = ?
		 WHERE id IN (
		   SELECT p.id FROM monitored_pages p
		   WHERE p.topic_id = ? AND p.status = 'scanning' AND p.citations_extracted = 1
		     AND NOT EXISTS (`+sqliteUnfinishedCitations+`)
		 )`,
		time.Now().UTC(), topicID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: complete finished pages")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- Citations ---

const sqliteCitationColumns = `id, page_id, url, title, section_context, source_number, surrounding_text,
	verification_status, scan_status, relevance_decision, ai_priority_score,
	extracted_text, saved_content_id, error_message, created_at, updated_at`

func scanSQLiteCitation(row interface{ Scan(...any) error }) (*model.Citation, error) {
	var c model.Citation
	err := row.Scan(&c.ID, &c.PageID, &c.URL, &c.Title, &c.SectionContext, &c.SourceNumber, &c.SurroundingText,
		&c.VerificationStatus, &c.ScanStatus, &c.RelevanceDecision, &c.AIPriorityScore,
		&c.ExtractedText, &c.SavedContentID, &c.ErrorMessage, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) InsertCitations(ctx context.Context, pageID int64, cits []model.Citation) (int, error) {
	now := time.Now().UTC()
	inserted := 0
	for _, c := range cits {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO citations (page_id, url, title, section_context, source_number, surrounding_text, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (page_id, url) DO NOTHING`,
			pageID, c.URL, c.Title, c.SectionContext, c.SourceNumber, c.SurroundingText, now, now,
		)
		if err != nil {
			return inserted, eris.Wrapf(err, "sqlite: insert citation %s", c.URL)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	return inserted, nil
}

func (s *SQLiteStore) ListCitationsByPage(ctx context.Context, pageID int64) ([]model.Citation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteCitationColumns+` FROM citations WHERE page_id = ? ORDER BY id ASC`, pageID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list citations page %d", pageID)
	}
	defer rows.Close()

	var cits []model.Citation
	for rows.Next() {
		c, err := scanSQLiteCitation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan citation")
		}
		cits = append(cits, *c)
	}
	return cits, eris.Wrap(rows.Err(), "sqlite: list citations iterate")
}

func (s *SQLiteStore) GetCitation(ctx context.Context, id int64) (*model.Citation, error) {
	c, err := scanSQLiteCitation(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteCitationColumns+` FROM citations WHERE id = ?`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get citation %d", id)
	}
	return c, nil
}

func (s *SQLiteStore) ClaimNextCitation(ctx context.Context, topicID string) (*model.Citation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin claim")
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`SELECT c.id FROM citations c
		 JOIN monitored_pages p ON p.id = c.page_id
		 WHERE p.topic_id = ?
		   AND c.relevance_decision IS NULL
		   AND c.verification_status IN ('pending', 'verified')
		   AND c.scan_status = 'not_scanned'
		 ORDER BY (c.ai_priority_score IS NULL) ASC, c.ai_priority_score DESC, c.created_at ASC
		 LIMIT 1`,
		topicID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: select claim candidate")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE citations SET scan_status = 'scanning', updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: claim citation")
	}

	c, err := scanSQLiteCitation(tx.QueryRowContext(ctx,
		`SELECT `+sqliteCitationColumns+` FROM citations WHERE id = ?`, id))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read claimed citation")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit claim")
	}
	return c, nil
}

func (s *SQLiteStore) MarkVerified(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE citations SET verification_status = 'verified', error_message = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "sqlite: mark verified %d", id)
}

func (s *SQLiteStore) MarkVerificationFailed(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE citations SET verification_status = 'failed', scan_status = 'not_scanned', error_message = ?, updated_at = ? WHERE id = ?`,
		reason, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "sqlite: mark verification failed %d", id)
}

func (s *SQLiteStore) MarkScanned(ctx context.Context, id int64, text string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE citations SET scan_status = 'scanned', extracted_text = ?, updated_at = ? WHERE id = ?`,
		text, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "sqlite: mark scanned %d", id)
}

func (s *SQLiteStore) MarkScanDenied(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE citations SET scan_status = 'scanned_denied', error_message = ?, updated_at = ? WHERE id = ?`,
		reason, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "sqlite: mark scan denied %d", id)
}

func (s *SQLiteStore) SetCitationScore(ctx context.Context, id int64, score float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE citations SET ai_priority_score = ?, updated_at = ? WHERE id = ?`,
		score, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "sqlite: set citation score %d", id)
}

func (s *SQLiteStore) SetCitationError(ctx context.Context, id int64, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE citations SET error_message = ?, updated_at = ? WHERE id = ?`,
		msg, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "sqlite: set citation error %d", id)
}

func (s *SQLiteStore) DecideCitation(ctx context.Context, id int64, decision model.RelevanceDecision, contentID *string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE citations SET relevance_decision = ?, saved_content_id = ?, updated_at = ? WHERE id = ?`,
		string(decision), contentID, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "sqlite: decide citation %d", id)
}

func (s *SQLiteStore) ResetCitation(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE citations
		 SET verification_status = 'pending', scan_status = 'not_scanned', relevance_decision = NULL,
		     error_message = NULL, extracted_text = NULL, saved_content_id = NULL, updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "sqlite: reset citation %d", id)
}

func (s *SQLiteStore) RequeueStuckCitations(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`UPDATE citations SET scan_status = 'not_scanned', updated_at = ?
		 WHERE scan_status = 'scanning' AND relevance_decision IS NULL AND updated_at < ?`,
		time.Now().UTC(), cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: requeue stuck citations")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) RemoveInternalCitations(ctx context.Context, pageID int64, urls []string) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(urls)+1)
	args = append(args, pageID)
	for _, u := range urls {
		args = append(args, u)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM citations WHERE page_id = ? AND url IN (`+sqlitePlaceholders(len(urls))+`)`,
		args...,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: remove internal citations page %d", pageID)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) OrphanedSavedCitations(ctx context.Context, limit int) ([]model.Citation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteCitationColumns+` FROM citations
		 WHERE relevance_decision = 'saved' AND saved_content_id IS NULL
		 ORDER BY updated_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: orphaned saved citations")
	}
	defer rows.Close()

	var cits []model.Citation
	for rows.Next() {
		c, err := scanSQLiteCitation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan citation")
		}
		cits = append(cits, *c)
	}
	return cits, eris.Wrap(rows.Err(), "sqlite: orphaned saved citations iterate")
}

// --- Contents ---

func (s *SQLiteStore) PersistContent(ctx context.Context, c *model.Content) (string, bool, error) {
	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()

	provJSON, err := json.Marshal(c.Provenance)
	if err != nil {
		return "", false, eris.Wrap(err, "sqlite: marshal provenance")
	}
	metaJSON, err := json.Marshal(c.Metadata)
	if err != nil {
		return "", false, eris.Wrap(err, "sqlite: marshal metadata")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contents (id, topic_id, canonical_url, source_url, title, domain, text, content_hash,
		                       relevance_score, quality_score, importance_score, provenance, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (topic_id, canonical_url) DO NOTHING`,
		id, c.TopicID, c.CanonicalURL, c.SourceURL, c.Title, c.Domain, c.Text, c.ContentHash,
		c.RelevanceScore, c.QualityScore, c.ImportanceScore, string(provJSON), string(metaJSON), now,
	)
	if err != nil {
		return "", false, eris.Wrapf(err, "sqlite: persist content %s", c.CanonicalURL)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return id, true, nil
	}

	var gotID string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM contents WHERE topic_id = ? AND canonical_url = ?`,
		c.TopicID, c.CanonicalURL,
	).Scan(&gotID)
	if err != nil {
		return "", false, eris.Wrapf(err, "sqlite: lookup content %s", c.CanonicalURL)
	}
	return gotID, false, nil
}

func scanSQLiteContent(row interface{ Scan(...any) error }) (*model.Content, error) {
	var c model.Content
	var provJSON, metaJSON sql.NullString
	err := row.Scan(&c.ID, &c.TopicID, &c.CanonicalURL, &c.SourceURL, &c.Title, &c.Domain, &c.Text, &c.ContentHash,
		&c.RelevanceScore, &c.QualityScore, &c.ImportanceScore, &provJSON, &metaJSON, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if provJSON.Valid && provJSON.String != "" && provJSON.String != "null" {
		if err := json.Unmarshal([]byte(provJSON.String), &c.Provenance); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal provenance")
		}
	}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &c.Metadata); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal metadata")
		}
	}
	return &c, nil
}

const sqliteContentColumns = `id, topic_id, canonical_url, source_url, title, domain, text, content_hash,
	relevance_score, quality_score, importance_score, provenance, metadata, created_at`

func (s *SQLiteStore) GetContent(ctx context.Context, id string) (*model.Content, error) {
	c, err := scanSQLiteContent(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteContentColumns+` FROM contents WHERE id = ?`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get content %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) contentsMissing(ctx context.Context, joinTable string, limit int) ([]model.Content, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.topic_id, c.canonical_url, c.source_url, c.title, c.domain, c.text, c.content_hash,
		        c.relevance_score, c.quality_score, c.importance_score, c.provenance, c.metadata, c.created_at
		 FROM contents c
		 LEFT JOIN `+joinTable+` j ON j.content_id = c.id
		 WHERE j.content_id IS NULL
		 ORDER BY c.created_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: contents missing %s", joinTable)
	}
	defer rows.Close()

	var contents []model.Content
	for rows.Next() {
		c, err := scanSQLiteContent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan content")
		}
		contents = append(contents, *c)
	}
	return contents, eris.Wrap(rows.Err(), "sqlite: contents missing iterate")
}

func (s *SQLiteStore) ContentsMissingHero(ctx context.Context, limit int) ([]model.Content, error) {
	return s.contentsMissing(ctx, "heroes", limit)
}

func (s *SQLiteStore) ContentsMissingFeed(ctx context.Context, limit int) ([]model.Content, error) {
	return s.contentsMissing(ctx, "feed_queue", limit)
}

// --- Heroes ---

func (s *SQLiteStore) CreateHeroTask(ctx context.Context, contentID, title, excerpt string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO heroes (content_id, status, title, excerpt, updated_at)
		 VALUES (?, 'pending', ?, ?, ?)
		 ON CONFLICT (content_id) DO NOTHING`,
		contentID, title, excerpt, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: create hero task %s", contentID)
}

func (s *SQLiteStore) ClaimHeroTask(ctx context.Context) (*model.Hero, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin hero claim")
	}
	defer tx.Rollback()

	var contentID string
	err = tx.QueryRowContext(ctx,
		`SELECT content_id FROM heroes WHERE status = 'pending' ORDER BY updated_at ASC LIMIT 1`,
	).Scan(&contentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: select hero candidate")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE heroes SET status = 'enriching', updated_at = ? WHERE content_id = ?`,
		time.Now().UTC(), contentID,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: claim hero")
	}

	var h model.Hero
	err = tx.QueryRowContext(ctx,
		`SELECT content_id, image_url, status, source, title, excerpt, error_message, updated_at FROM heroes WHERE content_id = ?`,
		contentID,
	).Scan(&h.ContentID, &h.ImageURL, &h.Status, &h.Source, &h.Title, &h.Excerpt, &h.ErrorMessage, &h.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read claimed hero")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit hero claim")
	}
	return &h, nil
}

func (s *SQLiteStore) GetHero(ctx context.Context, contentID string) (*model.Hero, error) {
	var h model.Hero
	err := s.db.QueryRowContext(ctx,
		`SELECT content_id, image_url, status, source, title, excerpt, error_message, updated_at FROM heroes WHERE content_id = ?`,
		contentID,
	).Scan(&h.ContentID, &h.ImageURL, &h.Status, &h.Source, &h.Title, &h.Excerpt, &h.ErrorMessage, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Errorf("sqlite: hero %s not found", contentID)
		}
		return nil, eris.Wrapf(err, "sqlite: get hero %s", contentID)
	}
	return &h, nil
}

func (s *SQLiteStore) CompleteHero(ctx context.Context, contentID, imageURL string, source model.HeroSource) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE heroes SET status = 'ready', image_url = ?, source = ?, error_message = NULL, updated_at = ? WHERE content_id = ?`,
		imageURL, string(source), time.Now().UTC(), contentID,
	)
	return eris.Wrapf(err, "sqlite: complete hero %s", contentID)
}

func (s *SQLiteStore) FailHero(ctx context.Context, contentID, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE heroes SET status = 'failed', error_message = ?, updated_at = ? WHERE content_id = ?`,
		msg, time.Now().UTC(), contentID,
	)
	return eris.Wrapf(err, "sqlite: fail hero %s", contentID)
}

func (s *SQLiteStore) ResetHero(ctx context.Context, contentID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE heroes SET status = 'pending', error_message = NULL, updated_at = ? WHERE content_id = ?`,
		time.Now().UTC(), contentID,
	)
	return eris.Wrapf(err, "sqlite: reset hero %s", contentID)
}

// --- Feed queue ---

func (s *SQLiteStore) EnqueueFeedItem(ctx context.Context, contentID, topicID, contentHash string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feed_queue (content_id, topic_id, content_hash, status, created_at, updated_at)
		 VALUES (?, ?, ?, 'PENDING', ?, ?)
		 ON CONFLICT (content_id) DO NOTHING`,
		contentID, topicID, contentHash, now, now,
	)
	return eris.Wrapf(err, "sqlite: enqueue feed item %s", contentID)
}

func (s *SQLiteStore) PendingFeedTopics(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT topic_id FROM feed_queue WHERE status = 'PENDING'`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pending feed topics")
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan topic")
		}
		topics = append(topics, t)
	}
	return topics, eris.Wrap(rows.Err(), "sqlite: pending feed topics iterate")
}

func (s *SQLiteStore) PickFeedBatch(ctx context.Context, topicID string, limit int) ([]model.FeedQueueItem, error) {
	if limit <= 0 {
		limit = 20
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin feed pick")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM feed_queue WHERE topic_id = ? AND status = 'PENDING' ORDER BY id ASC LIMIT ?`,
		topicID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select feed candidates")
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan feed id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: select feed candidates iterate")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	args := make([]any, 0, len(ids)+2)
	args = append(args, now, now)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE feed_queue SET status = 'PROCESSING', picked_at = ?, updated_at = ? WHERE id IN (`+sqlitePlaceholders(len(ids))+`)`,
		args...,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: pick feed batch")
	}

	idArgs := make([]any, len(ids))
	for i, id := range ids {
		idArgs[i] = id
	}
	itemRows, err := tx.QueryContext(ctx,
		`SELECT id, content_id, topic_id, content_hash, status, attempts, picked_at, created_at, updated_at
		 FROM feed_queue WHERE id IN (`+sqlitePlaceholders(len(ids))+`) ORDER BY id ASC`,
		idArgs...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read picked feed items")
	}
	var items []model.FeedQueueItem
	for itemRows.Next() {
		var it model.FeedQueueItem
		if err := itemRows.Scan(&it.ID, &it.ContentID, &it.TopicID, &it.ContentHash, &it.Status, &it.Attempts, &it.PickedAt, &it.CreatedAt, &it.UpdatedAt); err != nil {
			itemRows.Close()
			return nil, eris.Wrap(err, "sqlite: scan feed item")
		}
		items = append(items, it)
	}
	itemRows.Close()
	if err := itemRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: read picked feed items iterate")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit feed pick")
	}
	return items, nil
}

func (s *SQLiteStore) feedItemsUpdate(ctx context.Context, query string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC())
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx, query+` (`+sqlitePlaceholders(len(ids))+`)`, args...)
	return err
}

func (s *SQLiteStore) CompleteFeedItems(ctx context.Context, ids []int64) error {
	err := s.feedItemsUpdate(ctx,
		`UPDATE feed_queue SET status = 'DONE', updated_at = ? WHERE id IN`, ids)
	return eris.Wrap(err, "sqlite: complete feed items")
}

func (s *SQLiteStore) FailFeedItems(ctx context.Context, ids []int64) error {
	err := s.feedItemsUpdate(ctx,
		`UPDATE feed_queue SET status = 'PENDING', attempts = attempts + 1, picked_at = NULL, updated_at = ? WHERE id IN`, ids)
	return eris.Wrap(err, "sqlite: fail feed items")
}

func (s *SQLiteStore) RequeueStuckFeedItems(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`UPDATE feed_queue SET status = 'PENDING', attempts = attempts + 1, picked_at = NULL, updated_at = ?
		 WHERE status = 'PROCESSING' AND picked_at < ?`,
		time.Now().UTC(), cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: requeue stuck feed items")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- Counts ---

func (s *SQLiteStore) countsQuery(ctx context.Context, query string, args ...any) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: counts query")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		counts[key] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: counts iterate")
}

func (s *SQLiteStore) PageStatusCounts(ctx context.Context, topicID string) (map[string]int, error) {
	return s.countsQuery(ctx,
		`SELECT status, COUNT(*) FROM monitored_pages WHERE topic_id = ? GROUP BY status`, topicID)
}

func (s *SQLiteStore) CitationStateCounts(ctx context.Context, topicID string) (map[string]int, error) {
	return s.countsQuery(ctx,
		`SELECT `+sqliteStateCase+` AS state, COUNT(*)
		 FROM citations c JOIN monitored_pages p ON p.id = c.page_id
		 WHERE p.topic_id = ? GROUP BY 1`, topicID)
}

func (s *SQLiteStore) ContentCount(ctx context.Context, topicID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contents WHERE topic_id = ?`, topicID,
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: content count")
}

func (s *SQLiteStore) HeroStatusCounts(ctx context.Context, topicID string) (map[string]int, error) {
	return s.countsQuery(ctx,
		`SELECT h.status, COUNT(*) FROM heroes h JOIN contents c ON c.id = h.content_id
		 WHERE c.topic_id = ? GROUP BY h.status`, topicID)
}

func (s *SQLiteStore) FeedStatusCounts(ctx context.Context, topicID string) (map[string]int, error) {
	return s.countsQuery(ctx,
		`SELECT status, COUNT(*) FROM feed_queue WHERE topic_id = ? GROUP BY status`, topicID)
}
