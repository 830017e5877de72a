package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/ddoubleg123/carrot-sub001/internal/db"
	"github.com/ddoubleg123/carrot-sub001/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const citationColumns = `id, page_id, url, title, section_context, source_number, surrounding_text,
	verification_status, scan_status, relevance_decision, ai_priority_score,
	extracted_text, saved_content_id, error_message, created_at, updated_at`

// claimCitationSQL atomically claims the highest-priority eligible citation
// for a topic. The SKIP LOCKED subselect guarantees no two workers receive
// the same row even under concurrent polling.
const claimCitationSQL = `
UPDATE citations SET scan_status = 'scanning', updated_at = now()
WHERE id = (
	SELECT c.id FROM citations c
	JOIN monitored_pages p ON p.id = c.page_id
	WHERE p.topic_id = $1
	  AND c.relevance_decision IS NULL
	  AND c.verification_status IN ('pending', 'verified')
	  AND c.scan_status = 'not_scanned'
	ORDER BY c.ai_priority_score DESC NULLS LAST, c.created_at ASC
	FOR UPDATE OF c SKIP LOCKED
	LIMIT 1
)
RETURNING ` + citationColumns

// claimHeroSQL claims one pending hero task.
const claimHeroSQL = `
UPDATE heroes SET status = 'enriching', updated_at = now()
WHERE content_id = (
	SELECT content_id FROM heroes
	WHERE status = 'pending'
	ORDER BY updated_at ASC
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING content_id, image_url, status, source, title, excerpt, error_message, updated_at`

// pickFeedBatchSQL moves up to $2 pending items for a topic into flight.
const pickFeedBatchSQL = `
UPDATE feed_queue SET status = 'PROCESSING', picked_at = now(), updated_at = now()
WHERE id IN (
	SELECT id FROM feed_queue
	WHERE topic_id = $1 AND status = 'PENDING'
	ORDER BY id ASC
	FOR UPDATE SKIP LOCKED
	LIMIT $2
)
RETURNING id, content_id, topic_id, content_hash, status, attempts, picked_at, created_at, updated_at`

// citationStateCase derives the single tagged state from the three
// compatibility columns; mirrors model.StateOf.
const citationStateCase = `CASE
	WHEN c.relevance_decision = 'saved' THEN 'saved'
	WHEN c.relevance_decision = 'denied' THEN 'denied'
	WHEN c.verification_status = 'failed' THEN 'verify_failed'
	WHEN c.scan_status = 'scanning' THEN 'scanning'
	WHEN c.scan_status = 'scanned' THEN 'scanned'
	WHEN c.scan_status = 'scanned_denied' THEN 'scan_denied'
	WHEN c.verification_status = 'verified' THEN 'verified'
	ELSE 'pending'
END`

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"claim_citation":  claimCitationSQL,
	"claim_hero":      claimHeroSQL,
	"pick_feed_batch": pickFeedBatchSQL,
	"get_run_status":  `SELECT status FROM discovery_runs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access (e.g., the frontier).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS discovery_runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	topic_id     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	metrics      JSONB,
	error        TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS monitored_pages (
	id                  BIGSERIAL PRIMARY KEY,
	topic_id            TEXT NOT NULL,
	url                 TEXT NOT NULL,
	title               TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'pending',
	priority            INTEGER NOT NULL DEFAULT 0,
	citation_count      INTEGER NOT NULL DEFAULT 0,
	content_scanned     BOOLEAN NOT NULL DEFAULT false,
	citations_extracted BOOLEAN NOT NULL DEFAULT false,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (topic_id, url)
);

CREATE TABLE IF NOT EXISTS citations (
	id                  BIGSERIAL PRIMARY KEY,
	page_id             BIGINT NOT NULL REFERENCES monitored_pages(id),
	url                 TEXT NOT NULL,
	title               TEXT,
	section_context     TEXT NOT NULL DEFAULT '',
	source_number       INTEGER,
	surrounding_text    TEXT NOT NULL DEFAULT '',
	verification_status TEXT NOT NULL DEFAULT 'pending',
	scan_status         TEXT NOT NULL DEFAULT 'not_scanned',
	relevance_decision  TEXT,
	ai_priority_score   DOUBLE PRECISION,
	extracted_text      TEXT,
	saved_content_id    TEXT,
	error_message       TEXT,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	relevance_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
	quality_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	importance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	provenance       JSONB,
	metadata         JSONB,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS feed_queue (
	id           BIGSERIAL PRIMARY KEY,
	content_id   TEXT NOT NULL REFERENCES contents(id),
	topic_id     TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'PENDING',
	attempts     INTEGER NOT NULL DEFAULT 0,
	picked_at    TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (content_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_topic_status ON discovery_runs(topic_id, status);
CREATE INDEX IF NOT EXISTS idx_pages_topic_status ON monitored_pages(topic_id, status);
CREATE INDEX IF NOT EXISTS idx_citations_page_id ON citations(page_id);
CREATE INDEX IF NOT EXISTS idx_citations_claim ON citations(scan_status, verification_status) WHERE relevance_decision IS NULL;
CREATE INDEX IF NOT EXISTS idx_contents_topic ON contents(topic_id);
CREATE INDEX IF NOT EXISTS idx_heroes_status ON heroes(status);
CREATE INDEX IF NOT EXISTS idx_feed_queue_topic_status ON feed_queue(topic_id, status);
CREATE INDEX IF NOT EXISTS idx_feed_queue_picked_at ON feed_queue(picked_at) WHERE status = 'PROCESSING';
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, topicID string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO discovery_runs (id, topic_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, topicID, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		TopicID:   topicID,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var metricsJSON []byte
	var errMsg *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, topic_id, status, metrics, error, created_at, updated_at, completed_at FROM discovery_runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.TopicID, &r.Status, &metricsJSON, &errMsg, &r.CreatedAt, &r.UpdatedAt, &r.CompletedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if errMsg != nil {
		r.Error = *errMsg
	}
	if metricsJSON != nil {
		r.Metrics = &model.MetricsSnapshot{}
		if err := json.Unmarshal(metricsJSON, r.Metrics); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run metrics")
		}
	}
	return &r, nil
}

func (s *PostgresStore) GetRunStatus(ctx context.Context, runID string) (model.RunStatus, error) {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM discovery_runs WHERE id = $1`, runID,
	).Scan(&status)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: get run status %s", runID)
	}
	return model.RunStatus(status), nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	query := `UPDATE discovery_runs SET status = $1, updated_at = $2 WHERE id = $3`
	if status == model.RunStatusCompleted || status == model.RunStatusStopped {
		query = `UPDATE discovery_runs SET status = $1, updated_at = $2, completed_at = $2 WHERE id = $3`
	}
	tag, err := s.pool.Exec(ctx, query, string(status), time.Now().UTC(), runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovery_runs SET status = $1, updated_at = $2, completed_at = $2 WHERE id = $3 AND status = $4`,
		string(model.RunStatusCompleted), time.Now().UTC(), runID, string(model.RunStatusLive),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) SetRunError(ctx context.Context, runID string, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovery_runs SET status = $1, error = $2, updated_at = $3, completed_at = $3 WHERE id = $4`,
		string(model.RunStatusError), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set run error %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunMetrics(ctx context.Context, runID string, snap *model.MetricsSnapshot) error {
	metricsJSON, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal metrics")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE discovery_runs SET metrics = $1, updated_at = $2 WHERE id = $3`,
		metricsJSON, time.Now().UTC(), runID,
	)
	return eris.Wrapf(err, "postgres: update run metrics %s", runID)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, topic_id, status, metrics, error, created_at, updated_at, completed_at FROM discovery_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.TopicID != "" {
		query += fmt.Sprintf(` AND topic_id = $%d`, argIdx)
		args = append(args, filter.TopicID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var metricsJSON []byte
		var errMsg *string

		if err := rows.Scan(&r.ID, &r.TopicID, &r.Status, &metricsJSON, &errMsg, &r.CreatedAt, &r.UpdatedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		if metricsJSON != nil {
			r.Metrics = &model.MetricsSnapshot{}
			if err := json.Unmarshal(metricsJSON, r.Metrics); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal run metrics")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// --- Monitored pages ---

func (s *PostgresStore) RegisterPage(ctx context.Context, topicID, url, title string, priority int) (*model.MonitoredPage, bool, error) {
	now := time.Now().UTC()

	var p model.MonitoredPage
	err := s.pool.QueryRow(ctx,
		`INSERT INTO monitored_pages (topic_id, url, title, status, priority, created_at, updated_at)
		 VALUES ($1, $2, $3, 'pending', $4, $5, $5)
		 ON CONFLICT (topic_id, url) DO NOTHING
		 RETURNING id, topic_id, url, title, status, priority, citation_count, content_scanned, citations_extracted, created_at, updated_at`,
		topicID, url, title, priority, now,
	).Scan(&p.ID, &p.TopicID, &p.URL, &p.Title, &p.Status, &p.Priority, &p.CitationCount, &p.ContentScanned, &p.CitationsExtracted, &p.CreatedAt, &p.UpdatedAt)
	if err == nil {
		return &p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, eris.Wrapf(err, "postgres: register page %s", url)
	}

	// Conflict: the page already exists for this topic.
	err = s.pool.QueryRow(ctx,
		`SELECT id, topic_id, url, title, status, priority, citation_count, content_scanned, citations_extracted, created_at, updated_at
		 FROM monitored_pages WHERE topic_id = $1 AND url = $2`,
		topicID, url,
	).Scan(&p.ID, &p.TopicID, &p.URL, &p.Title, &p.Status, &p.Priority, &p.CitationCount, &p.ContentScanned, &p.CitationsExtracted, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: lookup page %s", url)
	}
	return &p, false, nil
}

func (s *PostgresStore) GetPage(ctx context.Context, pageID int64) (*model.MonitoredPage, error) {
	var p model.MonitoredPage
	err := s.pool.QueryRow(ctx,
		`SELECT id, topic_id, url, title, status, priority, citation_count, content_scanned, citations_extracted, created_at, updated_at
		 FROM monitored_pages WHERE id = $1`,
		pageID,
	).Scan(&p.ID, &p.TopicID, &p.URL, &p.Title, &p.Status, &p.Priority, &p.CitationCount, &p.ContentScanned, &p.CitationsExtracted, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get page %d", pageID)
	}
	return &p, nil
}

func (s *PostgresStore) ListPages(ctx context.Context, topicID string, status model.PageStatus, limit int) ([]model.MonitoredPage, error) {
	query := `SELECT id, topic_id, url, title, status, priority, citation_count, content_scanned, citations_extracted, created_at, updated_at
		 FROM monitored_pages WHERE topic_id = $1`
	args := []any{topicID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY priority DESC, id ASC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pages")
	}
	defer rows.Close()

	var pages []model.MonitoredPage
	for rows.Next() {
		var p model.MonitoredPage
		if err := rows.Scan(&p.ID, &p.TopicID, &p.URL, &p.Title, &p.Status, &p.Priority, &p.CitationCount, &p.ContentScanned, &p.CitationsExtracted, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan page")
		}
		pages = append(pages, p)
	}
	return pages, eris.Wrap(rows.Err(), "postgres: list pages iterate")
}

func (s *PostgresStore) UpdatePageStatus(ctx context.Context, pageID int64, status model.PageStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE monitored_pages SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), pageID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update page status %d", pageID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("page not found: %d", pageID)
	}
	return nil
}

func (s *PostgresStore) MarkPageExtracted(ctx context.Context, pageID int64, citationCount int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE monitored_pages
		 SET content_scanned = true, citations_extracted = true, citation_count = $1, status = 'scanning', updated_at = $2
		 WHERE id = $3`,
		citationCount, time.Now().UTC(), pageID,
	)
	return eris.Wrapf(err, "postgres: mark page extracted %d", pageID)
}

func (s *PostgresStore) PagesWithUnfinishedWork(ctx context.Context, topicID string) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id FROM monitored_pages p
		 WHERE p.topic_id = $1 AND p.status = 'completed'
		   AND EXISTS (
		     SELECT 1 FROM citations c
		     WHERE c.page_id = p.id
		       AND c.relevance_decision IS NULL
		       AND c.verification_status != 'failed'
		       AND c.scan_status NOT IN ('scanned', 'scanned_denied')
		   )`,
		topicID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pages with unfinished work")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan page id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: pages with unfinished work iterate")
}

func (s *PostgresStore) ReopenPage(ctx context.Context, pageID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE monitored_pages SET status = 'scanning', updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), pageID,
	)
	return eris.Wrapf(err, "postgres: reopen page %d", pageID)
}

func (s *PostgresStore) CompleteFinishedPages(ctx context.Context, topicID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE monitored_pages p SET status = 'completed', updated_at = now()
		 WHERE p.topic_id = $1 AND p.status = 'scanning' AND p.citations_extracted
		   AND NOT EXISTS (
		     SELECT 1 FROM citations c
		     WHERE c.page_id = p.id
		       AND c.relevance_decision IS NULL
		       AND c.verification_status != 'failed'
		       AND c.scan_status NOT IN ('scanned', 'scanned_denied')
		   )`,
		topicID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: complete finished pages")
	}
	return int(tag.RowsAffected()), nil
}

// --- Citations ---

func (s *PostgresStore) InsertCitations(ctx context.Context, pageID int64, cits []model.Citation) (int, error) {
	now := time.Now().UTC()
	inserted := 0
	for _, c := range cits {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO citations (page_id, url, title, section_context, source_number, surrounding_text, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			 ON CONFLICT (page_id, url) DO NOTHING`,
			pageID, c.URL, c.Title, c.SectionContext, c.SourceNumber, c.SurroundingText, now,
		)
		if err != nil {
			return inserted, eris.Wrapf(err, "postgres: insert citation %s", c.URL)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (s *PostgresStore) ListCitationsByPage(ctx context.Context, pageID int64) ([]model.Citation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+citationColumns+` FROM citations WHERE page_id = $1 ORDER BY id ASC`, pageID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list citations page %d", pageID)
	}
	defer rows.Close()

	var cits []model.Citation
	for rows.Next() {
		c, err := scanCitation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan citation")
		}
		cits = append(cits, *c)
	}
	return cits, eris.Wrap(rows.Err(), "postgres: list citations iterate")
}

func scanCitation(row pgx.Row) (*model.Citation, error) {
	var c model.Citation
	err := row.Scan(&c.ID, &c.PageID, &c.URL, &c.Title, &c.SectionContext, &c.SourceNumber, &c.SurroundingText,
		&c.VerificationStatus, &c.ScanStatus, &c.RelevanceDecision, &c.AIPriorityScore,
		&c.ExtractedText, &c.SavedContentID, &c.ErrorMessage, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) GetCitation(ctx context.Context, id int64) (*model.Citation, error) {
	c, err := scanCitation(s.pool.QueryRow(ctx,
		`SELECT `+citationColumns+` FROM citations WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get citation %d", id)
	}
	return c, nil
}

func (s *PostgresStore) ClaimNextCitation(ctx context.Context, topicID string) (*model.Citation, error) {
	c, err := scanCitation(s.pool.QueryRow(ctx, claimCitationSQL, topicID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: claim citation")
	}
	return c, nil
}

func (s *PostgresStore) MarkVerified(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE citations SET verification_status = 'verified', error_message = NULL, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "postgres: mark verified %d", id)
}

func (s *PostgresStore) MarkVerificationFailed(ctx context.Context, id int64, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE citations SET verification_status = 'failed', scan_status = 'not_scanned', error_message = $1, updated_at = $2 WHERE id = $3`,
		reason, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "postgres: mark verification failed %d", id)
}

func (s *PostgresStore) MarkScanned(ctx context.Context, id int64, text string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE citations SET scan_status = 'scanned', extracted_text = $1, updated_at = $2 WHERE id = $3`,
		text, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "postgres: mark scanned %d", id)
}

func (s *PostgresStore) MarkScanDenied(ctx context.Context, id int64, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE citations SET scan_status = 'scanned_denied', error_message = $1, updated_at = $2 WHERE id = $3`,
		reason, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "postgres: mark scan denied %d", id)
}

func (s *PostgresStore) SetCitationScore(ctx context.Context, id int64, score float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE citations SET ai_priority_score = $1, updated_at = $2 WHERE id = $3`,
		score, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "postgres: set citation score %d", id)
}

func (s *PostgresStore) SetCitationError(ctx context.Context, id int64, msg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE citations SET error_message = $1, updated_at = $2 WHERE id = $3`,
		msg, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "postgres: set citation error %d", id)
}

func (s *PostgresStore) DecideCitation(ctx context.Context, id int64, decision model.RelevanceDecision, contentID *string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE citations SET relevance_decision = $1, saved_content_id = $2, updated_at = $3 WHERE id = $4`,
		string(decision), contentID, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "postgres: decide citation %d", id)
}

func (s *PostgresStore) ResetCitation(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE citations
		 SET verification_status = 'pending', scan_status = 'not_scanned', relevance_decision = NULL,
		     error_message = NULL, extracted_text = NULL, saved_content_id = NULL, updated_at = $1
		 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "postgres: reset citation %d", id)
}

func (s *PostgresStore) RequeueStuckCitations(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE citations SET scan_status = 'not_scanned', updated_at = now()
		 WHERE scan_status = 'scanning' AND relevance_decision IS NULL AND updated_at < now() - make_interval(secs => $1)`,
		olderThan.Seconds(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: requeue stuck citations")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) RemoveInternalCitations(ctx context.Context, pageID int64, urls []string) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM citations WHERE page_id = $1 AND url = ANY($2)`,
		pageID, urls,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: remove internal citations page %d", pageID)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) OrphanedSavedCitations(ctx context.Context, limit int) ([]model.Citation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+citationColumns+` FROM citations
		 WHERE relevance_decision = 'saved' AND saved_content_id IS NULL
		 ORDER BY updated_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: orphaned saved citations")
	}
	defer rows.Close()

	var cits []model.Citation
	for rows.Next() {
		c, err := scanCitation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan citation")
		}
		cits = append(cits, *c)
	}
	return cits, eris.Wrap(rows.Err(), "postgres: orphaned saved citations iterate")
}

// --- Contents ---

func (s *PostgresStore) PersistContent(ctx context.Context, c *model.Content) (string, bool, error) {
	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()

	provJSON, err := json.Marshal(c.Provenance)
	if err != nil {
		return "", false, eris.Wrap(err, "postgres: marshal provenance")
	}
	metaJSON, err := json.Marshal(c.Metadata)
	if err != nil {
		return "", false, eris.Wrap(err, "postgres: marshal metadata")
	}

	var gotID string
	err = s.pool.QueryRow(ctx,
		`INSERT INTO contents (id, topic_id, canonical_url, source_url, title, domain, text, content_hash,
		                       relevance_score, quality_score, importance_score, provenance, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (topic_id, canonical_url) DO NOTHING
		 RETURNING id`,
		id, c.TopicID, c.CanonicalURL, c.SourceURL, c.Title, c.Domain, c.Text, c.ContentHash,
		c.RelevanceScore, c.QualityScore, c.ImportanceScore, provJSON, metaJSON, now,
	).Scan(&gotID)
	if err == nil {
		return gotID, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, eris.Wrapf(err, "postgres: persist content %s", c.CanonicalURL)
	}

	// Conflict: another worker (or an earlier run) already saved this
	// canonical URL for the topic. Reuse the existing row.
	err = s.pool.QueryRow(ctx,
		`SELECT id FROM contents WHERE topic_id = $1 AND canonical_url = $2`,
		c.TopicID, c.CanonicalURL,
	).Scan(&gotID)
	if err != nil {
		return "", false, eris.Wrapf(err, "postgres: lookup content %s", c.CanonicalURL)
	}
	return gotID, false, nil
}

func (s *PostgresStore) GetContent(ctx context.Context, id string) (*model.Content, error) {
	var c model.Content
	var provJSON, metaJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, topic_id, canonical_url, source_url, title, domain, text, content_hash,
		        relevance_score, quality_score, importance_score, provenance, metadata, created_at
		 FROM contents WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.TopicID, &c.CanonicalURL, &c.SourceURL, &c.Title, &c.Domain, &c.Text, &c.ContentHash,
		&c.RelevanceScore, &c.QualityScore, &c.ImportanceScore, &provJSON, &metaJSON, &c.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get content %s", id)
	}

	if provJSON != nil {
		if err := json.Unmarshal(provJSON, &c.Provenance); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal provenance")
		}
	}
	if metaJSON != nil {
		if err := json.Unmarshal(metaJSON, &c.Metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal metadata")
		}
	}
	return &c, nil
}

func (s *PostgresStore) contentsMissing(ctx context.Context, joinTable, joinCol string, limit int) ([]model.Content, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.topic_id, c.canonical_url, c.source_url, c.title, c.domain, c.text, c.content_hash,
		        c.relevance_score, c.quality_score, c.importance_score, c.provenance, c.metadata, c.created_at
		 FROM contents c
		 LEFT JOIN `+joinTable+` j ON j.`+joinCol+` = c.id
		 WHERE j.`+joinCol+` IS NULL
		 ORDER BY c.created_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: contents missing %s", joinTable)
	}
	defer rows.Close()

	var contents []model.Content
	for rows.Next() {
		var c model.Content
		var provJSON, metaJSON []byte
		if err := rows.Scan(&c.ID, &c.TopicID, &c.CanonicalURL, &c.SourceURL, &c.Title, &c.Domain, &c.Text, &c.ContentHash,
			&c.RelevanceScore, &c.QualityScore, &c.ImportanceScore, &provJSON, &metaJSON, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan content")
		}
		if provJSON != nil {
			if err := json.Unmarshal(provJSON, &c.Provenance); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal provenance")
			}
		}
		if metaJSON != nil {
			if err := json.Unmarshal(metaJSON, &c.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal metadata")
			}
		}
		contents = append(contents, c)
	}
	return contents, eris.Wrap(rows.Err(), "postgres: contents missing iterate")
}

func (s *PostgresStore) ContentsMissingHero(ctx context.Context, limit int) ([]model.Content, error) {
	return s.contentsMissing(ctx, "heroes", "content_id", limit)
}

func (s *PostgresStore) ContentsMissingFeed(ctx context.Context, limit int) ([]model.Content, error) {
	return s.contentsMissing(ctx, "feed_queue", "content_id", limit)
}

// --- Heroes ---

func (s *PostgresStore) CreateHeroTask(ctx context.Context, contentID, title, excerpt string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO heroes (content_id, status, title, excerpt, updated_at)
		 VALUES ($1, 'pending', $2, $3, $4)
		 ON CONFLICT (content_id) DO NOTHING`,
		contentID, title, excerpt, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: create hero task %s", contentID)
}

func (s *PostgresStore) ClaimHeroTask(ctx context.Context) (*model.Hero, error) {
	var h model.Hero
	err := s.pool.QueryRow(ctx, claimHeroSQL).
		Scan(&h.ContentID, &h.ImageURL, &h.Status, &h.Source, &h.Title, &h.Excerpt, &h.ErrorMessage, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: claim hero task")
	}
	return &h, nil
}

func (s *PostgresStore) GetHero(ctx context.Context, contentID string) (*model.Hero, error) {
	var h model.Hero
	err := s.pool.QueryRow(ctx,
		`SELECT content_id, image_url, status, source, title, excerpt, error_message, updated_at FROM heroes WHERE content_id = $1`,
		contentID,
	).Scan(&h.ContentID, &h.ImageURL, &h.Status, &h.Source, &h.Title, &h.Excerpt, &h.ErrorMessage, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("postgres: hero %s not found", contentID)
		}
		return nil, eris.Wrapf(err, "postgres: get hero %s", contentID)
	}
	return &h, nil
}

func (s *PostgresStore) CompleteHero(ctx context.Context, contentID, imageURL string, source model.HeroSource) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE heroes SET status = 'ready', image_url = $1, source = $2, error_message = NULL, updated_at = $3 WHERE content_id = $4`,
		imageURL, string(source), time.Now().UTC(), contentID,
	)
	return eris.Wrapf(err, "postgres: complete hero %s", contentID)
}

func (s *PostgresStore) FailHero(ctx context.Context, contentID, msg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE heroes SET status = 'failed', error_message = $1, updated_at = $2 WHERE content_id = $3`,
		msg, time.Now().UTC(), contentID,
	)
	return eris.Wrapf(err, "postgres: fail hero %s", contentID)
}

func (s *PostgresStore) ResetHero(ctx context.Context, contentID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE heroes SET status = 'pending', error_message = NULL, updated_at = $1 WHERE content_id = $2`,
		time.Now().UTC(), contentID,
	)
	return eris.Wrapf(err, "postgres: reset hero %s", contentID)
}

// --- Feed queue ---

func (s *PostgresStore) EnqueueFeedItem(ctx context.Context, contentID, topicID, contentHash string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO feed_queue (content_id, topic_id, content_hash, status, created_at, updated_at)
		 VALUES ($1, $2, $3, 'PENDING', $4, $4)
		 ON CONFLICT (content_id) DO NOTHING`,
		contentID, topicID, contentHash, now,
	)
	return eris.Wrapf(err, "postgres: enqueue feed item %s", contentID)
}

func (s *PostgresStore) PendingFeedTopics(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT topic_id FROM feed_queue WHERE status = 'PENDING'`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pending feed topics")
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, eris.Wrap(err, "postgres: scan topic")
		}
		topics = append(topics, t)
	}
	return topics, eris.Wrap(rows.Err(), "postgres: pending feed topics iterate")
}

func (s *PostgresStore) PickFeedBatch(ctx context.Context, topicID string, limit int) ([]model.FeedQueueItem, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, pickFeedBatchSQL, topicID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pick feed batch")
	}
	defer rows.Close()

	var items []model.FeedQueueItem
	for rows.Next() {
		var it model.FeedQueueItem
		if err := rows.Scan(&it.ID, &it.ContentID, &it.TopicID, &it.ContentHash, &it.Status, &it.Attempts, &it.PickedAt, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan feed item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: pick feed batch iterate")
}

func (s *PostgresStore) CompleteFeedItems(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE feed_queue SET status = 'DONE', updated_at = now() WHERE id = ANY($1)`,
		ids,
	)
	return eris.Wrap(err, "postgres: complete feed items")
}

func (s *PostgresStore) FailFeedItems(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE feed_queue SET status = 'PENDING', attempts = attempts + 1, picked_at = NULL, updated_at = now() WHERE id = ANY($1)`,
		ids,
	)
	return eris.Wrap(err, "postgres: fail feed items")
}

func (s *PostgresStore) RequeueStuckFeedItems(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE feed_queue SET status = 'PENDING', attempts = attempts + 1, picked_at = NULL, updated_at = now()
		 WHERE status = 'PROCESSING' AND picked_at < now() - make_interval(secs => $1)`,
		olderThan.Seconds(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: requeue stuck feed items")
	}
	return int(tag.RowsAffected()), nil
}

// --- Counts ---

func (s *PostgresStore) countsQuery(ctx context.Context, query string, args ...any) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: counts query")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan count")
		}
		counts[key] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: counts iterate")
}

func (s *PostgresStore) PageStatusCounts(ctx context.Context, topicID string) (map[string]int, error) {
	return s.countsQuery(ctx,
		`SELECT status, COUNT(*) FROM monitored_pages WHERE topic_id = $1 GROUP BY status`, topicID)
}

func (s *PostgresStore) CitationStateCounts(ctx context.Context, topicID string) (map[string]int, error) {
	return s.countsQuery(ctx,
		`SELECT `+citationStateCase+` AS state, COUNT(*)
		 FROM citations c JOIN monitored_pages p ON p.id = c.page_id
		 WHERE p.topic_id = $1 GROUP BY 1`, topicID)
}

func (s *PostgresStore) ContentCount(ctx context.Context, topicID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM contents WHERE topic_id = $1`, topicID,
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: content count")
}

func (s *PostgresStore) HeroStatusCounts(ctx context.Context, topicID string) (map[string]int, error) {
	return s.countsQuery(ctx,
		`SELECT h.status, COUNT(*) FROM heroes h JOIN contents c ON c.id = h.content_id
		 WHERE c.topic_id = $1 GROUP BY h.status`, topicID)
}

func (s *PostgresStore) FeedStatusCounts(ctx context.Context, topicID string) (map[string]int, error) {
	return s.countsQuery(ctx,
		`SELECT status, COUNT(*) FROM feed_queue WHERE topic_id = $1 GROUP BY status`, topicID)
}
