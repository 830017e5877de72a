package frontier

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/ddoubleg123/carrot-sub001/internal/db"
)

// PostgresFrontier stores candidates in a shared Postgres table. The
// delete-with-subselect pop relies on FOR UPDATE SKIP LOCKED so that
// concurrent workers never receive the same candidate.
type PostgresFrontier struct {
	pool db.Pool
}

// NewPostgres creates a PostgresFrontier on an existing pool.
func NewPostgres(pool db.Pool) *PostgresFrontier {
	return &PostgresFrontier{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS frontier (
	id            BIGSERIAL PRIMARY KEY,
	topic_id      TEXT NOT NULL,
	canonical_url TEXT NOT NULL,
	url           TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	priority      INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (topic_id, canonical_url)
);

CREATE INDEX IF NOT EXISTS idx_frontier_pop ON frontier(topic_id, priority DESC, id ASC);
`

const popSQL = `
DELETE FROM frontier WHERE id = (
	SELECT id FROM frontier
	WHERE topic_id = $1
	ORDER BY priority DESC, id ASC
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING url, canonical_url, title, priority`

func (f *PostgresFrontier) Migrate(ctx context.Context) error {
	_, err := f.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "frontier: migrate")
}

func (f *PostgresFrontier) Enqueue(ctx context.Context, topicID string, c Candidate) (bool, error) {
	tag, err := f.pool.Exec(ctx,
		`INSERT INTO frontier (topic_id, canonical_url, url, title, priority)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (topic_id, canonical_url) DO NOTHING`,
		topicID, c.CanonicalURL, c.URL, c.Title, c.Priority,
	)
	if err != nil {
		return false, eris.Wrapf(err, "frontier: enqueue %s", c.CanonicalURL)
	}
	return tag.RowsAffected() > 0, nil
}

func (f *PostgresFrontier) Pop(ctx context.Context, topicID string) (*Candidate, error) {
	var c Candidate
	err := f.pool.QueryRow(ctx, popSQL, topicID).
		Scan(&c.URL, &c.CanonicalURL, &c.Title, &c.Priority)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "frontier: pop")
	}
	return &c, nil
}

func (f *PostgresFrontier) Size(ctx context.Context, topicID string) (int, error) {
	var n int
	err := f.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM frontier WHERE topic_id = $1`, topicID,
	).Scan(&n)
	return n, eris.Wrap(err, "frontier: size")
}

func (f *PostgresFrontier) Clear(ctx context.Context, topicID string) (int, error) {
	tag, err := f.pool.Exec(ctx,
		`DELETE FROM frontier WHERE topic_id = $1`, topicID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "frontier: clear")
	}
	return int(tag.RowsAffected()), nil
}
