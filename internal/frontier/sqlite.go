package frontier

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteFrontier is the single-node dev backend.
type SQLiteFrontier struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a SQLite frontier at the given path.
func NewSQLite(dsn string) (*SQLiteFrontier, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "frontier: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "frontier: exec %s", pragma)
		}
	}
	return &SQLiteFrontier{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS frontier (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	topic_id      TEXT NOT NULL,
	canonical_url TEXT NOT NULL,
	url           TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	priority      INTEGER NOT NULL DEFAULT 0,
	UNIQUE (topic_id, canonical_url)
);
`

func (f *SQLiteFrontier) Migrate(ctx context.Context) error {
	_, err := f.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "frontier: migrate")
}

func (f *SQLiteFrontier) Close() error {
	return eris.Wrap(f.db.Close(), "frontier: close")
}

func (f *SQLiteFrontier) Enqueue(ctx context.Context, topicID string, c Candidate) (bool, error) {
	res, err := f.db.ExecContext(ctx,
		`INSERT INTO frontier (topic_id, canonical_url, url, title, priority)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (topic_id, canonical_url) DO NOTHING`,
		topicID, c.CanonicalURL, c.URL, c.Title, c.Priority,
	)
	if err != nil {
		return false, eris.Wrapf(err, "frontier: enqueue %s", c.CanonicalURL)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (f *SQLiteFrontier) Pop(ctx context.Context, topicID string) (*Candidate, error) {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "frontier: begin pop")
	}
	defer tx.Rollback()

	var id int64
	var c Candidate
	err = tx.QueryRowContext(ctx,
		`SELECT id, url, canonical_url, title, priority FROM frontier
		 WHERE topic_id = ? ORDER BY priority DESC, id ASC LIMIT 1`,
		topicID,
	).Scan(&id, &c.URL, &c.CanonicalURL, &c.Title, &c.Priority)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "frontier: select pop candidate")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM frontier WHERE id = ?`, id); err != nil {
		return nil, eris.Wrap(err, "frontier: delete popped")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "frontier: commit pop")
	}
	return &c, nil
}

func (f *SQLiteFrontier) Size(ctx context.Context, topicID string) (int, error) {
	var n int
	err := f.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM frontier WHERE topic_id = ?`, topicID,
	).Scan(&n)
	return n, eris.Wrap(err, "frontier: size")
}

func (f *SQLiteFrontier) Clear(ctx context.Context, topicID string) (int, error) {
	res, err := f.db.ExecContext(ctx,
		`DELETE FROM frontier WHERE topic_id = ?`, topicID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "frontier: clear")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
