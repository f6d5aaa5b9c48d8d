package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openviking/openviking/pkg/errdefs"
)

// SQLite is the durable queue backend. A single writer connection plus the
// claim mutex keeps claim-then-mark atomic without explicit transactions on
// every call.
type SQLite struct {
	db      *sql.DB
	timeout time.Duration

	claimMu sync.Mutex
}

var _ Queue = (*SQLite)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS semantic_queue (
	id         TEXT PRIMARY KEY,
	uri        TEXT NOT NULL,
	depth      INTEGER NOT NULL,
	status     TEXT NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	claimed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_semantic_queue_status ON semantic_queue(status, depth);
CREATE INDEX IF NOT EXISTS idx_semantic_queue_uri ON semantic_queue(uri);
`

func NewSQLite(path string, timeout time.Duration) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite queue path is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	return &SQLite{db: db, timeout: timeout}, nil
}

func (s *SQLite) Enqueue(ctx context.Context, msgs ...*Msg) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, msg := range msgs {
		var n int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM semantic_queue WHERE uri = ? AND status = ?`,
			msg.URI, StatusPending).Scan(&n)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO semantic_queue (id, uri, depth, status, attempts, error, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.URI, msg.Depth, msg.Status, msg.Attempts, msg.Error, msg.CreatedAt, msg.UpdatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// claimQuery picks the deepest pending message with no outstanding strict
// descendant. Descendancy is a SUBSTR comparison against `uri || '/'`
// rather than LIKE, since URIs routinely contain `_` (sanitized whitespace)
// and LIKE would treat it as a wildcard.
const claimQuery = `
SELECT id, uri, depth, status, attempts, error, created_at, updated_at
FROM semantic_queue m
WHERE m.status = 'pending'
  AND NOT EXISTS (
    SELECT 1 FROM semantic_queue d
    WHERE d.status IN ('pending', 'processing')
      AND SUBSTR(d.uri, 1, LENGTH(m.uri) + 1) = m.uri || '/'
  )
ORDER BY m.depth DESC, m.id ASC
LIMIT 1`

func (s *SQLite) Claim(ctx context.Context) (*Msg, bool, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE semantic_queue SET status = ?, updated_at = ? WHERE status = ? AND claimed_at < ?`,
		StatusPending, now, StatusProcessing, now.Add(-s.timeout))
	if err != nil {
		return nil, false, err
	}

	var msg Msg
	err = s.db.QueryRowContext(ctx, claimQuery).Scan(
		&msg.ID, &msg.URI, &msg.Depth, &msg.Status, &msg.Attempts, &msg.Error,
		&msg.CreatedAt, &msg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	msg.Status = StatusProcessing
	msg.Attempts++
	msg.ClaimedAt = now
	msg.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`UPDATE semantic_queue SET status = ?, attempts = ?, claimed_at = ?, updated_at = ? WHERE id = ?`,
		msg.Status, msg.Attempts, msg.ClaimedAt, msg.UpdatedAt, msg.ID)
	if err != nil {
		return nil, false, err
	}
	return &msg, true, nil
}

func (s *SQLite) Complete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE semantic_queue SET status = ?, error = '', updated_at = ? WHERE id = ?`,
		StatusCompleted, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

func (s *SQLite) Fail(ctx context.Context, id string, reason string, retryable bool) error {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`SELECT attempts FROM semantic_queue WHERE id = ?`, id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return errdefs.NotFound(id)
	}
	if err != nil {
		return err
	}

	status := StatusFailed
	if retryable && attempts < MaxAttempts {
		status = StatusPending
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE semantic_queue SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, reason, time.Now().UTC(), id)
	return err
}

func (s *SQLite) Outstanding(ctx context.Context, prefix string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM semantic_queue
		 WHERE status IN ('pending', 'processing')
		   AND (uri = ? OR SUBSTR(uri, 1, LENGTH(?) + 1) = ? || '/')`,
		prefix, prefix, prefix).Scan(&n)
	return n > 0, err
}

func (s *SQLite) PurgePrefix(ctx context.Context, prefix string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM semantic_queue
		 WHERE uri = ? OR SUBSTR(uri, 1, LENGTH(?) + 1) = ? || '/'`,
		prefix, prefix, prefix)
	return err
}

func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM semantic_queue GROUP BY status`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, err
		}
		switch status {
		case StatusPending:
			stats.Pending = n
		case StatusProcessing:
			stats.Processing = n
		case StatusCompleted:
			stats.Completed = n
		case StatusFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errdefs.NotFound(id)
	}
	return nil
}
