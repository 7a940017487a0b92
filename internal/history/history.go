// Package history caches per-file revision lists in an embedded SQLite
// database.
//
// Status refreshes that ask for history store what git log reported; the
// history command answers from the cache and only falls back to git when a
// file was never fetched.
//
// Architecture:
//   - Database file: .git/gitcentral/history.db (configurable)
//   - WAL mode: the CLI can read while a daemon writes
//   - Schema: revisions (one row per file and commit), files (fetch times)
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/gitcentral/gitcentral/internal/state"
)

// Store wraps the database connection.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the cache at path and makes sure the schema exists.
//
// The caller must call Close when done.
//
// Example:
//
//	store, err := history.Open(filepath.Join(root, ".git", "gitcentral", "history.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	// pragmas in the DSN apply to every pooled connection
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(1)"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}
	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	// a failed checkpoint only leaves the WAL file behind
	_, _ = s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close history database: %w", err)
	}
	s.conn = nil
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		path TEXT PRIMARY KEY,
		fetched_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS revisions (
		path TEXT NOT NULL,
		seq INTEGER NOT NULL,  -- 0 is the newest revision
		commit_id TEXT NOT NULL,
		short_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		user TEXT NOT NULL,
		date INTEGER NOT NULL,  -- unix seconds
		description TEXT NOT NULL,
		action TEXT NOT NULL,
		filename TEXT NOT NULL,
		PRIMARY KEY (path, seq),
		FOREIGN KEY (path) REFERENCES files(path) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_revisions_path_date ON revisions(path, date);
	CREATE INDEX IF NOT EXISTS idx_revisions_commit ON revisions(commit_id);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return nil
}

// SaveHistory replaces the cached revisions of path with revs, newest
// first.
func (s *Store) SaveHistory(ctx context.Context, path string, revs []state.Revision) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin history transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM revisions WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to clear history of %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `
	INSERT INTO files (path, fetched_at) VALUES (?, ?)
	ON CONFLICT(path) DO UPDATE SET fetched_at = excluded.fetched_at
	`, path, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to record fetch of %s: %w", path, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO revisions (
		path, seq, commit_id, short_id, number, user, date, description, action, filename
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare history insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range revs {
		if _, err := stmt.ExecContext(ctx,
			path, i, r.CommitID, r.ShortID, r.Number, r.User, r.Date.Unix(),
			r.Description, r.Action, r.Filename,
		); err != nil {
			return fmt.Errorf("failed to store revision %s of %s: %w", r.ShortID, path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history of %s: %w", path, err)
	}
	return nil
}

// Query returns the cached revisions of path dated at or after since,
// newest first. A zero since returns everything. ok is false when the file
// was never fetched.
func (s *Store) Query(ctx context.Context, path string, since time.Time) (revs []state.Revision, ok bool, err error) {
	if _, ok, err = s.FetchedAt(ctx, path); err != nil || !ok {
		return nil, ok, err
	}

	var after int64
	if !since.IsZero() {
		after = since.Unix()
	}
	rows, err := s.conn.QueryContext(ctx, `
	SELECT commit_id, short_id, number, user, date, description, action, filename
	FROM revisions
	WHERE path = ? AND date >= ?
	ORDER BY seq
	`, path, after)
	if err != nil {
		return nil, true, fmt.Errorf("failed to query history of %s: %w", path, err)
	}
	defer rows.Close()

	for rows.Next() {
		var r state.Revision
		var date int64
		if err := rows.Scan(&r.CommitID, &r.ShortID, &r.Number, &r.User, &date,
			&r.Description, &r.Action, &r.Filename); err != nil {
			return nil, true, fmt.Errorf("failed to scan revision: %w", err)
		}
		r.Date = time.Unix(date, 0).UTC()
		revs = append(revs, r)
	}
	return revs, true, rows.Err()
}

// FetchedAt returns when the history of path was last stored.
func (s *Store) FetchedAt(ctx context.Context, path string) (time.Time, bool, error) {
	var at int64
	err := s.conn.QueryRowContext(ctx, `SELECT fetched_at FROM files WHERE path = ?`, path).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read fetch time of %s: %w", path, err)
	}
	return time.Unix(at, 0), true, nil
}

// Forget drops everything cached for path.
func (s *Store) Forget(ctx context.Context, path string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM revisions WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to forget history of %s: %w", path, err)
	}
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to forget %s: %w", path, err)
	}
	return nil
}

// Count returns the number of cached revisions across all files.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM revisions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count revisions: %w", err)
	}
	return n, nil
}
