package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"igmonitor/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS recent_posts_cache (
	target     TEXT NOT NULL,
	shortcode  TEXT NOT NULL,
	url        TEXT NOT NULL DEFAULT '',
	pinned     INTEGER NOT NULL DEFAULT 0,
	post_order INTEGER NOT NULL DEFAULT 0,
	cached_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (target, shortcode)
);

CREATE TABLE IF NOT EXISTS processed_posts (
	target       TEXT NOT NULL,
	shortcode    TEXT NOT NULL,
	url          TEXT NOT NULL DEFAULT '',
	post_type    TEXT NOT NULL DEFAULT 'image',
	pinned       INTEGER NOT NULL DEFAULT 0,
	pinned_at    TIMESTAMP,
	processed_at TIMESTAMP NOT NULL,
	PRIMARY KEY (target, shortcode)
);

CREATE TABLE IF NOT EXISTS cleanup_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	cleaned_at    TIMESTAMP NOT NULL,
	items_removed INTEGER NOT NULL DEFAULT 0,
	target        TEXT
);

CREATE INDEX IF NOT EXISTS idx_cache_cached_at ON recent_posts_cache (target, cached_at);
CREATE INDEX IF NOT EXISTS idx_processed_at ON processed_posts (target, processed_at);
`

// SQLite is the local fallback backend, file-backed via modernc.org/sqlite.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the local database with WAL mode and
// a busy timeout, then applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Name() string { return "sqlite" }

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) CacheEntries(ctx context.Context, target string) ([]models.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target, shortcode, url, pinned, post_order, cached_at
		FROM recent_posts_cache
		WHERE target = ?
		ORDER BY pinned DESC, post_order ASC`, target)
	if err != nil {
		return nil, fmt.Errorf("query cache entries: %w", err)
	}
	defer rows.Close()

	var entries []models.CacheEntry
	for rows.Next() {
		var e models.CacheEntry
		if err := rows.Scan(&e.Target, &e.Shortcode, &e.URL, &e.Pinned, &e.Order, &e.CachedAt); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLite) ReplaceCacheEntries(ctx context.Context, target string, entries []models.CacheEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM recent_posts_cache WHERE target = ?`, target); err != nil {
		return fmt.Errorf("clear cache entries: %w", err)
	}

	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recent_posts_cache (target, shortcode, url, pinned, post_order, cached_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			target, e.Shortcode, e.URL, e.Pinned, e.Order, e.CachedAt)
		if err != nil {
			return fmt.Errorf("insert cache entry %s: %w", e.Shortcode, err)
		}
	}

	return tx.Commit()
}

func (s *SQLite) DeleteCacheEntries(ctx context.Context, target string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recent_posts_cache WHERE target = ?`, target)
	if err != nil {
		return 0, fmt.Errorf("delete cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) CacheTargets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT target FROM recent_posts_cache`)
	if err != nil {
		return nil, fmt.Errorf("query cache targets: %w", err)
	}
	defer rows.Close()

	var targets []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (s *SQLite) ProcessedRecord(ctx context.Context, target, shortcode string) (*models.ProcessedRecord, error) {
	var rec models.ProcessedRecord
	var pinnedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT target, shortcode, url, post_type, pinned, pinned_at, processed_at
		FROM processed_posts
		WHERE target = ? AND shortcode = ?`, target, shortcode).
		Scan(&rec.Target, &rec.Shortcode, &rec.URL, &rec.Type, &rec.Pinned, &pinnedAt, &rec.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query processed record: %w", err)
	}
	if pinnedAt.Valid {
		rec.PinnedAt = &pinnedAt.Time
	}
	return &rec, nil
}

func (s *SQLite) UpsertProcessedRecord(ctx context.Context, rec models.ProcessedRecord) error {
	var pinnedAt interface{}
	if rec.PinnedAt != nil {
		pinnedAt = *rec.PinnedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_posts (target, shortcode, url, post_type, pinned, pinned_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (target, shortcode) DO UPDATE SET
			url = excluded.url,
			post_type = excluded.post_type,
			pinned = excluded.pinned,
			pinned_at = excluded.pinned_at,
			processed_at = excluded.processed_at`,
		rec.Target, rec.Shortcode, rec.URL, rec.Type, rec.Pinned, pinnedAt, rec.ProcessedAt)
	if err != nil {
		return fmt.Errorf("upsert processed record: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteProcessedRecords(ctx context.Context, target string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_posts WHERE target = ?`, target)
	if err != nil {
		return 0, fmt.Errorf("delete processed records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) TrimCacheEntries(ctx context.Context, target string, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM recent_posts_cache
		WHERE target = ? AND shortcode NOT IN (
			SELECT shortcode FROM recent_posts_cache
			WHERE target = ?
			ORDER BY cached_at DESC
			LIMIT ?
		)`, target, target, keep)
	if err != nil {
		return 0, fmt.Errorf("trim cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) TrimProcessedRecords(ctx context.Context, target string, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM processed_posts
		WHERE target = ? AND pinned = 0 AND shortcode NOT IN (
			SELECT shortcode FROM processed_posts
			WHERE target = ? AND pinned = 0
			ORDER BY processed_at DESC
			LIMIT ?
		)`, target, target, keep)
	if err != nil {
		return 0, fmt.Errorf("trim processed records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) DeleteCacheEntriesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recent_posts_cache WHERE pinned = 0 AND cached_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) DeleteProcessedRecordsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_posts WHERE pinned = 0 AND processed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old processed records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) AppendCleanupLog(ctx context.Context, entry models.CleanupLogEntry) error {
	var target interface{}
	if entry.Target != "" {
		target = entry.Target
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cleanup_log (cleaned_at, items_removed, target) VALUES (?, ?, ?)`,
		entry.CleanedAt, entry.ItemsRemoved, target)
	if err != nil {
		return fmt.Errorf("append cleanup log: %w", err)
	}
	return nil
}

func (s *SQLite) LastCleanup(ctx context.Context) (*time.Time, error) {
	var cleanedAt time.Time
	err := s.db.QueryRowContext(ctx, `SELECT cleaned_at FROM cleanup_log ORDER BY cleaned_at DESC LIMIT 1`).
		Scan(&cleanedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last cleanup: %w", err)
	}
	return &cleanedAt, nil
}

// SizeBytes reports the database file size, WAL included.
func (s *SQLite) SizeBytes(ctx context.Context) (int64, error) {
	var total int64
	for _, p := range []string{s.path, s.path + "-wal"} {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
