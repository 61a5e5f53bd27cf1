package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"igmonitor/pkg/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS recent_posts_cache (
	target     TEXT NOT NULL,
	shortcode  TEXT NOT NULL,
	url        TEXT NOT NULL DEFAULT '',
	pinned     BOOLEAN NOT NULL DEFAULT FALSE,
	post_order INTEGER NOT NULL DEFAULT 0,
	cached_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (target, shortcode)
);

CREATE TABLE IF NOT EXISTS processed_posts (
	target       TEXT NOT NULL,
	shortcode    TEXT NOT NULL,
	url          TEXT NOT NULL DEFAULT '',
	post_type    TEXT NOT NULL DEFAULT 'image',
	pinned       BOOLEAN NOT NULL DEFAULT FALSE,
	pinned_at    TIMESTAMPTZ,
	processed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (target, shortcode)
);

CREATE TABLE IF NOT EXISTS cleanup_log (
	id            BIGSERIAL PRIMARY KEY,
	cleaned_at    TIMESTAMPTZ NOT NULL,
	items_removed INTEGER NOT NULL DEFAULT 0,
	target        TEXT
);
`

// Postgres is the primary remote backend, backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the remote database and ensures the schema.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) CacheEntries(ctx context.Context, target string) ([]models.CacheEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT target, shortcode, url, pinned, post_order, cached_at
		FROM recent_posts_cache
		WHERE target = $1
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

func (p *Postgres) ReplaceCacheEntries(ctx context.Context, target string, entries []models.CacheEntry) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM recent_posts_cache WHERE target = $1`, target); err != nil {
		return fmt.Errorf("clear cache entries: %w", err)
	}

	for _, e := range entries {
		_, err := tx.Exec(ctx, `
			INSERT INTO recent_posts_cache (target, shortcode, url, pinned, post_order, cached_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			target, e.Shortcode, e.URL, e.Pinned, e.Order, e.CachedAt)
		if err != nil {
			return fmt.Errorf("insert cache entry %s: %w", e.Shortcode, err)
		}
	}

	return tx.Commit(ctx)
}

func (p *Postgres) DeleteCacheEntries(ctx context.Context, target string) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM recent_posts_cache WHERE target = $1`, target)
	if err != nil {
		return 0, fmt.Errorf("delete cache entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) CacheTargets(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT target FROM recent_posts_cache`)
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

func (p *Postgres) ProcessedRecord(ctx context.Context, target, shortcode string) (*models.ProcessedRecord, error) {
	var rec models.ProcessedRecord
	err := p.pool.QueryRow(ctx, `
		SELECT target, shortcode, url, post_type, pinned, pinned_at, processed_at
		FROM processed_posts
		WHERE target = $1 AND shortcode = $2`, target, shortcode).
		Scan(&rec.Target, &rec.Shortcode, &rec.URL, &rec.Type, &rec.Pinned, &rec.PinnedAt, &rec.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query processed record: %w", err)
	}
	return &rec, nil
}

func (p *Postgres) UpsertProcessedRecord(ctx context.Context, rec models.ProcessedRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO processed_posts (target, shortcode, url, post_type, pinned, pinned_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (target, shortcode) DO UPDATE SET
			url = EXCLUDED.url,
			post_type = EXCLUDED.post_type,
			pinned = EXCLUDED.pinned,
			pinned_at = EXCLUDED.pinned_at,
			processed_at = EXCLUDED.processed_at`,
		rec.Target, rec.Shortcode, rec.URL, rec.Type, rec.Pinned, rec.PinnedAt, rec.ProcessedAt)
	if err != nil {
		return fmt.Errorf("upsert processed record: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteProcessedRecords(ctx context.Context, target string) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM processed_posts WHERE target = $1`, target)
	if err != nil {
		return 0, fmt.Errorf("delete processed records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) TrimCacheEntries(ctx context.Context, target string, keep int) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM recent_posts_cache
		WHERE target = $1 AND shortcode NOT IN (
			SELECT shortcode FROM recent_posts_cache
			WHERE target = $1
			ORDER BY cached_at DESC
			LIMIT $2
		)`, target, keep)
	if err != nil {
		return 0, fmt.Errorf("trim cache entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) TrimProcessedRecords(ctx context.Context, target string, keep int) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM processed_posts
		WHERE target = $1 AND pinned = FALSE AND shortcode NOT IN (
			SELECT shortcode FROM processed_posts
			WHERE target = $1 AND pinned = FALSE
			ORDER BY processed_at DESC
			LIMIT $2
		)`, target, keep)
	if err != nil {
		return 0, fmt.Errorf("trim processed records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) DeleteCacheEntriesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM recent_posts_cache WHERE pinned = FALSE AND cached_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old cache entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) DeleteProcessedRecordsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM processed_posts WHERE pinned = FALSE AND processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old processed records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) AppendCleanupLog(ctx context.Context, entry models.CleanupLogEntry) error {
	var target interface{}
	if entry.Target != "" {
		target = entry.Target
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO cleanup_log (cleaned_at, items_removed, target) VALUES ($1, $2, $3)`,
		entry.CleanedAt, entry.ItemsRemoved, target)
	if err != nil {
		return fmt.Errorf("append cleanup log: %w", err)
	}
	return nil
}

func (p *Postgres) LastCleanup(ctx context.Context) (*time.Time, error) {
	var cleanedAt time.Time
	err := p.pool.QueryRow(ctx, `SELECT cleaned_at FROM cleanup_log ORDER BY cleaned_at DESC LIMIT 1`).
		Scan(&cleanedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last cleanup: %w", err)
	}
	return &cleanedAt, nil
}

func (p *Postgres) SizeBytes(ctx context.Context) (int64, error) {
	var size int64
	err := p.pool.QueryRow(ctx, `
		SELECT pg_total_relation_size('recent_posts_cache')
		     + pg_total_relation_size('processed_posts')
		     + pg_total_relation_size('cleanup_log')`).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("query relation sizes: %w", err)
	}
	return size, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
