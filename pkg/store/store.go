package store

import (
	"context"
	"time"

	"igmonitor/pkg/models"
)

// Backend is the uniform persistence contract the core consumes. A backend
// holds the dedup cache, the processed-post records, and the cleanup audit
// log for all targets. Implementations: Postgres (primary), SQLite (local
// fallback), and the in-process memory backend used for tests and for
// degraded operation.
type Backend interface {
	// Name identifies the backend in logs and stats.
	Name() string

	// Ping answers a trivial liveness query.
	Ping(ctx context.Context) error

	// CacheEntries returns the cache entry set for a target, ordered
	// pinned-first then by rank.
	CacheEntries(ctx context.Context, target string) ([]models.CacheEntry, error)

	// ReplaceCacheEntries atomically replaces the full entry set for a
	// target. The delete and reinsert happen in one transaction so readers
	// never observe an empty cache window.
	ReplaceCacheEntries(ctx context.Context, target string, entries []models.CacheEntry) error

	// DeleteCacheEntries removes all cache entries for a target.
	DeleteCacheEntries(ctx context.Context, target string) (int, error)

	// CacheTargets returns the distinct targets present in the cache.
	CacheTargets(ctx context.Context) ([]string, error)

	// ProcessedRecord looks up a single delivery record. Returns nil and no
	// error when the record does not exist.
	ProcessedRecord(ctx context.Context, target, shortcode string) (*models.ProcessedRecord, error)

	// UpsertProcessedRecord creates or refreshes a delivery record.
	UpsertProcessedRecord(ctx context.Context, rec models.ProcessedRecord) error

	// DeleteProcessedRecords removes all delivery records for a target.
	DeleteProcessedRecords(ctx context.Context, target string) (int, error)

	// TrimCacheEntries keeps only the newest keep entries for a target,
	// oldest evicted first by cached_at.
	TrimCacheEntries(ctx context.Context, target string, keep int) (int, error)

	// TrimProcessedRecords keeps only the newest keep non-pinned records for
	// a target. Pinned records are exempt from count-based eviction.
	TrimProcessedRecords(ctx context.Context, target string, keep int) (int, error)

	// DeleteCacheEntriesBefore removes non-pinned cache entries older than
	// cutoff. Pinned entries age out only when they drop off the feed.
	DeleteCacheEntriesBefore(ctx context.Context, cutoff time.Time) (int, error)

	// DeleteProcessedRecordsBefore removes non-pinned records older than
	// cutoff.
	DeleteProcessedRecordsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// AppendCleanupLog appends one audit row; written after every cleanup,
	// including zero-effect ones.
	AppendCleanupLog(ctx context.Context, entry models.CleanupLogEntry) error

	// LastCleanup returns the most recent cleanup time, or nil when no
	// cleanup has ever been logged.
	LastCleanup(ctx context.Context) (*time.Time, error)

	// SizeBytes reports the backend's on-disk footprint.
	SizeBytes(ctx context.Context) (int64, error)

	Close() error
}
