package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"igmonitor/pkg/models"
)

// brokenBackend fails every operation.
type brokenBackend struct{}

var errBroken = errors.New("backend down")

func (brokenBackend) Name() string                     { return "broken" }
func (brokenBackend) Ping(ctx context.Context) error   { return errBroken }
func (brokenBackend) Close() error                     { return nil }
func (brokenBackend) SizeBytes(ctx context.Context) (int64, error) { return 0, errBroken }

func (brokenBackend) CacheEntries(ctx context.Context, target string) ([]models.CacheEntry, error) {
	return nil, errBroken
}
func (brokenBackend) ReplaceCacheEntries(ctx context.Context, target string, entries []models.CacheEntry) error {
	return errBroken
}
func (brokenBackend) DeleteCacheEntries(ctx context.Context, target string) (int, error) {
	return 0, errBroken
}
func (brokenBackend) CacheTargets(ctx context.Context) ([]string, error) { return nil, errBroken }
func (brokenBackend) ProcessedRecord(ctx context.Context, target, shortcode string) (*models.ProcessedRecord, error) {
	return nil, errBroken
}
func (brokenBackend) UpsertProcessedRecord(ctx context.Context, rec models.ProcessedRecord) error {
	return errBroken
}
func (brokenBackend) DeleteProcessedRecords(ctx context.Context, target string) (int, error) {
	return 0, errBroken
}
func (brokenBackend) TrimCacheEntries(ctx context.Context, target string, keep int) (int, error) {
	return 0, errBroken
}
func (brokenBackend) TrimProcessedRecords(ctx context.Context, target string, keep int) (int, error) {
	return 0, errBroken
}
func (brokenBackend) DeleteCacheEntriesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, errBroken
}
func (brokenBackend) DeleteProcessedRecordsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, errBroken
}
func (brokenBackend) AppendCleanupLog(ctx context.Context, entry models.CleanupLogEntry) error {
	return errBroken
}
func (brokenBackend) LastCleanup(ctx context.Context) (*time.Time, error) { return nil, errBroken }

func TestFailoverWritesLandOnSecondary(t *testing.T) {
	ctx := context.Background()
	secondary := NewMemory()
	f := NewFailover(brokenBackend{}, secondary, "", nil)

	err := f.UpsertProcessedRecord(ctx, models.ProcessedRecord{
		Target: "acct", Shortcode: "aaa", ProcessedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("UpsertProcessedRecord: %v", err)
	}

	rec, err := secondary.ProcessedRecord(ctx, "acct", "aaa")
	if err != nil || rec == nil {
		t.Errorf("Expected write to land on secondary, rec=%v err=%v", rec, err)
	}
}

func TestFailoverDegradesToMemoryOnly(t *testing.T) {
	ctx := context.Background()
	f := NewFailover(brokenBackend{}, nil, "", nil)

	entries := []models.CacheEntry{{Target: "acct", Shortcode: "aaa", Order: 1, CachedAt: time.Now()}}
	if err := f.ReplaceCacheEntries(ctx, "acct", entries); err != nil {
		t.Fatalf("Expected degraded write not to error, got %v", err)
	}

	// Reads still served from the mirror
	got, err := f.CacheEntries(ctx, "acct")
	if err != nil || len(got) != 1 {
		t.Errorf("Expected mirror to serve the write, got %v err=%v", got, err)
	}

	// But Ping reports the outage
	if err := f.Ping(ctx); err == nil {
		t.Error("Expected Ping to fail with no reachable backend")
	}
}

func TestFailoverSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.json")

	f := NewFailover(brokenBackend{}, nil, path, nil)
	entries := []models.CacheEntry{{Target: "acct", Shortcode: "aaa", Order: 1, CachedAt: time.Now()}}
	// Degraded write triggers a snapshot save
	if err := f.ReplaceCacheEntries(ctx, "acct", entries); err != nil {
		t.Fatalf("ReplaceCacheEntries: %v", err)
	}

	// A fresh process restores the mirror from the snapshot
	f2 := NewFailover(brokenBackend{}, nil, path, nil)
	got, err := f2.CacheEntries(ctx, "acct")
	if err != nil || len(got) != 1 || got[0].Shortcode != "aaa" {
		t.Errorf("Expected snapshot restore, got %v err=%v", got, err)
	}
}

func TestFailoverReadFailsOverToSecondary(t *testing.T) {
	ctx := context.Background()
	secondary := NewMemory()
	_ = secondary.ReplaceCacheEntries(ctx, "acct", []models.CacheEntry{
		{Target: "acct", Shortcode: "aaa", Order: 1, CachedAt: time.Now()},
	})

	f := NewFailover(brokenBackend{}, secondary, "", nil)
	got, err := f.CacheEntries(ctx, "acct")
	if err != nil || len(got) != 1 {
		t.Errorf("Expected read served by secondary, got %v err=%v", got, err)
	}
}

func TestFailoverReconcile(t *testing.T) {
	ctx := context.Background()
	primary := NewMemory()
	f := NewFailover(primary, nil, "", nil)

	// Durable target missing from the mirror
	_ = primary.ReplaceCacheEntries(ctx, "durable-only", []models.CacheEntry{
		{Target: "durable-only", Shortcode: "aaa", Order: 1, CachedAt: time.Now()},
	})
	// Mirror target with no durable counterpart
	f.mirror.ReplaceCacheEntries(ctx, "orphan", []models.CacheEntry{
		{Target: "orphan", Shortcode: "zzz", Order: 1, CachedAt: time.Now()},
	})

	reloaded, orphaned, err := f.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if reloaded != 1 {
		t.Errorf("Expected 1 target reloaded, got %d", reloaded)
	}
	if orphaned != 1 {
		t.Errorf("Expected 1 orphan dropped, got %d", orphaned)
	}
	if f.mirror.hasTarget("orphan") {
		t.Error("Expected orphan target dropped from mirror")
	}
	if !f.mirror.hasTarget("durable-only") {
		t.Error("Expected durable target loaded into mirror")
	}
}

func TestFailoverInvalidateAndReload(t *testing.T) {
	ctx := context.Background()
	primary := NewMemory()
	f := NewFailover(primary, nil, "", nil)

	_ = f.ReplaceCacheEntries(ctx, "acct", []models.CacheEntry{
		{Target: "acct", Shortcode: "aaa", Order: 1, CachedAt: time.Now()},
	})
	// Simulate cleanup on durable storage behind the mirror's back
	_ = primary.ReplaceCacheEntries(ctx, "acct", []models.CacheEntry{
		{Target: "acct", Shortcode: "bbb", Order: 1, CachedAt: time.Now()},
	})

	if err := f.InvalidateAndReload(ctx); err != nil {
		t.Fatalf("InvalidateAndReload: %v", err)
	}
	got, _ := f.CacheEntries(ctx, "acct")
	if len(got) != 1 || got[0].Shortcode != "bbb" {
		t.Errorf("Expected mirror rebuilt from durable truth, got %v", got)
	}
}
