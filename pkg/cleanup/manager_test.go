package cleanup

import (
	"context"
	"fmt"
	"testing"
	"time"

	"igmonitor/pkg/config"
	"igmonitor/pkg/models"
	"igmonitor/pkg/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Failover) {
	t.Helper()
	cfg := config.DefaultConfig()
	fo := store.NewFailover(store.NewMemory(), nil, "", nil)
	queue := NewQueue(0, nil)
	return NewManager(fo, queue, &cfg.Retention, nil), fo
}

func seedPosts(t *testing.T, fo *store.Failover, target string, n int, base time.Time) {
	t.Helper()
	ctx := context.Background()

	var entries []models.CacheEntry
	for i := 0; i < n; i++ {
		code := fmt.Sprintf("post%02d", i)
		cachedAt := base.Add(time.Duration(i) * time.Hour)
		entries = append(entries, models.CacheEntry{
			Target: target, Shortcode: code, Order: i + 1, CachedAt: cachedAt,
		})
		err := fo.UpsertProcessedRecord(ctx, models.ProcessedRecord{
			Target: target, Shortcode: code, ProcessedAt: cachedAt,
		})
		if err != nil {
			t.Fatalf("seed record: %v", err)
		}
	}
	if err := fo.ReplaceCacheEntries(ctx, target, entries); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
}

func TestRunScheduledTrimsToCap(t *testing.T) {
	ctx := context.Background()
	m, fo := newTestManager(t)
	seedPosts(t, fo, "acct", 12, time.Now().Add(-12*time.Hour))

	if err := m.RunScheduled(ctx); err != nil {
		t.Fatalf("RunScheduled: %v", err)
	}

	entries, _ := fo.CacheEntries(ctx, "acct")
	if len(entries) != 8 {
		t.Errorf("Expected 12 entries trimmed to 8, got %d", len(entries))
	}
	// The newest survive
	for _, e := range entries {
		if e.Shortcode < "post04" {
			t.Errorf("Expected oldest entries evicted, found %s", e.Shortcode)
		}
	}
}

func TestRunScheduledAgeSweepSparesPinned(t *testing.T) {
	ctx := context.Background()
	m, fo := newTestManager(t)

	old := time.Now().Add(-30 * 24 * time.Hour)
	pinnedAt := old
	_ = fo.UpsertProcessedRecord(ctx, models.ProcessedRecord{
		Target: "acct", Shortcode: "ancient", ProcessedAt: old,
	})
	_ = fo.UpsertProcessedRecord(ctx, models.ProcessedRecord{
		Target: "acct", Shortcode: "ancient-pin", Pinned: true, PinnedAt: &pinnedAt, ProcessedAt: old,
	})
	_ = fo.ReplaceCacheEntries(ctx, "acct", []models.CacheEntry{
		{Target: "acct", Shortcode: "fresh", Order: 1, CachedAt: time.Now()},
	})

	if err := m.RunScheduled(ctx); err != nil {
		t.Fatalf("RunScheduled: %v", err)
	}

	rec, _ := fo.ProcessedRecord(ctx, "acct", "ancient")
	if rec != nil {
		t.Error("Expected 30-day-old record removed by age sweep")
	}
	pin, _ := fo.ProcessedRecord(ctx, "acct", "ancient-pin")
	if pin == nil {
		t.Error("Expected pinned record exempt from age sweep")
	}
}

func TestCleanupLogWrittenEvenWhenNothingRemoved(t *testing.T) {
	ctx := context.Background()
	m, fo := newTestManager(t)
	seedPosts(t, fo, "acct", 3, time.Now().Add(-3*time.Hour))

	if !m.CleanupDue(ctx) {
		t.Error("Expected cleanup due with no log entries")
	}

	if err := m.RunScheduled(ctx); err != nil {
		t.Fatalf("RunScheduled: %v", err)
	}

	last, err := fo.LastCleanup(ctx)
	if err != nil || last == nil {
		t.Fatalf("Expected cleanup logged despite zero removals, last=%v err=%v", last, err)
	}
	if m.CleanupDue(ctx) {
		t.Error("Expected cleanup not due immediately after a pass")
	}
}

func TestRunStorageCleanupIgnoresAge(t *testing.T) {
	ctx := context.Background()
	m, fo := newTestManager(t)
	// All recent, more than the cap: emergency pass still trims to 8
	seedPosts(t, fo, "acct", 11, time.Now().Add(-time.Hour))

	if err := m.RunStorageCleanup(ctx); err != nil {
		t.Fatalf("RunStorageCleanup: %v", err)
	}

	entries, _ := fo.CacheEntries(ctx, "acct")
	if len(entries) != 8 {
		t.Errorf("Expected emergency trim to 8, got %d", len(entries))
	}
}

func TestCheckStorageLimitUnderLimit(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	// Memory backend reports zero size
	if m.CheckStorageLimit(ctx) {
		t.Error("Expected no sweep queued under the limit")
	}
	if m.Queue().Active() {
		t.Error("Expected queue idle")
	}
}
