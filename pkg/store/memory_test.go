package store

import (
	"context"
	"testing"
	"time"

	"igmonitor/pkg/models"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	entries := []models.CacheEntry{
		{Target: "acct", Shortcode: "b", Order: 2, CachedAt: time.Now()},
		{Target: "acct", Shortcode: "a", Order: 1, CachedAt: time.Now()},
	}
	if err := m.ReplaceCacheEntries(ctx, "acct", entries); err != nil {
		t.Fatalf("ReplaceCacheEntries: %v", err)
	}

	got, err := m.CacheEntries(ctx, "acct")
	if err != nil {
		t.Fatalf("CacheEntries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(got))
	}
	if got[0].Shortcode != "a" {
		t.Errorf("Expected entries ordered by rank, got %s first", got[0].Shortcode)
	}

	targets, _ := m.CacheTargets(ctx)
	if len(targets) != 1 || targets[0] != "acct" {
		t.Errorf("Unexpected targets: %v", targets)
	}

	n, _ := m.DeleteCacheEntries(ctx, "acct")
	if n != 2 {
		t.Errorf("Expected 2 deleted, got %d", n)
	}
}

func TestMemoryPinnedEntriesSortFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_ = m.ReplaceCacheEntries(ctx, "acct", []models.CacheEntry{
		{Target: "acct", Shortcode: "regular", Order: 1},
		{Target: "acct", Shortcode: "pinned", Order: 2, Pinned: true},
	})

	got, _ := m.CacheEntries(ctx, "acct")
	if got[0].Shortcode != "pinned" {
		t.Errorf("Expected pinned entry first, got %s", got[0].Shortcode)
	}
}

func TestMemoryProcessedRecords(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	rec, err := m.ProcessedRecord(ctx, "acct", "missing")
	if err != nil || rec != nil {
		t.Fatalf("Expected nil for missing record, rec=%v err=%v", rec, err)
	}

	now := time.Now()
	_ = m.UpsertProcessedRecord(ctx, models.ProcessedRecord{
		Target: "acct", Shortcode: "aaa", ProcessedAt: now,
	})
	rec, err = m.ProcessedRecord(ctx, "acct", "aaa")
	if err != nil || rec == nil {
		t.Fatalf("Expected record, rec=%v err=%v", rec, err)
	}

	// Upsert overwrites
	_ = m.UpsertProcessedRecord(ctx, models.ProcessedRecord{
		Target: "acct", Shortcode: "aaa", Pinned: true, PinnedAt: &now, ProcessedAt: now,
	})
	rec, _ = m.ProcessedRecord(ctx, "acct", "aaa")
	if !rec.Pinned || rec.PinnedAt == nil {
		t.Errorf("Expected upsert to overwrite, got %+v", rec)
	}
}

func TestMemoryTrimKeepsNewest(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	base := time.Now().Add(-12 * time.Hour)
	var entries []models.CacheEntry
	for i := 0; i < 12; i++ {
		entries = append(entries, models.CacheEntry{
			Target:    "acct",
			Shortcode: string(rune('a' + i)),
			Order:     i + 1,
			CachedAt:  base.Add(time.Duration(i) * time.Hour),
		})
	}
	_ = m.ReplaceCacheEntries(ctx, "acct", entries)

	removed, err := m.TrimCacheEntries(ctx, "acct", 8)
	if err != nil {
		t.Fatalf("TrimCacheEntries: %v", err)
	}
	if removed != 4 {
		t.Errorf("Expected 4 removed, got %d", removed)
	}

	got, _ := m.CacheEntries(ctx, "acct")
	if len(got) != 8 {
		t.Fatalf("Expected 8 kept, got %d", len(got))
	}
	for _, e := range got {
		if e.CachedAt.Before(base.Add(4 * time.Hour)) {
			t.Errorf("Expected oldest entries evicted, found %s cached %v", e.Shortcode, e.CachedAt)
		}
	}
}

func TestMemoryTrimProcessedSparesPinned(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	base := time.Now().Add(-10 * time.Hour)
	pinnedAt := base
	_ = m.UpsertProcessedRecord(ctx, models.ProcessedRecord{
		Target: "acct", Shortcode: "pin", Pinned: true, PinnedAt: &pinnedAt, ProcessedAt: base,
	})
	for i := 0; i < 4; i++ {
		_ = m.UpsertProcessedRecord(ctx, models.ProcessedRecord{
			Target: "acct", Shortcode: string(rune('a' + i)), ProcessedAt: base.Add(time.Duration(i+1) * time.Hour),
		})
	}

	removed, _ := m.TrimProcessedRecords(ctx, "acct", 2)
	if removed != 2 {
		t.Errorf("Expected 2 unpinned removed, got %d", removed)
	}
	if rec, _ := m.ProcessedRecord(ctx, "acct", "pin"); rec == nil {
		t.Error("Expected pinned record untouched by trim")
	}
}

func TestMemoryAgeSweep(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	cutoff := time.Now().Add(-28 * 24 * time.Hour)
	old := cutoff.Add(-time.Hour)
	fresh := cutoff.Add(time.Hour)

	_ = m.ReplaceCacheEntries(ctx, "acct", []models.CacheEntry{
		{Target: "acct", Shortcode: "old-pin", Order: 1, Pinned: true, CachedAt: old},
		{Target: "acct", Shortcode: "old", Order: 2, CachedAt: old},
		{Target: "acct", Shortcode: "new", Order: 3, CachedAt: fresh},
	})
	oldPin := old
	_ = m.UpsertProcessedRecord(ctx, models.ProcessedRecord{Target: "acct", Shortcode: "old", ProcessedAt: old})
	_ = m.UpsertProcessedRecord(ctx, models.ProcessedRecord{Target: "acct", Shortcode: "old-pin", Pinned: true, PinnedAt: &oldPin, ProcessedAt: old})

	n, _ := m.DeleteCacheEntriesBefore(ctx, cutoff)
	if n != 1 {
		t.Errorf("Expected 1 cache entry swept, got %d", n)
	}
	entries, _ := m.CacheEntries(ctx, "acct")
	if len(entries) != 2 || entries[0].Shortcode != "old-pin" {
		t.Errorf("Expected pinned cache entry to survive the age sweep, got %+v", entries)
	}
	n, _ = m.DeleteProcessedRecordsBefore(ctx, cutoff)
	if n != 1 {
		t.Errorf("Expected 1 unpinned record swept, got %d", n)
	}
	if rec, _ := m.ProcessedRecord(ctx, "acct", "old-pin"); rec == nil {
		t.Error("Expected pinned record to survive the age sweep")
	}
}

func TestMemoryCleanupLog(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	last, err := m.LastCleanup(ctx)
	if err != nil || last != nil {
		t.Fatalf("Expected no cleanup history, last=%v err=%v", last, err)
	}

	when := time.Now()
	_ = m.AppendCleanupLog(ctx, models.CleanupLogEntry{CleanedAt: when, ItemsRemoved: 3, Target: "scheduled"})
	last, err = m.LastCleanup(ctx)
	if err != nil || last == nil || !last.Equal(when) {
		t.Errorf("Expected last cleanup %v, got %v (err=%v)", when, last, err)
	}
}
