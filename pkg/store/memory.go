package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"igmonitor/pkg/models"
)

// Memory is a process-lifetime in-memory backend. The failover store uses
// one as its mirror and as the last-resort backend when both durable
// backends are unavailable; tests use it as a lightweight Backend.
type Memory struct {
	mu        sync.RWMutex
	cache     map[string][]models.CacheEntry
	processed map[string]map[string]models.ProcessedRecord
	cleanups  []models.CleanupLogEntry
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		cache:     make(map[string][]models.CacheEntry),
		processed: make(map[string]map[string]models.ProcessedRecord),
	}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) CacheEntries(ctx context.Context, target string) ([]models.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]models.CacheEntry, len(m.cache[target]))
	copy(entries, m.cache[target])
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Pinned != entries[j].Pinned {
			return entries[i].Pinned
		}
		return entries[i].Order < entries[j].Order
	})
	return entries, nil
}

func (m *Memory) ReplaceCacheEntries(ctx context.Context, target string, entries []models.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	replacement := make([]models.CacheEntry, len(entries))
	copy(replacement, entries)
	m.cache[target] = replacement
	return nil
}

func (m *Memory) DeleteCacheEntries(ctx context.Context, target string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.cache[target])
	delete(m.cache, target)
	return n, nil
}

func (m *Memory) CacheTargets(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	targets := make([]string, 0, len(m.cache))
	for t := range m.cache {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets, nil
}

func (m *Memory) ProcessedRecord(ctx context.Context, target, shortcode string) (*models.ProcessedRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.processed[target][shortcode]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (m *Memory) UpsertProcessedRecord(ctx context.Context, rec models.ProcessedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.processed[rec.Target] == nil {
		m.processed[rec.Target] = make(map[string]models.ProcessedRecord)
	}
	m.processed[rec.Target][rec.Shortcode] = rec
	return nil
}

func (m *Memory) DeleteProcessedRecords(ctx context.Context, target string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.processed[target])
	delete(m.processed, target)
	return n, nil
}

func (m *Memory) TrimCacheEntries(ctx context.Context, target string, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.cache[target]
	if len(entries) <= keep {
		return 0, nil
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CachedAt.After(entries[j].CachedAt)
	})
	removed := len(entries) - keep
	m.cache[target] = entries[:keep]
	return removed, nil
}

func (m *Memory) TrimProcessedRecords(ctx context.Context, target string, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var unpinned []models.ProcessedRecord
	for _, rec := range m.processed[target] {
		if !rec.Pinned {
			unpinned = append(unpinned, rec)
		}
	}
	if len(unpinned) <= keep {
		return 0, nil
	}

	sort.SliceStable(unpinned, func(i, j int) bool {
		return unpinned[i].ProcessedAt.Before(unpinned[j].ProcessedAt)
	})
	evict := unpinned[:len(unpinned)-keep]
	for _, rec := range evict {
		delete(m.processed[target], rec.Shortcode)
	}
	return len(evict), nil
}

func (m *Memory) DeleteCacheEntriesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for target, entries := range m.cache {
		kept := entries[:0]
		for _, e := range entries {
			if !e.Pinned && e.CachedAt.Before(cutoff) {
				removed++
			} else {
				kept = append(kept, e)
			}
		}
		m.cache[target] = kept
	}
	return removed, nil
}

func (m *Memory) DeleteProcessedRecordsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, recs := range m.processed {
		for shortcode, rec := range recs {
			if !rec.Pinned && rec.ProcessedAt.Before(cutoff) {
				delete(recs, shortcode)
				removed++
			}
		}
	}
	return removed, nil
}

func (m *Memory) AppendCleanupLog(ctx context.Context, entry models.CleanupLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanups = append(m.cleanups, entry)
	return nil
}

func (m *Memory) LastCleanup(ctx context.Context) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.cleanups) == 0 {
		return nil, nil
	}
	last := m.cleanups[len(m.cleanups)-1].CleanedAt
	return &last, nil
}

func (m *Memory) SizeBytes(ctx context.Context) (int64, error) {
	return 0, nil
}

func (m *Memory) Close() error { return nil }

// snapshotState captures the mirror contents for the degraded-mode snapshot
// file.
type snapshotState struct {
	Cache     map[string][]models.CacheEntry               `json:"cache"`
	Processed map[string]map[string]models.ProcessedRecord `json:"processed"`
	SavedAt   time.Time                                    `json:"saved_at"`
}

func (m *Memory) snapshot() snapshotState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := snapshotState{
		Cache:     make(map[string][]models.CacheEntry, len(m.cache)),
		Processed: make(map[string]map[string]models.ProcessedRecord, len(m.processed)),
	}
	for t, entries := range m.cache {
		dup := make([]models.CacheEntry, len(entries))
		copy(dup, entries)
		state.Cache[t] = dup
	}
	for t, recs := range m.processed {
		dup := make(map[string]models.ProcessedRecord, len(recs))
		for k, v := range recs {
			dup[k] = v
		}
		state.Processed[t] = dup
	}
	return state
}

func (m *Memory) restore(state snapshotState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache = state.Cache
	if m.cache == nil {
		m.cache = make(map[string][]models.CacheEntry)
	}
	m.processed = state.Processed
	if m.processed == nil {
		m.processed = make(map[string]map[string]models.ProcessedRecord)
	}
}

// clear drops everything; used when the mirror is invalidated after cleanup.
func (m *Memory) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache = make(map[string][]models.CacheEntry)
	m.processed = make(map[string]map[string]models.ProcessedRecord)
}

// dropTarget removes one target from the mirror (orphan reconciliation).
func (m *Memory) dropTarget(target string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cache, target)
}

// hasTarget reports whether the mirror holds cache entries for target.
func (m *Memory) hasTarget(target string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.cache[target]
	return ok
}
