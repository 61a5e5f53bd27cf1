package store

import (
	"context"
	"fmt"
	"time"

	errs "igmonitor/pkg/errors"
	"igmonitor/pkg/logger"
	"igmonitor/pkg/models"
)

// Failover wraps a primary and a secondary Backend behind the same
// interface. Every operation is attempted on the primary first; on any
// primary error the same operation is retried against the secondary. A
// process-lifetime in-memory mirror shadows the cache so reads stay fast and
// the service keeps deduplicating even when both durable backends are down
// (memory-only degraded mode, snapshotted to disk).
type Failover struct {
	primary   Backend // may be nil when no remote backend is configured
	secondary Backend
	mirror    *Memory
	snapshot  *Snapshotter
	log       logger.Logger
}

// NewFailover assembles the failover store. primary may be nil.
func NewFailover(primary, secondary Backend, snapshotPath string, log logger.Logger) *Failover {
	if log == nil {
		log = logger.GetLogger()
	}

	f := &Failover{
		primary:   primary,
		secondary: secondary,
		mirror:    NewMemory(),
		log:       log,
	}
	if snapshotPath != "" {
		f.snapshot = NewSnapshotter(snapshotPath, log)
		if state, err := f.snapshot.Load(); err == nil && state != nil {
			f.mirror.restore(*state)
		}
	}
	return f
}

// backends returns the configured durable backends in failover order.
func (f *Failover) backends() []Backend {
	var out []Backend
	if f.primary != nil {
		out = append(out, f.primary)
	}
	if f.secondary != nil {
		out = append(out, f.secondary)
	}
	return out
}

// write runs op against the backends in failover order. The first success
// wins. When every backend fails the store degrades to memory-only: the
// caller is expected to have already applied the write to the mirror, the
// mirror is snapshotted, and no error is returned.
func (f *Failover) write(name string, op func(Backend) error) {
	for _, b := range f.backends() {
		if err := op(b); err != nil {
			f.log.WarnWithFields("backend write failed, failing over", map[string]interface{}{
				"op":      name,
				"backend": b.Name(),
				"error":   err.Error(),
			})
			continue
		}
		return
	}

	f.log.ErrorWithFields("all backends failed, continuing memory-only", map[string]interface{}{
		"op": name,
	})
	if f.snapshot != nil {
		f.snapshot.Save(f.mirror.snapshot())
	}
}

func (f *Failover) Name() string { return "failover" }

// Ping succeeds when any durable backend answers.
func (f *Failover) Ping(ctx context.Context) error {
	var lastErr error
	for _, b := range f.backends() {
		if err := b.Ping(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return &errs.Error{Type: errs.ErrorTypePersistence, Message: fmt.Sprintf("no backend reachable: %v", lastErr)}
}

// CacheEntries serves from the mirror when it already holds the target, and
// otherwise loads from the first backend that answers, populating the mirror.
func (f *Failover) CacheEntries(ctx context.Context, target string) ([]models.CacheEntry, error) {
	if f.mirror.hasTarget(target) {
		return f.mirror.CacheEntries(ctx, target)
	}

	for _, b := range f.backends() {
		entries, err := b.CacheEntries(ctx, target)
		if err != nil {
			f.log.WarnWithFields("cache read failed, failing over", map[string]interface{}{
				"backend": b.Name(),
				"target":  target,
				"error":   err.Error(),
			})
			continue
		}
		f.mirror.ReplaceCacheEntries(ctx, target, entries)
		return entries, nil
	}

	// Memory-only: serve whatever the mirror has, possibly nothing.
	return f.mirror.CacheEntries(ctx, target)
}

func (f *Failover) ReplaceCacheEntries(ctx context.Context, target string, entries []models.CacheEntry) error {
	f.mirror.ReplaceCacheEntries(ctx, target, entries)
	f.write("replace_cache", func(b Backend) error {
		return b.ReplaceCacheEntries(ctx, target, entries)
	})
	return nil
}

func (f *Failover) DeleteCacheEntries(ctx context.Context, target string) (int, error) {
	removed, _ := f.mirror.DeleteCacheEntries(ctx, target)
	f.write("delete_cache", func(b Backend) error {
		n, err := b.DeleteCacheEntries(ctx, target)
		if err == nil && n > removed {
			removed = n
		}
		return err
	})
	return removed, nil
}

func (f *Failover) CacheTargets(ctx context.Context) ([]string, error) {
	for _, b := range f.backends() {
		targets, err := b.CacheTargets(ctx)
		if err != nil {
			continue
		}
		return targets, nil
	}
	return f.mirror.CacheTargets(ctx)
}

func (f *Failover) ProcessedRecord(ctx context.Context, target, shortcode string) (*models.ProcessedRecord, error) {
	for _, b := range f.backends() {
		rec, err := b.ProcessedRecord(ctx, target, shortcode)
		if err != nil {
			f.log.WarnWithFields("processed lookup failed, failing over", map[string]interface{}{
				"backend": b.Name(),
				"error":   err.Error(),
			})
			continue
		}
		return rec, nil
	}
	return f.mirror.ProcessedRecord(ctx, target, shortcode)
}

func (f *Failover) UpsertProcessedRecord(ctx context.Context, rec models.ProcessedRecord) error {
	f.mirror.UpsertProcessedRecord(ctx, rec)
	f.write("upsert_processed", func(b Backend) error {
		return b.UpsertProcessedRecord(ctx, rec)
	})
	return nil
}

func (f *Failover) DeleteProcessedRecords(ctx context.Context, target string) (int, error) {
	removed, _ := f.mirror.DeleteProcessedRecords(ctx, target)
	f.write("delete_processed", func(b Backend) error {
		n, err := b.DeleteProcessedRecords(ctx, target)
		if err == nil && n > removed {
			removed = n
		}
		return err
	})
	return removed, nil
}

// Cleanup operations run against every durable backend so the secondary
// stays bounded even while the primary is healthy. The largest count
// observed is reported.

func (f *Failover) TrimCacheEntries(ctx context.Context, target string, keep int) (int, error) {
	return f.sweep(ctx, "trim_cache", func(b Backend) (int, error) {
		return b.TrimCacheEntries(ctx, target, keep)
	}, func() (int, error) {
		return f.mirror.TrimCacheEntries(ctx, target, keep)
	})
}

func (f *Failover) TrimProcessedRecords(ctx context.Context, target string, keep int) (int, error) {
	return f.sweep(ctx, "trim_processed", func(b Backend) (int, error) {
		return b.TrimProcessedRecords(ctx, target, keep)
	}, func() (int, error) {
		return f.mirror.TrimProcessedRecords(ctx, target, keep)
	})
}

func (f *Failover) DeleteCacheEntriesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return f.sweep(ctx, "sweep_cache", func(b Backend) (int, error) {
		return b.DeleteCacheEntriesBefore(ctx, cutoff)
	}, func() (int, error) {
		return f.mirror.DeleteCacheEntriesBefore(ctx, cutoff)
	})
}

func (f *Failover) DeleteProcessedRecordsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return f.sweep(ctx, "sweep_processed", func(b Backend) (int, error) {
		return b.DeleteProcessedRecordsBefore(ctx, cutoff)
	}, func() (int, error) {
		return f.mirror.DeleteProcessedRecordsBefore(ctx, cutoff)
	})
}

func (f *Failover) sweep(ctx context.Context, name string, op func(Backend) (int, error), mirrorOp func() (int, error)) (int, error) {
	removed, _ := mirrorOp()
	anyOK := false
	for _, b := range f.backends() {
		n, err := op(b)
		if err != nil {
			f.log.WarnWithFields("cleanup op failed on backend", map[string]interface{}{
				"op":      name,
				"backend": b.Name(),
				"error":   err.Error(),
			})
			continue
		}
		anyOK = true
		if n > removed {
			removed = n
		}
	}
	if !anyOK {
		f.log.ErrorWithFields("cleanup op degraded to memory-only", map[string]interface{}{"op": name})
	}
	return removed, nil
}

func (f *Failover) AppendCleanupLog(ctx context.Context, entry models.CleanupLogEntry) error {
	f.mirror.AppendCleanupLog(ctx, entry)
	f.write("append_cleanup_log", func(b Backend) error {
		return b.AppendCleanupLog(ctx, entry)
	})
	return nil
}

func (f *Failover) LastCleanup(ctx context.Context) (*time.Time, error) {
	for _, b := range f.backends() {
		t, err := b.LastCleanup(ctx)
		if err != nil {
			continue
		}
		return t, nil
	}
	return f.mirror.LastCleanup(ctx)
}

// SizeBytes reports the footprint of the first backend that answers.
func (f *Failover) SizeBytes(ctx context.Context) (int64, error) {
	var lastErr error
	for _, b := range f.backends() {
		size, err := b.SizeBytes(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		return size, nil
	}
	return 0, lastErr
}

func (f *Failover) Close() error {
	var firstErr error
	for _, b := range f.backends() {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// InvalidateAndReload drops the whole mirror and repopulates it from durable
// storage. Called after every cleanup pass.
func (f *Failover) InvalidateAndReload(ctx context.Context) error {
	f.mirror.clear()

	targets, err := f.durableCacheTargets(ctx)
	if err != nil {
		return err
	}
	for _, target := range targets {
		if _, err := f.CacheEntries(ctx, target); err != nil {
			return err
		}
	}
	return nil
}

// Reconcile fixes mirror drift: targets present in durable storage but
// missing from the mirror are reloaded, and mirror targets absent from
// durable storage are dropped as orphans.
func (f *Failover) Reconcile(ctx context.Context) (reloaded, orphaned int, err error) {
	durable, err := f.durableCacheTargets(ctx)
	if err != nil {
		return 0, 0, err
	}

	durableSet := make(map[string]bool, len(durable))
	for _, t := range durable {
		durableSet[t] = true
		if !f.mirror.hasTarget(t) {
			if _, err := f.CacheEntries(ctx, t); err == nil {
				reloaded++
			}
		}
	}

	mirrorTargets, _ := f.mirror.CacheTargets(ctx)
	for _, t := range mirrorTargets {
		if !durableSet[t] {
			f.mirror.dropTarget(t)
			orphaned++
		}
	}
	return reloaded, orphaned, nil
}

// durableCacheTargets queries targets from the backends only, never the
// mirror, so reconciliation compares against durable truth.
func (f *Failover) durableCacheTargets(ctx context.Context) ([]string, error) {
	var lastErr error
	for _, b := range f.backends() {
		targets, err := b.CacheTargets(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		return targets, nil
	}
	return nil, &errs.Error{Type: errs.ErrorTypePersistence, Message: fmt.Sprintf("no backend reachable: %v", lastErr)}
}
