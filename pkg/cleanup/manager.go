package cleanup

import (
	"context"
	"time"

	"igmonitor/pkg/config"
	"igmonitor/pkg/logger"
	"igmonitor/pkg/models"
	"igmonitor/pkg/store"
)

// Manager owns the retention policy: per-target count caps, an age sweep,
// and an emergency sweep when total storage crosses the configured limit.
// All sweeps go through the serial queue; the manager itself only decides
// what to enqueue and runs the passes when the queue calls back.
type Manager struct {
	store *store.Failover
	queue *Queue
	cfg   *config.RetentionConfig
	log   logger.Logger
}

// NewManager wires the retention policy over the failover store.
func NewManager(st *store.Failover, queue *Queue, cfg *config.RetentionConfig, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{store: st, queue: queue, cfg: cfg, log: log}
}

// Queue exposes the serial queue so the scheduler can wait for it to drain.
func (m *Manager) Queue() *Queue { return m.queue }

// CleanupDue reports whether the scheduled pass should run: no pass was
// ever recorded, or the last one is older than the configured interval.
func (m *Manager) CleanupDue(ctx context.Context) bool {
	last, err := m.store.LastCleanup(ctx)
	if err != nil {
		m.log.WithError(err).Warn("cannot read last cleanup time, assuming due")
		return true
	}
	if last == nil {
		return true
	}
	return time.Since(*last) >= m.cfg.CleanupInterval
}

// EnqueueScheduled queues the regular retention pass.
func (m *Manager) EnqueueScheduled() {
	m.queue.Enqueue(Op{Name: "scheduled-retention", Execute: m.RunScheduled})
}

// CheckStorageLimit queues the emergency sweep when the store exceeds the
// configured size. Returns true when the sweep was queued.
func (m *Manager) CheckStorageLimit(ctx context.Context) bool {
	size, err := m.store.SizeBytes(ctx)
	if err != nil {
		m.log.WithError(err).Warn("storage size check failed")
		return false
	}
	limit := int64(m.cfg.MaxStorageMB) * 1024 * 1024
	if size < limit {
		return false
	}
	m.log.WarnWithFields("storage limit exceeded", map[string]interface{}{
		"size_mb":  size / (1024 * 1024),
		"limit_mb": m.cfg.MaxStorageMB,
	})
	m.queue.Enqueue(Op{Name: "storage-pressure", Execute: m.RunStorageCleanup})
	return true
}

// RunScheduled trims every target to the per-target cap and removes records
// older than the retention age. Pinned delivery records are exempt from
// both. A log entry is written even when nothing was removed, so CleanupDue
// keys off attempts, not effects.
func (m *Manager) RunScheduled(ctx context.Context) error {
	targets, err := m.store.CacheTargets(ctx)
	if err != nil {
		return err
	}

	removed := 0
	for _, target := range targets {
		n, err := m.trimTarget(ctx, target)
		if err != nil {
			m.log.WithError(err).WithField("target", target).Error("retention trim failed")
			continue
		}
		removed += n
	}

	// Age sweeps spare pinned rows; pins age out only once unpinned upstream.
	cutoff := time.Now().Add(-m.cfg.MaxAge)
	if n, err := m.store.DeleteCacheEntriesBefore(ctx, cutoff); err == nil {
		removed += n
	} else {
		m.log.WithError(err).Error("cache age sweep failed")
	}
	if n, err := m.store.DeleteProcessedRecordsBefore(ctx, cutoff); err == nil {
		removed += n
	} else {
		m.log.WithError(err).Error("processed age sweep failed")
	}

	return m.finish(ctx, "scheduled", removed)
}

// RunStorageCleanup is the emergency pass: trim every target to the cap,
// ignoring record age entirely. Newest records survive.
func (m *Manager) RunStorageCleanup(ctx context.Context) error {
	targets, err := m.store.CacheTargets(ctx)
	if err != nil {
		return err
	}

	removed := 0
	for _, target := range targets {
		n, err := m.trimTarget(ctx, target)
		if err != nil {
			m.log.WithError(err).WithField("target", target).Error("storage trim failed")
			continue
		}
		removed += n
	}
	return m.finish(ctx, "storage-pressure", removed)
}

func (m *Manager) trimTarget(ctx context.Context, target string) (int, error) {
	removed, err := m.store.TrimCacheEntries(ctx, target, m.cfg.KeepPerTarget)
	if err != nil {
		return removed, err
	}
	n, err := m.store.TrimProcessedRecords(ctx, target, m.cfg.KeepPerTarget)
	removed += n
	return removed, err
}

// finish reconciles the in-memory mirror against the surviving durable
// rows and records the pass.
func (m *Manager) finish(ctx context.Context, kind string, removed int) error {
	if err := m.store.InvalidateAndReload(ctx); err != nil {
		m.log.WithError(err).Warn("mirror reload after cleanup failed")
	}
	reloaded, orphaned, err := m.store.Reconcile(ctx)
	if err != nil {
		m.log.WithError(err).Warn("mirror reconcile after cleanup failed")
	}

	entry := models.CleanupLogEntry{
		CleanedAt:    time.Now(),
		ItemsRemoved: removed,
		Target:       kind,
	}
	if err := m.store.AppendCleanupLog(ctx, entry); err != nil {
		m.log.WithError(err).Error("cleanup log write failed")
	}

	m.log.InfoWithFields("cleanup pass complete", map[string]interface{}{
		"kind":     kind,
		"removed":  removed,
		"reloaded": reloaded,
		"orphaned": orphaned,
	})
	return nil
}
