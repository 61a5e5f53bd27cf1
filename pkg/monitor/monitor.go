// Package monitor orchestrates one tracked account: fetch the ranked feed,
// find genuinely new posts, deliver them, and only then commit the cache.
package monitor

import (
	"context"
	goerrors "errors"
	"fmt"
	"sync"
	"time"

	"igmonitor/pkg/cache"
	"igmonitor/pkg/cleanup"
	"igmonitor/pkg/config"
	"igmonitor/pkg/delivery"
	"igmonitor/pkg/errors"
	"igmonitor/pkg/logger"
	"igmonitor/pkg/models"
	"igmonitor/pkg/ratelimit"
	"igmonitor/pkg/retry"
	"igmonitor/pkg/scheduler"
	"igmonitor/pkg/source"
	"igmonitor/pkg/store"
)

// Monitor owns the poll cycle. Delivery state only advances on confirmed
// sends: a post is marked delivered after its sink call returns, and the
// cache entry set is rewritten only after every new post of the cycle went
// out. A crash mid-cycle re-finds the same posts next time.
type Monitor struct {
	cfg     *config.Config
	fetcher source.Fetcher
	sink    delivery.Sink
	cache   *cache.Cache
	store   *store.Failover
	rate    *ratelimit.Controller
	breaker *ratelimit.CircuitBreaker
	guard   ratelimit.Limiter
	cleanup *cleanup.Manager
	sched   *scheduler.Scheduler
	log     logger.Logger

	mu        sync.Mutex
	target    string
	forceNext bool
	intended  bool
	stats     cycleStats

	// pacing sleep, replaceable in tests
	wait func(ctx context.Context, d time.Duration) error
}

type cycleStats struct {
	Cycles     int
	Delivered  int
	Skipped    int
	Failures   int
	LastCycle  time.Time
	LastNew    int
	LastError  string
	LastTarget string
}

// New wires a monitor. The scheduler is created here so its cycle callback
// closes over the monitor.
func New(cfg *config.Config, fetcher source.Fetcher, sink delivery.Sink, st *store.Failover, cl *cleanup.Manager, log logger.Logger) *Monitor {
	if log == nil {
		log = logger.GetLogger()
	}
	m := &Monitor{
		cfg:     cfg,
		fetcher: fetcher,
		sink:    sink,
		// The committed cache is the retention working set, so its size
		// follows the retention knob, not the per-cycle delivery cap.
		cache:   cache.New(st, cfg.Retention.KeepPerTarget, log),
		store:   st,
		rate:    ratelimit.NewController(&cfg.RateLimit),
		breaker: ratelimit.NewCircuitBreaker(cfg.RateLimit.CircuitThreshold, cfg.RateLimit.CircuitCooldown),
		guard:   ratelimit.NewSlidingWindow(cfg.RateLimit.RequestsPerMinute, time.Minute),
		cleanup: cl,
		log:     log,
		target:  cfg.Source.Target,
		wait:    retry.Wait,
	}
	m.sched = scheduler.New(&cfg.Poller, cl.Queue(), m.runCycle, log)
	return m
}

// Scheduler exposes the poll scheduler for the health supervisor.
func (m *Monitor) Scheduler() *scheduler.Scheduler { return m.sched }

// Start begins polling. No-op when already running or no target is set.
func (m *Monitor) Start(ctx context.Context) error {
	if m.Target() == "" {
		return fmt.Errorf("no target configured")
	}
	m.sched.Start(ctx)
	m.mu.Lock()
	m.intended = true
	m.mu.Unlock()
	return nil
}

// Stop halts polling and clears the polling intent so the health
// supervisor does not resurrect the scheduler.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.intended = false
	m.mu.Unlock()
	m.sched.Stop()
}

// Restart stops and restarts polling. Used by the health supervisor.
func (m *Monitor) Restart(ctx context.Context) error {
	m.sched.Stop()
	return m.Start(ctx)
}

// PollingIntended reports whether an operator asked for polling to be
// active. A missing scheduler timer only counts as a fault while this
// is set.
func (m *Monitor) PollingIntended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intended
}

// Trigger requests an immediate cycle. force makes the cycle bypass the
// delivered check so already-sent posts go out again. The flag is armed
// before the trigger so the immediate cycle always sees it, and rolled
// back when the scheduler rejects the trigger.
func (m *Monitor) Trigger(force bool) bool {
	if force {
		m.mu.Lock()
		m.forceNext = true
		m.mu.Unlock()
	}
	ok := m.sched.TriggerNow()
	if !ok && force {
		m.mu.Lock()
		m.forceNext = false
		m.mu.Unlock()
	}
	return ok
}

// SetTarget switches the tracked account. The scheduler keeps running; the
// next cycle polls the new target against its own cache.
func (m *Monitor) SetTarget(target string) {
	m.mu.Lock()
	m.target = target
	m.mu.Unlock()
	m.log.WithField("target", target).Info("target changed")
}

// Target returns the tracked account name.
func (m *Monitor) Target() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

func (m *Monitor) consumeForce() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	force := m.forceNext
	m.forceNext = false
	return force
}

// runCycle is the scheduler callback: one full poll of the current target.
func (m *Monitor) runCycle(ctx context.Context) (int, error) {
	target := m.Target()
	if target == "" {
		return 0, nil
	}
	force := m.consumeForce()

	prevCalls := m.rate.ResetCycle()
	m.log.DebugWithFields("poll cycle starting", map[string]interface{}{
		"target":      target,
		"force":       force,
		"prior_calls": prevCalls,
	})

	posts, err := m.fetchFeed(ctx, target)
	if err != nil {
		m.recordFailure(target, err)
		return 0, err
	}

	fresh, err := m.cache.FindNew(ctx, target, posts)
	if err != nil {
		m.recordFailure(target, err)
		return 0, err
	}
	if force {
		// Forced cycles reconsider the whole feed, not just uncached items.
		fresh = nonEmptyShortcodes(posts)
	}
	if len(fresh) > m.cfg.Poller.MaxItemsPerCycle {
		fresh = fresh[:m.cfg.Poller.MaxItemsPerCycle]
	}

	delivered, err := m.deliverBatch(ctx, target, fresh, force)
	if err != nil {
		m.recordFailure(target, err)
		return delivered, err
	}

	if err := m.cache.Commit(ctx, target, posts); err != nil {
		m.recordFailure(target, err)
		return delivered, err
	}

	m.afterCycle(ctx, target, delivered)
	return delivered, nil
}

// fetchFeed performs the rate-gated, circuit-protected feed call.
func (m *Monitor) fetchFeed(ctx context.Context, target string) ([]models.Post, error) {
	if err := m.guard.Wait(ctx); err != nil {
		return nil, err
	}
	if delay := m.rate.DelayFor(ratelimit.KindFeed, 0); delay > 0 {
		if err := m.wait(ctx, delay); err != nil {
			return nil, err
		}
	}

	var posts []models.Post
	err := m.breaker.Execute(func() error {
		var ferr error
		posts, ferr = m.fetcher.FetchRankedItems(ctx, target)
		return ferr
	})
	if err != nil {
		m.handleFetchError(ctx, err)
		return nil, err
	}

	m.rate.OnSuccess()
	return posts, nil
}

func (m *Monitor) handleFetchError(ctx context.Context, err error) {
	if goerrors.Is(err, ratelimit.ErrCircuitOpen) {
		m.log.Warn("circuit open, skipping fetch")
		return
	}

	var typed *errors.Error
	if goerrors.As(err, &typed) && typed.Type == errors.ErrorTypeRateLimit {
		cooldown := m.rate.OnRateLimited()
		m.log.WithField("cooldown", cooldown.String()).Warn("rate limited, cooling down")
		_ = m.wait(ctx, cooldown)
		return
	}
	m.rate.OnFailure()
}

// deliverBatch sends new posts oldest first and marks each one delivered
// immediately after its send succeeds. A failed send aborts the batch; the
// cache stays uncommitted so the remainder is retried next cycle.
func (m *Monitor) deliverBatch(ctx context.Context, target string, fresh []models.Post, force bool) (int, error) {
	delivered := 0
	for i := len(fresh) - 1; i >= 0; i-- {
		post := fresh[i]

		if !force {
			done, err := m.cache.IsDelivered(ctx, target, post.Shortcode)
			if err != nil {
				return delivered, err
			}
			if done {
				m.mu.Lock()
				m.stats.Skipped++
				m.mu.Unlock()
				if err := m.cache.EnsureCached(ctx, target, post); err != nil {
					m.log.WithError(err).WithField("shortcode", post.Shortcode).Warn("cache bookkeeping for skipped post failed")
				}
				continue
			}
		}

		if post.Type == models.PostTypeCarousel {
			post.Assets = cache.DedupAssets(post.Assets)
		}

		kind := ratelimit.KindItem
		if len(post.Assets) > 1 {
			kind = ratelimit.KindBatch
		}
		if delay := m.rate.DelayFor(kind, len(post.Assets)); delay > 0 {
			if err := m.wait(ctx, delay); err != nil {
				return delivered, err
			}
		}

		if err := m.sink.Deliver(ctx, target, post); err != nil {
			var typed *errors.Error
			if goerrors.As(err, &typed) && typed.Type == errors.ErrorTypeExtraction {
				// Malformed item. Skip it alone; the rest of the batch
				// still goes out.
				m.log.WithError(err).WithField("shortcode", post.Shortcode).Warn("skipping undeliverable post")
				continue
			}
			return delivered, fmt.Errorf("delivery aborted at %s: %w", post.Shortcode, err)
		}
		if err := m.cache.MarkDelivered(ctx, target, post); err != nil {
			return delivered, err
		}
		if force {
			if err := m.cache.EnsureCached(ctx, target, post); err != nil {
				m.log.WithError(err).WithField("shortcode", post.Shortcode).Warn("cache bookkeeping for forced post failed")
			}
		}
		delivered++
	}
	return delivered, nil
}

func (m *Monitor) afterCycle(ctx context.Context, target string, delivered int) {
	m.mu.Lock()
	m.stats.Cycles++
	m.stats.Delivered += delivered
	m.stats.LastCycle = time.Now()
	m.stats.LastNew = delivered
	m.stats.LastError = ""
	m.stats.LastTarget = target
	m.mu.Unlock()

	if m.cleanup.CleanupDue(ctx) {
		m.cleanup.EnqueueScheduled()
	}
	m.cleanup.CheckStorageLimit(ctx)
}

func (m *Monitor) recordFailure(target string, err error) {
	m.mu.Lock()
	m.stats.Cycles++
	m.stats.Failures++
	m.stats.LastCycle = time.Now()
	m.stats.LastError = err.Error()
	m.stats.LastTarget = target
	m.mu.Unlock()
}

// Stats summarizes monitor state for the operator surface.
func (m *Monitor) Stats() map[string]interface{} {
	m.mu.Lock()
	stats := m.stats
	target := m.target
	m.mu.Unlock()

	multiplier, calls, fails := m.rate.Snapshot()
	out := map[string]interface{}{
		"target":               target,
		"cycles":               stats.Cycles,
		"delivered_total":      stats.Delivered,
		"skipped_total":        stats.Skipped,
		"failed_cycles":        stats.Failures,
		"last_new_items":       stats.LastNew,
		"error_multiplier":     multiplier,
		"calls_this_cycle":     calls,
		"consecutive_failures": fails,
		"circuit":              m.breaker.Status(),
		"scheduler":            m.sched.Status(),
	}
	if !stats.LastCycle.IsZero() {
		out["last_cycle"] = stats.LastCycle.UTC().Format(time.RFC3339)
	}
	if stats.LastError != "" {
		out["last_error"] = stats.LastError
	}
	return out
}

// CircuitStatus exposes breaker internals for the health surface.
func (m *Monitor) CircuitStatus() map[string]interface{} { return m.breaker.Status() }

// Store exposes the failover store for the operator surface.
func (m *Monitor) Store() *store.Failover { return m.store }

// ClearTarget drops all cache entries and delivery records for a target.
func (m *Monitor) ClearTarget(ctx context.Context, target string) (entries, records int, err error) {
	entries, err = m.store.DeleteCacheEntries(ctx, target)
	if err != nil {
		return entries, 0, err
	}
	records, err = m.store.DeleteProcessedRecords(ctx, target)
	return entries, records, err
}

func nonEmptyShortcodes(posts []models.Post) []models.Post {
	out := make([]models.Post, 0, len(posts))
	for _, p := range posts {
		if p.Shortcode != "" {
			out = append(out, p)
		}
	}
	return out
}
