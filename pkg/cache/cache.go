package cache

import (
	"context"
	"fmt"
	"time"

	"igmonitor/pkg/logger"
	"igmonitor/pkg/models"
	"igmonitor/pkg/store"
)

// repinWindow is how long after (re-)pinning a pinned item stays eligible
// for re-delivery, since a pinned item may have been edited while pinned.
const repinWindow = 24 * time.Hour

// Cache decides which fetched items are genuinely new for a target and
// guarantees an item is recorded as delivered if and only if delivery
// actually succeeded. The cache entry set is only rewritten after a cycle's
// new items have all been handed to delivery (Commit), so a failed cycle
// leaves the same items "new" for the next one.
type Cache struct {
	store      store.Backend
	maxEntries int
	log        logger.Logger
	now        func() time.Time
}

// New creates the dedup cache over the given backend. maxEntries bounds the
// entry set committed per target.
func New(st store.Backend, maxEntries int, log logger.Logger) *Cache {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Cache{
		store:      st,
		maxEntries: maxEntries,
		log:        log,
		now:        time.Now,
	}
}

// FindNew returns the subset of fetched posts whose shortcode is not in the
// target's cache entry set. Posts without a shortcode are skipped: an item
// that cannot be keyed is neither new nor a duplicate.
func (c *Cache) FindNew(ctx context.Context, target string, fetched []models.Post) ([]models.Post, error) {
	entries, err := c.store.CacheEntries(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("load cache for %s: %w", target, err)
	}

	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		known[e.Shortcode] = true
	}

	var fresh []models.Post
	skipped := 0
	for _, post := range fetched {
		if post.Shortcode == "" {
			skipped++
			continue
		}
		if !known[post.Shortcode] {
			fresh = append(fresh, post)
		}
	}

	c.log.DebugWithFields("cache comparison", map[string]interface{}{
		"target":  target,
		"fetched": len(fetched),
		"cached":  len(entries),
		"new":     len(fresh),
		"no_key":  skipped,
	})
	return fresh, nil
}

// IsDelivered reports whether a post was already delivered downstream.
// Pinned records within the re-pin window count as not delivered so edits
// made while pinned are picked up again.
func (c *Cache) IsDelivered(ctx context.Context, target, shortcode string) (bool, error) {
	rec, err := c.store.ProcessedRecord(ctx, target, shortcode)
	if err != nil {
		return false, fmt.Errorf("lookup processed record: %w", err)
	}
	if rec == nil {
		return false, nil
	}

	if !rec.Pinned {
		return true, nil
	}

	if rec.PinnedAt == nil {
		// Pinned record without a pin timestamp, written before the window
		// existed. Treat as delivered.
		return true, nil
	}

	sincePinned := c.now().Sub(*rec.PinnedAt)
	if sincePinned < repinWindow {
		c.log.DebugWithFields("pinned post within re-delivery window", map[string]interface{}{
			"target":       target,
			"shortcode":    shortcode,
			"hours_pinned": sincePinned.Hours(),
		})
		return false, nil
	}
	return true, nil
}

// MarkDelivered upserts the delivery record for a post. For pinned posts the
// pin timestamp is refreshed to now on every write, restarting the re-pin
// window each time the post is re-observed pinned.
func (c *Cache) MarkDelivered(ctx context.Context, target string, post models.Post) error {
	now := c.now()
	rec := models.ProcessedRecord{
		Target:      target,
		Shortcode:   post.Shortcode,
		URL:         post.URL,
		Type:        post.Type,
		Pinned:      post.Pinned,
		ProcessedAt: now,
	}
	if post.Pinned {
		rec.PinnedAt = &now
	}

	if err := c.store.UpsertProcessedRecord(ctx, rec); err != nil {
		return fmt.Errorf("mark delivered %s: %w", post.Shortcode, err)
	}
	return nil
}

// Commit rewrites the target's cache entry set from the cycle's full fetched
// list, truncated to the configured maximum. Call only after every new item
// of the cycle was delivered (or deliberately skipped).
func (c *Cache) Commit(ctx context.Context, target string, posts []models.Post) error {
	if len(posts) > c.maxEntries {
		posts = posts[:c.maxEntries]
	}

	now := c.now()
	entries := make([]models.CacheEntry, 0, len(posts))
	for i, post := range posts {
		if post.Shortcode == "" {
			continue
		}
		entries = append(entries, models.CacheEntry{
			Target:    target,
			Shortcode: post.Shortcode,
			URL:       post.URL,
			Pinned:    post.Pinned,
			Order:     i + 1,
			CachedAt:  now,
		})
	}

	if err := c.store.ReplaceCacheEntries(ctx, target, entries); err != nil {
		return fmt.Errorf("commit cache for %s: %w", target, err)
	}

	c.log.InfoWithFields("cache committed", map[string]interface{}{
		"target":  target,
		"entries": len(entries),
	})
	return nil
}

// EnsureCached adds a single post to the target's entry set if absent.
// Forced deliveries bypass IsDelivered but still need this bookkeeping so
// the next cycle does not see the post as new.
func (c *Cache) EnsureCached(ctx context.Context, target string, post models.Post) error {
	if post.Shortcode == "" {
		return nil
	}

	entries, err := c.store.CacheEntries(ctx, target)
	if err != nil {
		return fmt.Errorf("load cache for %s: %w", target, err)
	}
	for _, e := range entries {
		if e.Shortcode == post.Shortcode {
			return nil
		}
	}

	entries = append(entries, models.CacheEntry{
		Target:    target,
		Shortcode: post.Shortcode,
		URL:       post.URL,
		Pinned:    false,
		Order:     len(entries) + 1,
		CachedAt:  c.now(),
	})
	return c.store.ReplaceCacheEntries(ctx, target, entries)
}
