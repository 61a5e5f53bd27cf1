package models

import "time"

// PostType classifies an upstream item.
type PostType string

const (
	PostTypeImage    PostType = "image"
	PostTypeVideo    PostType = "video"
	PostTypeCarousel PostType = "carousel"
	PostTypeStory    PostType = "story"
)

// Asset is a single downloadable media candidate for a post. A carousel post
// expands into multiple candidates, often several quality variants per slide.
type Asset struct {
	URL     string `json:"url"`
	Thumb   string `json:"thumb,omitempty"`
	Quality string `json:"quality,omitempty"`
	IsVideo bool   `json:"is_video,omitempty"`
}

// Post is one ranked item fetched from the upstream profile feed.
type Post struct {
	Shortcode string   `json:"shortcode"`
	URL       string   `json:"url"`
	Type      PostType `json:"type"`
	Pinned    bool     `json:"pinned"`
	Caption   string   `json:"caption,omitempty"`
	Assets    []Asset  `json:"assets,omitempty"`
}

// CacheEntry records that a post is currently part of a target's recent feed.
// The full entry set for a target is replaced every successful cycle, so
// Order always reflects the upstream ranking at the last commit.
type CacheEntry struct {
	Target    string    `json:"target"`
	Shortcode string    `json:"shortcode"`
	URL       string    `json:"url"`
	Pinned    bool      `json:"pinned"`
	Order     int       `json:"order"`
	CachedAt  time.Time `json:"cached_at"`
}

// ProcessedRecord records that a post was durably delivered downstream.
// Non-pinned records are permanent until evicted. Pinned records carry
// PinnedAt, which restarts the re-delivery grace window each time the item
// is re-observed pinned.
type ProcessedRecord struct {
	Target      string     `json:"target"`
	Shortcode   string     `json:"shortcode"`
	URL         string     `json:"url"`
	Type        PostType   `json:"type"`
	Pinned      bool       `json:"pinned"`
	PinnedAt    *time.Time `json:"pinned_at,omitempty"`
	ProcessedAt time.Time  `json:"processed_at"`
}

// CleanupLogEntry is one row of the append-only cleanup audit trail.
// Target is empty for global sweeps.
type CleanupLogEntry struct {
	CleanedAt    time.Time `json:"cleaned_at"`
	ItemsRemoved int       `json:"items_removed"`
	Target       string    `json:"target,omitempty"`
}

// TrackedTarget is the single account a scheduler instance polls.
type TrackedTarget struct {
	ID       string `json:"id"`
	IsActive bool   `json:"is_active"`
}
