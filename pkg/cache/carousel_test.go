package cache

import (
	"testing"

	"igmonitor/pkg/models"
)

func TestDedupAssetsPrefersHD(t *testing.T) {
	assets := []models.Asset{
		{URL: "a-sd.jpg", Thumb: "thumb-a", Quality: "SD 640x640"},
		{URL: "a-hd.jpg", Thumb: "thumb-a", Quality: "HD 1080x1080"},
		{URL: "b.jpg", Thumb: "thumb-b"},
	}

	out := DedupAssets(assets)
	if len(out) != 2 {
		t.Fatalf("Expected 2 assets after dedup, got %d", len(out))
	}
	if out[0].URL != "a-hd.jpg" {
		t.Errorf("Expected HD rendition to survive, got %s", out[0].URL)
	}
	if out[1].URL != "b.jpg" {
		t.Errorf("Expected distinct asset preserved, got %s", out[1].URL)
	}
}

func TestDedupAssetsHDNotDemoted(t *testing.T) {
	// HD seen first must not be replaced by a later SD duplicate
	assets := []models.Asset{
		{URL: "a-hd.jpg", Thumb: "thumb-a", Quality: "HD 1080x1080"},
		{URL: "a-sd.jpg", Thumb: "thumb-a", Quality: "SD 640x640"},
		{URL: "a-raw.jpg", Thumb: "thumb-a"},
	}

	out := DedupAssets(assets)
	if len(out) != 1 || out[0].URL != "a-hd.jpg" {
		t.Errorf("Expected single HD survivor, got %v", out)
	}
}

func TestDedupAssetsNoThumbPassThrough(t *testing.T) {
	assets := []models.Asset{
		{URL: "x.jpg"},
		{URL: "y.jpg"},
		{URL: "x.jpg"}, // same URL but no thumb to group on
	}

	out := DedupAssets(assets)
	if len(out) != 3 {
		t.Errorf("Expected ungroupable assets to pass through, got %d", len(out))
	}
}

func TestDedupAssetsPreservesOrder(t *testing.T) {
	assets := []models.Asset{
		{URL: "1.jpg", Thumb: "t1"},
		{URL: "2-sd.jpg", Thumb: "t2", Quality: "SD"},
		{URL: "3.jpg", Thumb: "t3"},
		{URL: "2-hd.jpg", Thumb: "t2", Quality: "HD"},
	}

	out := DedupAssets(assets)
	if len(out) != 3 {
		t.Fatalf("Expected 3 assets, got %d", len(out))
	}
	// Upgraded rendition keeps the slot of its first appearance
	if out[0].URL != "1.jpg" || out[1].URL != "2-hd.jpg" || out[2].URL != "3.jpg" {
		t.Errorf("Unexpected order: %v", out)
	}
}

func TestDedupAssetsSingle(t *testing.T) {
	assets := []models.Asset{{URL: "only.jpg", Thumb: "t"}}
	out := DedupAssets(assets)
	if len(out) != 1 {
		t.Errorf("Expected single asset untouched, got %d", len(out))
	}
}
