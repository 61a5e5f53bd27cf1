package delivery

import (
	"fmt"
	"strings"
	"testing"

	"igmonitor/pkg/models"
)

func makeAssets(n int) []models.Asset {
	assets := make([]models.Asset, n)
	for i := range assets {
		assets[i] = models.Asset{URL: fmt.Sprintf("https://cdn.example.com/%d.jpg", i)}
	}
	return assets
}

func TestChunkAssets(t *testing.T) {
	tests := []struct {
		name  string
		count int
		size  int
		want  []int
	}{
		{"empty", 0, 10, nil},
		{"single fits", 1, 10, []int{1}},
		{"exact fit", 10, 10, []int{10}},
		{"one over", 11, 10, []int{10, 1}},
		{"large carousel", 25, 10, []int{10, 10, 5}},
		{"zero size falls back to singles", 3, 0, []int{1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := chunkAssets(makeAssets(tt.count), tt.size)
			if len(chunks) != len(tt.want) {
				t.Fatalf("Expected %d chunks, got %d", len(tt.want), len(chunks))
			}
			total := 0
			for i, chunk := range chunks {
				if len(chunk) != tt.want[i] {
					t.Errorf("Chunk %d: expected %d assets, got %d", i, tt.want[i], len(chunk))
				}
				total += len(chunk)
			}
			if total != tt.count {
				t.Errorf("Expected %d assets across chunks, got %d", tt.count, total)
			}
		})
	}
}

func TestChunkAssetsPreservesOrder(t *testing.T) {
	assets := makeAssets(13)
	chunks := chunkAssets(assets, 5)
	i := 0
	for _, chunk := range chunks {
		for _, a := range chunk {
			if a.URL != assets[i].URL {
				t.Fatalf("Asset %d out of order: got %s", i, a.URL)
			}
			i++
		}
	}
}

func TestBuildCaption(t *testing.T) {
	post := models.Post{
		Shortcode: "abc123",
		Caption:   "sunset over the bay",
		URL:       "https://www.instagram.com/p/abc123/",
	}

	caption := buildCaption("someuser", post, 1, 1)
	if !strings.Contains(caption, "sunset over the bay") {
		t.Error("Expected caption text to be included")
	}
	if !strings.Contains(caption, "@someuser") {
		t.Error("Expected target attribution")
	}
	if !strings.Contains(caption, post.URL) {
		t.Error("Expected post URL")
	}
	if strings.Contains(caption, "(1/1)") {
		t.Error("Single-part post should not get a part marker")
	}
}

func TestBuildCaptionPartMarker(t *testing.T) {
	post := models.Post{Shortcode: "abc123"}

	caption := buildCaption("someuser", post, 2, 3)
	if !strings.Contains(caption, "(2/3)") {
		t.Errorf("Expected part marker, got %q", caption)
	}
}

func TestBuildCaptionEmptyPost(t *testing.T) {
	caption := buildCaption("someuser", models.Post{Shortcode: "x"}, 1, 1)
	if caption != "@someuser" {
		t.Errorf("Expected bare attribution for empty post, got %q", caption)
	}
}
