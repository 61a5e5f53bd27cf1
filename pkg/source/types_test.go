package source

import (
	"encoding/json"
	"testing"

	"igmonitor/pkg/models"
)

const sampleFeedJSON = `{
	"data": {
		"user": {
			"edge_owner_to_timeline_media": {
				"edges": [
					{
						"node": {
							"shortcode": "PIN001",
							"__typename": "GraphImage",
							"display_url": "https://cdn.example.com/pin001.jpg",
							"thumbnail_src": "https://cdn.example.com/pin001_t.jpg",
							"pinned_for_users": [{"id": "123"}],
							"display_resources": [
								{"src": "https://cdn.example.com/pin001_640.jpg", "config_width": 640, "config_height": 640},
								{"src": "https://cdn.example.com/pin001_1080.jpg", "config_width": 1080, "config_height": 1080}
							],
							"edge_media_to_caption": {"edges": [{"node": {"text": "pinned announcement"}}]}
						}
					},
					{
						"node": {
							"shortcode": "VID002",
							"__typename": "GraphVideo",
							"is_video": true,
							"display_url": "https://cdn.example.com/vid002.jpg",
							"video_url": "https://cdn.example.com/vid002.mp4",
							"display_resources": [
								{"src": "https://cdn.example.com/vid002_640.jpg", "config_width": 640, "config_height": 640},
								{"src": "https://cdn.example.com/vid002_1080.jpg", "config_width": 1080, "config_height": 1080}
							],
							"edge_media_to_caption": {"edges": []}
						}
					},
					{
						"node": {
							"shortcode": "CAR003",
							"__typename": "GraphSidecar",
							"display_url": "https://cdn.example.com/car003.jpg",
							"edge_media_to_caption": {"edges": [{"node": {"text": "three views"}}]},
							"edge_sidecar_to_children": {
								"edges": [
									{"node": {"shortcode": "c1", "display_url": "https://cdn.example.com/car003_1.jpg", "thumbnail_src": "https://cdn.example.com/car003_1_t.jpg"}},
									{"node": {"shortcode": "c2", "is_video": true, "display_url": "https://cdn.example.com/car003_2.jpg", "video_url": "https://cdn.example.com/car003_2.mp4"}},
									{"node": {"shortcode": "c3", "display_url": "https://cdn.example.com/car003_3.jpg"}}
								]
							}
						}
					}
				]
			}
		}
	},
	"status": "ok"
}`

func parseSampleFeed(t *testing.T) []models.Post {
	t.Helper()
	var response feedResponse
	if err := json.Unmarshal([]byte(sampleFeedJSON), &response); err != nil {
		t.Fatalf("Failed to parse fixture: %v", err)
	}
	return response.toPosts()
}

func TestFeedMappingPreservesRankedOrder(t *testing.T) {
	posts := parseSampleFeed(t)
	if len(posts) != 3 {
		t.Fatalf("Expected 3 posts, got %d", len(posts))
	}
	for i, want := range []string{"PIN001", "VID002", "CAR003"} {
		if posts[i].Shortcode != want {
			t.Errorf("Post %d: expected %s, got %s", i, want, posts[i].Shortcode)
		}
	}
}

func TestFeedMappingPinnedFlag(t *testing.T) {
	posts := parseSampleFeed(t)
	if !posts[0].Pinned {
		t.Error("Expected PIN001 to be pinned")
	}
	if posts[1].Pinned || posts[2].Pinned {
		t.Error("Only PIN001 should be pinned")
	}
}

func TestFeedMappingSelectsHDResource(t *testing.T) {
	posts := parseSampleFeed(t)
	asset := posts[0].Assets[0]
	if asset.URL != "https://cdn.example.com/pin001_1080.jpg" {
		t.Errorf("Expected largest display resource, got %s", asset.URL)
	}
	if asset.Quality != "HD 1080x1080" {
		t.Errorf("Expected HD quality tag, got %q", asset.Quality)
	}
	if asset.Thumb != "https://cdn.example.com/pin001_t.jpg" {
		t.Errorf("Unexpected thumb: %s", asset.Thumb)
	}
}

func TestFeedMappingVideoUsesVideoURL(t *testing.T) {
	posts := parseSampleFeed(t)
	vid := posts[1]
	if vid.Type != models.PostTypeVideo {
		t.Errorf("Expected video type, got %s", vid.Type)
	}
	if len(vid.Assets) != 1 {
		t.Fatalf("Expected 1 asset, got %d", len(vid.Assets))
	}
	if vid.Assets[0].URL != "https://cdn.example.com/vid002.mp4" {
		t.Errorf("Expected video URL to survive still-frame resources, got %s", vid.Assets[0].URL)
	}
	if !vid.Assets[0].IsVideo {
		t.Error("Expected IsVideo on video asset")
	}
	if vid.Assets[0].Quality != "" {
		t.Errorf("Expected no quality tag on video asset, got %q", vid.Assets[0].Quality)
	}
}

func TestFeedMappingCarouselChildren(t *testing.T) {
	posts := parseSampleFeed(t)
	car := posts[2]
	if car.Type != models.PostTypeCarousel {
		t.Errorf("Expected carousel type, got %s", car.Type)
	}
	if len(car.Assets) != 3 {
		t.Fatalf("Expected 3 child assets, got %d", len(car.Assets))
	}
	if !car.Assets[1].IsVideo || car.Assets[1].URL != "https://cdn.example.com/car003_2.mp4" {
		t.Errorf("Expected video child asset, got %+v", car.Assets[1])
	}
	if car.Caption != "three views" {
		t.Errorf("Expected parent caption, got %q", car.Caption)
	}
}

func TestFeedMappingCaptionAndURL(t *testing.T) {
	posts := parseSampleFeed(t)
	if posts[0].Caption != "pinned announcement" {
		t.Errorf("Unexpected caption: %q", posts[0].Caption)
	}
	if posts[1].Caption != "" {
		t.Errorf("Expected empty caption, got %q", posts[1].Caption)
	}
	if posts[0].URL != BaseURL+"/p/PIN001/" {
		t.Errorf("Unexpected permalink: %s", posts[0].URL)
	}
}

func TestPostTypeFallback(t *testing.T) {
	node := feedNode{Typename: "SomethingNew", IsVideo: true}
	if node.postType() != models.PostTypeVideo {
		t.Error("Expected video fallback for unknown typename with is_video")
	}
	node.IsVideo = false
	if node.postType() != models.PostTypeImage {
		t.Error("Expected image fallback for unknown typename")
	}
}
