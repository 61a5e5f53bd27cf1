package source

import (
	"fmt"

	"igmonitor/pkg/models"
)

// Wire format of the upstream ranked feed. Only fields the monitor reads
// are mapped.
type feedResponse struct {
	Data struct {
		User struct {
			EdgeOwnerToTimelineMedia struct {
				Edges []struct {
					Node feedNode `json:"node"`
				} `json:"edges"`
			} `json:"edge_owner_to_timeline_media"`
		} `json:"user"`
	} `json:"data"`
	Status          string `json:"status"`
	RequiresToLogin bool   `json:"require_login"`
}

type feedNode struct {
	Shortcode        string `json:"shortcode"`
	Typename         string `json:"__typename"`
	IsVideo          bool   `json:"is_video"`
	DisplayURL       string `json:"display_url"`
	VideoURL         string `json:"video_url"`
	ThumbnailSrc     string `json:"thumbnail_src"`
	PinnedForUsers   []any  `json:"pinned_for_users"`
	DisplayResources []struct {
		Src          string `json:"src"`
		ConfigWidth  int    `json:"config_width"`
		ConfigHeight int    `json:"config_height"`
	} `json:"display_resources"`
	EdgeMediaToCaption struct {
		Edges []struct {
			Node struct {
				Text string `json:"text"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"edge_media_to_caption"`
	EdgeSidecarToChildren struct {
		Edges []struct {
			Node feedNode `json:"node"`
		} `json:"edges"`
	} `json:"edge_sidecar_to_children"`
}

// toPosts converts the wire feed into posts, preserving ranked order.
func (r *feedResponse) toPosts() []models.Post {
	edges := r.Data.User.EdgeOwnerToTimelineMedia.Edges
	posts := make([]models.Post, 0, len(edges))
	for _, edge := range edges {
		posts = append(posts, edge.Node.toPost())
	}
	return posts
}

func (n *feedNode) toPost() models.Post {
	post := models.Post{
		Shortcode: n.Shortcode,
		URL:       fmt.Sprintf("%s/p/%s/", BaseURL, n.Shortcode),
		Type:      n.postType(),
		Pinned:    len(n.PinnedForUsers) > 0,
		Caption:   n.caption(),
	}

	if children := n.EdgeSidecarToChildren.Edges; len(children) > 0 {
		for _, child := range children {
			post.Assets = append(post.Assets, child.Node.toAsset())
		}
	} else {
		post.Assets = []models.Asset{n.toAsset()}
	}
	return post
}

func (n *feedNode) toAsset() models.Asset {
	asset := models.Asset{
		URL:     n.DisplayURL,
		Thumb:   n.ThumbnailSrc,
		IsVideo: n.IsVideo,
	}
	if n.IsVideo && n.VideoURL != "" {
		asset.URL = n.VideoURL
	}
	// The largest display resource is the HD rendition; the smallest SD.
	// Videos keep video_url: display resources are still frames.
	if !n.IsVideo && len(n.DisplayResources) > 0 {
		best := n.DisplayResources[len(n.DisplayResources)-1]
		if best.Src != "" {
			asset.URL = best.Src
			asset.Quality = fmt.Sprintf("HD %dx%d", best.ConfigWidth, best.ConfigHeight)
		}
	}
	return asset
}

func (n *feedNode) postType() models.PostType {
	switch n.Typename {
	case "GraphSidecar", "XDTGraphSidecar":
		return models.PostTypeCarousel
	case "GraphVideo", "XDTGraphVideo":
		return models.PostTypeVideo
	case "GraphStoryVideo", "GraphStoryImage":
		return models.PostTypeStory
	default:
		if n.IsVideo {
			return models.PostTypeVideo
		}
		return models.PostTypeImage
	}
}

func (n *feedNode) caption() string {
	edges := n.EdgeMediaToCaption.Edges
	if len(edges) == 0 {
		return ""
	}
	return edges[0].Node.Text
}
