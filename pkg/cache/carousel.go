package cache

import (
	"strings"

	"igmonitor/pkg/models"
)

// DedupAssets collapses duplicate renditions inside a multi-asset post.
// Assets sharing a thumbnail URL are assumed to be the same frame at
// different qualities; the highest-quality one survives. Assets without a
// thumbnail cannot be grouped and pass through unchanged. Order of first
// appearance is preserved.
func DedupAssets(assets []models.Asset) []models.Asset {
	if len(assets) < 2 {
		return assets
	}

	type group struct {
		index int
		best  models.Asset
	}

	out := make([]models.Asset, 0, len(assets))
	seen := make(map[string]*group)

	for _, asset := range assets {
		if asset.Thumb == "" {
			out = append(out, asset)
			continue
		}
		g, ok := seen[asset.Thumb]
		if !ok {
			out = append(out, asset)
			seen[asset.Thumb] = &group{index: len(out) - 1, best: asset}
			continue
		}
		if qualityRank(asset.Quality) > qualityRank(g.best.Quality) {
			g.best = asset
			out[g.index] = asset
		}
	}
	return out
}

func qualityRank(quality string) int {
	q := strings.ToUpper(quality)
	switch {
	case strings.Contains(q, "HD"):
		return 2
	case strings.Contains(q, "SD"):
		return 1
	default:
		return 0
	}
}
