// Package delivery pushes new posts downstream. The only production sink is
// Telegram; the interface exists so the monitor can be tested without a bot.
package delivery

import (
	"context"
	"fmt"
	"strings"

	"igmonitor/pkg/models"
)

// Sink delivers one post, all of its assets, to the downstream channel.
// Deliver must be atomic per chunk: either a chunk is fully sent or an
// error is returned and the caller treats the whole post as undelivered.
type Sink interface {
	Deliver(ctx context.Context, target string, post models.Post) error
}

// chunkAssets splits a post's assets into groups no larger than size.
func chunkAssets(assets []models.Asset, size int) [][]models.Asset {
	if size <= 0 {
		size = 1
	}
	var chunks [][]models.Asset
	for len(assets) > size {
		chunks = append(chunks, assets[:size])
		assets = assets[size:]
	}
	if len(assets) > 0 {
		chunks = append(chunks, assets)
	}
	return chunks
}

// buildCaption renders the caption attached to the first asset of a chunk.
// Multi-chunk posts get a part marker so the channel reads coherently.
func buildCaption(target string, post models.Post, part, parts int) string {
	var b strings.Builder
	if post.Caption != "" {
		b.WriteString(post.Caption)
		b.WriteString("\n\n")
	}
	b.WriteString(fmt.Sprintf("@%s", target))
	if post.URL != "" {
		b.WriteString("\n")
		b.WriteString(post.URL)
	}
	if parts > 1 {
		b.WriteString(fmt.Sprintf("\n(%d/%d)", part, parts))
	}
	return b.String()
}
