// Package source fetches the ranked feed of a tracked account from the
// upstream web API.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"igmonitor/pkg/config"
	"igmonitor/pkg/errors"
	"igmonitor/pkg/logger"
	"igmonitor/pkg/models"
)

// Fetcher returns the target's current ranked feed, newest plus pinned
// items first, in upstream order.
type Fetcher interface {
	FetchRankedItems(ctx context.Context, target string) ([]models.Post, error)
}

// Client is the HTTP implementation of Fetcher. It authenticates with the
// session cookie and browser-shaped headers so the upstream serves the
// logged-in feed.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	log        logger.Logger
}

// NewClient creates a feed client from source config.
func NewClient(cfg *config.SourceConfig, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	headers := map[string]string{
		"User-Agent":       cfg.UserAgent,
		"Accept":           "*/*",
		"Accept-Language":  "en-US,en;q=0.9",
		"X-Requested-With": "XMLHttpRequest",
		"X-IG-App-ID":      "936619743392459",
		"Referer":          BaseURL + "/",
	}
	if cfg.SessionID != "" {
		headers["Cookie"] = "sessionid=" + cfg.SessionID
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		headers:    headers,
		log:        log,
	}
}

// SetHeader overrides or adds a request header.
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// FetchRankedItems pulls the profile feed and maps it to posts.
func (c *Client) FetchRankedItems(ctx context.Context, target string) ([]models.Post, error) {
	var response feedResponse
	if err := c.getJSON(ctx, ProfileFeedURL(target), &response); err != nil {
		return nil, err
	}

	if response.RequiresToLogin {
		c.log.WithField("target", target).Warn("upstream demands login")
		return nil, errors.New(errors.ErrorTypeAuth, "session rejected, login required").WithCode(http.StatusUnauthorized)
	}

	posts := response.toPosts()
	c.log.DebugWithFields("fetched ranked feed", map[string]interface{}{
		"target": target,
		"items":  len(posts),
	})
	return posts, nil
}

func (c *Client) getJSON(ctx context.Context, url string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.New(errors.ErrorTypeUnknown, fmt.Sprintf("build request: %v", err))
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.New(errors.ErrorTypeNetwork, fmt.Sprintf("fetch %s: %v", url, err))
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.New(errors.ErrorTypeNetwork, fmt.Sprintf("read response: %v", err)).WithCode(resp.StatusCode)
	}

	if err := json.Unmarshal(body, target); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.log.ErrorWithFields("unparseable feed response", map[string]interface{}{
			"url":          url,
			"status":       resp.StatusCode,
			"body_preview": preview,
		})
		return errors.New(errors.ErrorTypeExtraction, fmt.Sprintf("parse feed: %v", err)).WithCode(resp.StatusCode)
	}
	return nil
}

func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	errType := errors.TypeForStatusCode(resp.StatusCode)
	c.log.WarnWithFields("upstream returned error status", map[string]interface{}{
		"status": resp.StatusCode,
		"type":   string(errType),
		"url":    resp.Request.URL.String(),
	})
	return errors.New(errType, fmt.Sprintf("upstream status %d", resp.StatusCode)).WithCode(resp.StatusCode)
}
