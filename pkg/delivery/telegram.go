package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"igmonitor/pkg/config"
	"igmonitor/pkg/errors"
	"igmonitor/pkg/logger"
	"igmonitor/pkg/models"
	"igmonitor/pkg/retry"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram sends posts to a channel via the Bot API. Posts with more assets
// than one media group allows are split into consecutive groups, each
// captioned on its first asset.
type Telegram struct {
	client   *http.Client
	apiBase  string
	token    string
	channel  string
	maxGroup int
	retries  int
	backoff  retry.BackoffStrategy
	log      logger.Logger
}

// NewTelegram builds a sink from delivery config. retries bounds the send
// attempts per API call for transient network and 5xx failures.
func NewTelegram(cfg *config.DeliveryConfig, retries int, log logger.Logger) *Telegram {
	if log == nil {
		log = logger.GetLogger()
	}
	if retries < 1 {
		retries = 1
	}
	return &Telegram{
		client:   &http.Client{Timeout: cfg.Timeout},
		apiBase:  telegramAPIBase,
		token:    cfg.BotToken,
		channel:  cfg.ChannelID,
		maxGroup: cfg.MaxGroupSize,
		retries:  retries,
		backoff:  retry.DefaultExponentialBackoff(),
		log:      log,
	}
}

type mediaItem struct {
	Type    string `json:"type"`
	Media   string `json:"media"`
	Caption string `json:"caption,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Deliver sends every asset of the post. The first failing chunk aborts the
// post; the caller must not mark it delivered.
func (t *Telegram) Deliver(ctx context.Context, target string, post models.Post) error {
	assets := post.Assets
	if len(assets) == 0 {
		return errors.New(errors.ErrorTypeExtraction, fmt.Sprintf("post %s has no assets", post.Shortcode))
	}

	chunks := chunkAssets(assets, t.maxGroup)
	for i, chunk := range chunks {
		caption := buildCaption(target, post, i+1, len(chunks))
		var err error
		if len(chunk) == 1 {
			err = t.sendSingle(ctx, chunk[0], caption)
		} else {
			err = t.sendGroup(ctx, chunk, caption)
		}
		if err != nil {
			return fmt.Errorf("deliver %s chunk %d/%d: %w", post.Shortcode, i+1, len(chunks), err)
		}
	}

	t.log.InfoWithFields("post delivered", map[string]interface{}{
		"target":    target,
		"shortcode": post.Shortcode,
		"assets":    len(assets),
		"chunks":    len(chunks),
	})
	return nil
}

func (t *Telegram) sendSingle(ctx context.Context, asset models.Asset, caption string) error {
	method, field := "sendPhoto", "photo"
	if asset.IsVideo {
		method, field = "sendVideo", "video"
	}
	payload := map[string]interface{}{
		"chat_id": t.channel,
		field:     asset.URL,
		"caption": caption,
	}
	return t.send(ctx, method, payload)
}

func (t *Telegram) sendGroup(ctx context.Context, assets []models.Asset, caption string) error {
	media := make([]mediaItem, len(assets))
	for i, asset := range assets {
		kind := "photo"
		if asset.IsVideo {
			kind = "video"
		}
		media[i] = mediaItem{Type: kind, Media: asset.URL}
	}
	media[0].Caption = caption

	payload := map[string]interface{}{
		"chat_id": t.channel,
		"media":   media,
	}
	return t.send(ctx, "sendMediaGroup", payload)
}

// send retries call on transient failures. Rate limit and auth rejections
// surface immediately; the poll cycle's rate controller owns those.
func (t *Telegram) send(ctx context.Context, method string, payload interface{}) error {
	return retry.Do(func() error {
		return t.call(ctx, method, payload)
	}, &retry.Config{
		MaxAttempts: t.retries,
		Backoff:     t.backoff,
		RetryIf:     transientSendError,
		Context:     ctx,
		Logger:      t.log,
	})
}

func transientSendError(err error) bool {
	var apiErr *errors.Error
	if stderrors.As(err, &apiErr) {
		return apiErr.Type == errors.ErrorTypeNetwork || apiErr.Type == errors.ErrorTypeServerError
	}
	return false
}

func (t *Telegram) call(ctx context.Context, method string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.New(errors.ErrorTypeUnknown, fmt.Sprintf("encode %s payload: %v", method, err))
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.New(errors.ErrorTypeUnknown, fmt.Sprintf("build %s request: %v", method, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.New(errors.ErrorTypeNetwork, fmt.Sprintf("%s: %v", method, err))
	}
	defer resp.Body.Close()

	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return errors.New(errors.ErrorTypeExtraction, fmt.Sprintf("decode %s response: %v", method, err)).WithCode(resp.StatusCode)
	}
	if api.OK {
		return nil
	}

	msg := fmt.Sprintf("%s rejected: %s", method, api.Description)
	return errors.New(errors.TypeForStatusCode(resp.StatusCode), msg).WithCode(resp.StatusCode)
}
