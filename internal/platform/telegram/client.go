// Package telegram sends CRM messages through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stepun/botoracle/internal/platform/delivery"
	"github.com/stepun/botoracle/pkg/apperr"
	"github.com/stepun/botoracle/pkg/config"
)

// Client implements delivery.Sender. Sends are throttled by a token bucket
// shared by all callers, so concurrent sweeps stay under the bot limit.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

func New(cfg *config.Config, log *zap.SugaredLogger, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	limit := rate.Limit(cfg.Telegram.RatePerSecond)
	if cfg.Telegram.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Telegram.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.Telegram.APIBaseURL, "/"),
		token:   cfg.Telegram.BotToken,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func (c *Client) Send(ctx context.Context, to delivery.Recipient, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperr.TransientDelivery.Wrap(err)
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: to.ChatID, Text: text, DisableWebPagePreview: true})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.TransientDelivery.Wrap(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return apperr.TransientDelivery.Wrap(err)
	}
	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return apperr.TransientDelivery.New("telegram: status %d, undecodable body", resp.StatusCode)
	}
	if out.OK {
		return nil
	}
	if unreachable(resp.StatusCode, out.Description) {
		return fmt.Errorf("telegram: %s: %w", out.Description, delivery.ErrRecipientUnreachable)
	}
	return apperr.TransientDelivery.New("telegram: status %d: %s", resp.StatusCode, out.Description)
}

// unreachable matches the answers Telegram gives for users who blocked the
// bot, deactivated their account or never opened a chat.
func unreachable(status int, description string) bool {
	if status == http.StatusForbidden {
		return true
	}
	d := strings.ToLower(description)
	return status == http.StatusBadRequest &&
		(strings.Contains(d, "chat not found") || strings.Contains(d, "user not found"))
}

// NewSender picks the Bot API client when a token is configured and a
// logging sender otherwise.
func NewSender(cfg *config.Config, log *zap.SugaredLogger) delivery.Sender {
	if cfg.Telegram.BotToken == "" {
		log.Warnw("telegram bot token is empty, crm messages are only logged")
		return &delivery.LogSender{Log: log}
	}
	return New(cfg, log, nil)
}

var Module = fx.Options(
	fx.Provide(NewSender),
)
