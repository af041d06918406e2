package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cenkalti/backoff/v4"

	"github.com/booklend/lending-engine/internal/config"
	apperrors "github.com/booklend/lending-engine/pkg/errors"
)

// Dispatcher delivers a message to a user's linked external channel.
// Delivery is at-least-once from the channel's perspective and never fatal
// to the caller.
type Dispatcher interface {
	Send(ctx context.Context, chatID int64, kind, text string) error
}

// TelegramDispatcher posts messages through the Telegram Bot API with
// bounded retries on transient failures.
type TelegramDispatcher struct {
	httpClient *http.Client
	sendURL    string
	maxRetries uint64
	logger     *slog.Logger
}

func NewTelegramDispatcher(cfg *config.Config, logger *slog.Logger) *TelegramDispatcher {
	return &TelegramDispatcher{
		httpClient: &http.Client{Timeout: cfg.GetDispatchTimeout()},
		sendURL:    fmt.Sprintf("%s/bot%s/sendMessage", cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken),
		maxRetries: uint64(cfg.Telegram.MaxRetries),
		logger:     logger,
	}
}

type sendMessagePayload struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

func (d *TelegramDispatcher) Send(ctx context.Context, chatID int64, kind, text string) error {
	body, err := json.Marshal(sendMessagePayload{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "Markdown",
	})
	if err != nil {
		return apperrors.WrapDispatchFailure(err)
	}

	operation := func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, d.sendURL, bytes.NewReader(body))
		if reqErr != nil {
			return backoff.Permanent(reqErr)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, respErr := d.httpClient.Do(req)
		if respErr != nil {
			return respErr
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("telegram responded %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			// Client errors (bad chat, revoked bot) will not heal on retry.
			return backoff.Permanent(fmt.Errorf("telegram responded %d", resp.StatusCode))
		}

		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.maxRetries),
		ctx,
	)

	if err := backoff.Retry(operation, policy); err != nil {
		d.logger.Warn("telegram delivery failed", "chat_id", chatID, "kind", kind, "error", err)
		return apperrors.WrapDispatchFailure(err)
	}

	d.logger.Debug("telegram message delivered", "chat_id", chatID, "kind", kind)
	return nil
}

// NoopDispatcher drops messages. Used when no bot token is configured.
type NoopDispatcher struct{}

func (NoopDispatcher) Send(_ context.Context, _ int64, _, _ string) error {
	return nil
}

var _ Dispatcher = (*TelegramDispatcher)(nil)
var _ Dispatcher = NoopDispatcher{}
