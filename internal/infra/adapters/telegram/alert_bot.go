package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"club-membership-gateway/internal/config"
	"club-membership-gateway/internal/domain/ports/adapter"
	"club-membership-gateway/internal/infra/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

var _ adapter.Alerter = (*AlertBot)(nil)

// Telegram rejects longer messages.
const maxMessageRunes = 4096

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// AlertBot posts operator alerts into a single Telegram chat.
type AlertBot struct {
	bot    messageSender
	chatID int64
	prefix string
	log    *zerolog.Logger
}

// NewAlertBot connects to the Bot API with the configured token.
func NewAlertBot(cfg config.AlertsConfig, logger *zerolog.Logger) (*AlertBot, error) {
	return NewAlertBotWithEndpoint(cfg, tgbotapi.APIEndpoint, &http.Client{Timeout: 10 * time.Second}, logger)
}

// NewAlertBotWithEndpoint is NewAlertBot against a custom Bot API endpoint.
func NewAlertBotWithEndpoint(cfg config.AlertsConfig, endpoint string, client *http.Client, logger *zerolog.Logger) (*AlertBot, error) {
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram alert chat id is empty")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.TelegramToken, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	l := logger.With().Str("component", "AlertBot").Int64("chat_id", cfg.ChatID).Logger()
	return &AlertBot{bot: bot, chatID: cfg.ChatID, prefix: "[club-gateway] ", log: &l}, nil
}

func (a *AlertBot) Alert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(a.chatID, clip(a.prefix+text))
	msg.DisableWebPagePreview = true
	if _, err := a.bot.Send(msg); err != nil {
		metrics.IncOperatorAlert("error")
		a.log.Error().Err(err).Msg("failed to deliver operator alert")
		return fmt.Errorf("telegram alert: %w", err)
	}
	metrics.IncOperatorAlert("sent")
	return nil
}

func clip(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= maxMessageRunes {
		return string(r)
	}
	return string(r[:maxMessageRunes-1]) + "…"
}
