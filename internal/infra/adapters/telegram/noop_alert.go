package telegram

import (
	"context"

	"club-membership-gateway/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

var _ adapter.Alerter = (*NoopAlerter)(nil)

// NoopAlerter logs alerts instead of sending them. Used when no bot token is configured.
type NoopAlerter struct {
	log *zerolog.Logger
}

func NewNoopAlerter(logger *zerolog.Logger) *NoopAlerter {
	l := logger.With().Str("component", "NoopAlerter").Logger()
	return &NoopAlerter{log: &l}
}

func (n *NoopAlerter) Alert(ctx context.Context, text string) error {
	n.log.Warn().Str("alert", text).Msg("operator alert")
	return nil
}
