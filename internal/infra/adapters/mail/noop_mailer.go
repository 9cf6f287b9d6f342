package mail

import (
	"context"
	"sync"

	"club-membership-gateway/internal/domain/model"
	"club-membership-gateway/internal/domain/ports/adapter"
	"club-membership-gateway/internal/infra/logging"

	"github.com/rs/zerolog"
)

var _ adapter.Mailer = (*NoopMailer)(nil)

// NoopMailer keeps messages in memory and logs the recipient. Used when SMTP is not configured.
// Outside dev mode the recipient is redacted in the log.
type NoopMailer struct {
	mu   sync.Mutex
	sent []model.CredentialMessage
	dev  bool
	log  *zerolog.Logger
}

func NewNoopMailer(logger *zerolog.Logger, dev bool) *NoopMailer {
	l := logger.With().Str("component", "NoopMailer").Logger()
	return &NoopMailer{dev: dev, log: &l}
}

func (m *NoopMailer) SendCredentials(ctx context.Context, msg model.CredentialMessage) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	m.log.Warn().
		Str("to", logging.Redact(msg.To, m.dev)).
		Str("login", logging.Redact(msg.Login, m.dev)).
		Msg("smtp not configured; credentials email not delivered")
	return nil
}

// Sent returns a copy of every message handed to the mailer.
func (m *NoopMailer) Sent() []model.CredentialMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.CredentialMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
