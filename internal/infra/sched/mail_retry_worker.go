package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"club-membership-gateway/internal/infra/metrics"
	"club-membership-gateway/internal/usecase"
)

// MailRetryWorker resends credentials mails whose backoff has elapsed.
type MailRetryWorker struct {
	mail    usecase.CredentialMailUseCase
	locker  Locker
	batch   int
	lockTTL time.Duration
	log     *zerolog.Logger
}

func NewMailRetryWorker(mail usecase.CredentialMailUseCase, locker Locker, batch int, lockTTL time.Duration, logger *zerolog.Logger) *MailRetryWorker {
	if batch <= 0 {
		batch = 50
	}
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	compLog := logger.With().Str("component", "MailRetryWorker").Logger()
	return &MailRetryWorker{mail: mail, locker: locker, batch: batch, lockTTL: lockTTL, log: &compLog}
}

func (w *MailRetryWorker) Name() string { return "mail_retry" }

func (w *MailRetryWorker) RunOnce(ctx context.Context) error {
	var sent int
	ran, err := guarded(ctx, w.locker, w.Name(), w.lockTTL, w.log, func(ctx context.Context) error {
		var err error
		sent, err = w.mail.RetryDue(ctx, w.batch)
		return err
	})
	switch {
	case !ran:
		metrics.IncSchedRun(w.Name(), "skipped")
		return nil
	case err != nil:
		metrics.IncSchedRun(w.Name(), "error")
		w.log.Error().Err(err).Msg("mail retry sweep failed")
		return err
	}
	metrics.IncSchedRun(w.Name(), "ok")
	if sent > 0 {
		w.log.Info().Int("count", sent).Msg("credentials mails resent")
	}
	return nil
}
