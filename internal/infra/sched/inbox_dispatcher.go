package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"club-membership-gateway/internal/infra/metrics"
	"club-membership-gateway/internal/usecase"
)

// InboxDispatcher picks up stored notifications that immediate processing missed or
// that are due for another attempt.
type InboxDispatcher struct {
	inbox   usecase.InboxUseCase
	locker  Locker
	batch   int
	lockTTL time.Duration
	log     *zerolog.Logger
}

func NewInboxDispatcher(inbox usecase.InboxUseCase, locker Locker, batch int, lockTTL time.Duration, logger *zerolog.Logger) *InboxDispatcher {
	if batch <= 0 {
		batch = 50
	}
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	compLog := logger.With().Str("component", "InboxDispatcher").Logger()
	return &InboxDispatcher{inbox: inbox, locker: locker, batch: batch, lockTTL: lockTTL, log: &compLog}
}

func (w *InboxDispatcher) Name() string { return "inbox_dispatcher" }

func (w *InboxDispatcher) RunOnce(ctx context.Context) error {
	var claimed int
	ran, err := guarded(ctx, w.locker, w.Name(), w.lockTTL, w.log, func(ctx context.Context) error {
		var err error
		claimed, err = w.inbox.ProcessDue(ctx, w.batch)
		return err
	})
	switch {
	case !ran:
		metrics.IncSchedRun(w.Name(), "skipped")
		return nil
	case err != nil:
		metrics.IncSchedRun(w.Name(), "error")
		w.log.Error().Err(err).Msg("inbox sweep failed")
		return err
	}
	metrics.IncSchedRun(w.Name(), "ok")
	if claimed > 0 {
		w.log.Info().Int("count", claimed).Msg("stored notifications processed")
	}
	return nil
}
