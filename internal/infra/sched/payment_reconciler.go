package sched

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"club-membership-gateway/internal/domain/model"
	"club-membership-gateway/internal/domain/ports/adapter"
	"club-membership-gateway/internal/domain/ports/repository"
	"club-membership-gateway/internal/infra/metrics"
	"club-membership-gateway/internal/usecase"
)

// PaymentReconciler asks the gateway about pending payments whose notification never came
// and feeds terminal answers to the confirmation processor as if they had been notified.
type PaymentReconciler struct {
	payments   repository.PaymentRepository
	gateway    adapter.PaymentGateway
	processor  usecase.ConfirmationProcessor
	locker     Locker
	staleAfter time.Duration
	batch      int
	lockTTL    time.Duration
	log        *zerolog.Logger
	now        func() time.Time
}

func NewPaymentReconciler(payments repository.PaymentRepository, gateway adapter.PaymentGateway, processor usecase.ConfirmationProcessor, locker Locker, staleAfter time.Duration, batch int, logger *zerolog.Logger) *PaymentReconciler {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	compLog := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{
		payments:   payments,
		gateway:    gateway,
		processor:  processor,
		locker:     locker,
		staleAfter: staleAfter,
		batch:      batch,
		lockTTL:    5 * time.Minute,
		log:        &compLog,
		now:        time.Now,
	}
}

func (w *PaymentReconciler) Name() string { return "payment_reconciler" }

func (w *PaymentReconciler) RunOnce(ctx context.Context) error {
	var reconciled int
	ran, err := guarded(ctx, w.locker, w.Name(), w.lockTTL, w.log, func(ctx context.Context) error {
		var err error
		reconciled, err = w.tick(ctx)
		return err
	})
	switch {
	case !ran:
		metrics.IncSchedRun(w.Name(), "skipped")
		return nil
	case err != nil:
		metrics.IncSchedRun(w.Name(), "error")
		w.log.Error().Err(err).Msg("reconciliation failed")
		return err
	}
	metrics.IncSchedRun(w.Name(), "ok")
	if reconciled > 0 {
		w.log.Info().Int("count", reconciled).Msg("stale payments reconciled")
	}
	return nil
}

func (w *PaymentReconciler) tick(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.staleAfter)
	pending, err := w.payments.ListStalePending(ctx, nil, cutoff, w.batch)
	if err != nil {
		return 0, err
	}
	reconciled := 0
	for _, p := range pending {
		if p.ExternalPaymentID == nil || *p.ExternalPaymentID == "" {
			continue
		}
		log := w.log.With().Str("order_id", p.OrderID).Str("payment_id", *p.ExternalPaymentID).Logger()

		st, err := w.gateway.GetState(ctx, *p.ExternalPaymentID)
		if err != nil {
			log.Warn().Err(err).Msg("state query failed")
			continue
		}
		if model.Classify(st.Success, st.Status) == model.VerdictIntermediate {
			log.Debug().Str("gateway_status", st.Status).Msg("still in progress")
			continue
		}

		n := model.Notification{
			OrderID:   p.OrderID,
			Success:   st.Success,
			Status:    st.Status,
			PaymentID: model.FlexString(st.PaymentID),
			Amount:    st.Amount,
		}
		n.Raw, _ = json.Marshal(n)
		outcome, err := w.processor.Process(ctx, n)
		if err != nil {
			log.Error().Err(err).Msg("reconciled state not applied")
			continue
		}
		reconciled++
		log.Info().Str("gateway_status", st.Status).Str("outcome", outcome.String()).Msg("payment reconciled")
	}
	return reconciled, nil
}
