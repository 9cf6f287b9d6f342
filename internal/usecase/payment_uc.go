// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"club-membership-gateway/internal/domain"
	"club-membership-gateway/internal/domain/model"
	"club-membership-gateway/internal/domain/ports/adapter"
	"club-membership-gateway/internal/domain/ports/repository"
	"club-membership-gateway/internal/infra/logging"
	"club-membership-gateway/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PurchaseRequest struct {
	AccountID   string
	Amount      int64  // minor units; zero means the membership fee
	Description string // empty means the default description
}

type PaymentUseCase interface {
	// Purchase starts a membership payment and returns the pending record with the
	// URL of the gateway's payment form.
	Purchase(ctx context.Context, req PurchaseRequest) (*model.Payment, string, error)
}

// OrderIDSource hands out unique order ids.
type OrderIDSource interface {
	Next() string
}

type PaymentOptions struct {
	DefaultAmount      int64
	DefaultDescription string
}

type paymentUC struct {
	tm       repository.TransactionManager
	payments repository.PaymentRepository
	accounts repository.AccountRepository
	gateway  adapter.PaymentGateway
	orderIDs OrderIDSource
	opts     PaymentOptions
	log      *zerolog.Logger
}

func NewPaymentUseCase(
	tm repository.TransactionManager,
	payments repository.PaymentRepository,
	accounts repository.AccountRepository,
	gateway adapter.PaymentGateway,
	orderIDs OrderIDSource,
	opts PaymentOptions,
	logger *zerolog.Logger,
) *paymentUC {
	l := logger.With().Str("component", "PaymentUseCase").Logger()
	return &paymentUC{
		tm:       tm,
		payments: payments,
		accounts: accounts,
		gateway:  gateway,
		orderIDs: orderIDs,
		opts:     opts,
		log:      &l,
	}
}

func (u *paymentUC) Purchase(ctx context.Context, req PurchaseRequest) (*model.Payment, string, error) {
	defer logging.TraceDuration(u.log, "PaymentUseCase.Purchase")()

	acc, err := u.accounts.FindByID(ctx, nil, req.AccountID)
	if err != nil {
		return nil, "", err
	}
	if acc.IsActive() {
		return nil, "", domain.ErrAlreadyActive
	}

	amount := req.Amount
	if amount <= 0 {
		amount = u.opts.DefaultAmount
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = u.opts.DefaultDescription
	}
	orderID := u.orderIDs.Next()
	ctx = logging.WithOrderID(ctx, orderID)
	log := logging.With(ctx, u.log)

	intent := model.PaymentIntent{
		Amount:      amount,
		OrderID:     orderID,
		Description: description,
		Contact:     &model.Contact{Email: acc.Email, Phone: acc.Phone},
	}
	initiated, err := u.gateway.Init(ctx, intent)
	if err != nil {
		metrics.IncPayment("init_failed")
		log.Warn().Err(err).Str("account_id", acc.ID).Int64("amount", amount).Msg("payment initiation failed")
		return nil, "", err
	}

	p, err := model.NewPendingPayment(orderID, acc.ID, amount, initiated.PaymentID, initiated.PaymentURL, model.TruncateDescription(description))
	if err != nil {
		return nil, "", err
	}
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.payments.Save(ctx, tx, p); err != nil {
			return err
		}
		return u.accounts.SetExternalPaymentID(ctx, tx, acc.ID, initiated.PaymentID)
	})
	if err != nil {
		// The gateway form exists but nothing here knows about it; a notification for
		// this order will be logged as unknown.
		log.Error().Err(err).Str("payment_id", initiated.PaymentID).Msg("initiated payment not recorded")
		return nil, "", err
	}

	metrics.IncPayment(string(model.PaymentStatusPending))
	log.Info().
		Str("account_id", acc.ID).
		Str("payment_id", initiated.PaymentID).
		Int64("amount", amount).
		Msg("membership payment started")
	return p, initiated.PaymentURL, nil
}
