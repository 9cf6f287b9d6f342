// File: internal/usecase/confirmation_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"club-membership-gateway/internal/domain"
	"club-membership-gateway/internal/domain/model"
	"club-membership-gateway/internal/domain/ports/repository"
	"club-membership-gateway/internal/infra/logging"
	"club-membership-gateway/internal/infra/metrics"
)

// Outcome is what a notification did to the payment and the account.
type Outcome int

const (
	OutcomeIgnored       Outcome = iota // intermediate status, payload stored only
	OutcomeUnknownOrder                 // no payment with this order id
	OutcomeFailed                       // payment marked failed
	OutcomeAlreadyActive                // duplicate confirmation, nothing new happened
	OutcomeActivated                    // membership activated by this notification
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnknownOrder:
		return "unknown_order"
	case OutcomeFailed:
		return "failed"
	case OutcomeAlreadyActive:
		return "already_active"
	case OutcomeActivated:
		return "activated"
	default:
		return "ignored"
	}
}

// Compile-time check
var _ ConfirmationProcessor = (*confirmationUC)(nil)

// ConfirmationProcessor applies a gateway notification to the payment and account records.
// Applying the same notification any number of times, concurrently or not, has the effect of
// applying it once.
type ConfirmationProcessor interface {
	Process(ctx context.Context, n model.Notification) (Outcome, error)
}

// CredentialDeliverer sends a queued credentials mail.
type CredentialDeliverer interface {
	Deliver(ctx context.Context, emailID string) error
}

type confirmationUC struct {
	tm       repository.TransactionManager
	payments repository.PaymentRepository
	accounts repository.AccountRepository
	emails   repository.CredentialEmailRepository
	issuer   *CredentialIssuer
	mail     CredentialDeliverer
	log      *zerolog.Logger
	now      func() time.Time
}

func NewConfirmationProcessor(
	tm repository.TransactionManager,
	payments repository.PaymentRepository,
	accounts repository.AccountRepository,
	emails repository.CredentialEmailRepository,
	issuer *CredentialIssuer,
	mail CredentialDeliverer,
	logger *zerolog.Logger,
) *confirmationUC {
	l := logger.With().Str("component", "ConfirmationProcessor").Logger()
	return &confirmationUC{
		tm:       tm,
		payments: payments,
		accounts: accounts,
		emails:   emails,
		issuer:   issuer,
		mail:     mail,
		log:      &l,
		now:      time.Now,
	}
}

// transition collects what happened inside the transaction; metrics and mail wait for commit.
type transition struct {
	outcome          Outcome
	emailID          string
	paymentCompleted bool
	paymentFailed    bool
	currency         string
	amount           int64
}

func (u *confirmationUC) Process(ctx context.Context, n model.Notification) (Outcome, error) {
	defer logging.TraceDuration(u.log, "ConfirmationProcessor.Process")()
	ctx = logging.WithOrderID(ctx, n.OrderID)
	log := logging.With(ctx, u.log)

	if strings.TrimSpace(n.OrderID) == "" {
		metrics.IncConfirmationOutcome(OutcomeUnknownOrder.String())
		return OutcomeUnknownOrder, nil
	}
	payload := n.Raw
	if len(payload) == 0 {
		payload, _ = json.Marshal(n)
	}

	var t transition
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		t = transition{outcome: OutcomeIgnored}

		if err := u.tm.LockKey(ctx, tx, "order:"+n.OrderID); err != nil {
			return stageErr(n.OrderID, "lock", err)
		}
		p, err := u.payments.FindByOrderID(ctx, tx, n.OrderID)
		if errors.Is(err, domain.ErrNotFound) {
			t.outcome = OutcomeUnknownOrder
			return nil
		}
		if err != nil {
			return stageErr(n.OrderID, "load_payment", err)
		}
		if err := u.payments.RecordNotification(ctx, tx, n.OrderID, n.Status, payload); err != nil {
			return stageErr(n.OrderID, "record_notification", err)
		}

		switch n.Verdict() {
		case model.VerdictRejected:
			t.outcome = OutcomeFailed
			changed, err := u.payments.MarkFailedIfPending(ctx, tx, n.OrderID)
			if err != nil {
				return stageErr(n.OrderID, "fail_payment", err)
			}
			t.paymentFailed = changed
			if !changed && p.Status == model.PaymentStatusCompleted {
				log.Warn().Str("gateway_status", n.Status).Msg("failure reported for a completed payment; left as is")
			}
			return nil
		case model.VerdictConfirmed:
			return u.confirm(ctx, tx, log, p, n, &t)
		default:
			return nil
		}
	})
	if err != nil {
		var pErr *domain.PartialTransitionError
		if !errors.As(err, &pErr) {
			err = &domain.PartialTransitionError{OrderID: n.OrderID, Stage: "commit", Cause: err}
		}
		metrics.IncConfirmationOutcome("error")
		log.Error().Err(err).Str("gateway_status", n.Status).Msg("confirmation rolled back")
		return OutcomeIgnored, err
	}

	if t.paymentCompleted {
		metrics.IncPayment(string(model.PaymentStatusCompleted))
		metrics.AddPaymentRevenue(t.currency, t.amount)
	}
	if t.paymentFailed {
		metrics.IncPayment(string(model.PaymentStatusFailed))
	}
	if t.outcome == OutcomeActivated {
		metrics.IncActivation()
	}
	metrics.IncConfirmationOutcome(t.outcome.String())
	log.Info().
		Str("gateway_status", n.Status).
		Bool("success", n.Success).
		Str("outcome", t.outcome.String()).
		Msg("notification applied")

	if t.emailID != "" && u.mail != nil {
		if err := u.mail.Deliver(ctx, t.emailID); err != nil {
			log.Warn().Err(err).Str("email_id", t.emailID).Msg("credentials mail not delivered; left for retry")
		}
	}
	return t.outcome, nil
}

func (u *confirmationUC) confirm(ctx context.Context, tx repository.Tx, log *zerolog.Logger, p *model.Payment, n model.Notification, t *transition) error {
	now := u.now()
	ext := p.ExternalPaymentID
	if id := n.PaymentID.String(); id != "" {
		ext = &id
	}
	if p.Status == model.PaymentStatusFailed {
		log.Warn().Str("gateway_status", n.Status).Msg("confirmation for a failed payment; left as is")
		return nil
	}

	completed, err := u.payments.MarkCompleted(ctx, tx, p.OrderID, ext, now)
	if err != nil {
		return stageErr(p.OrderID, "complete_payment", err)
	}
	if !completed && p.Status != model.PaymentStatusCompleted {
		log.Warn().Str("status", string(p.Status)).Msg("payment left pending before confirmation; left as is")
		return nil
	}
	t.paymentCompleted, t.currency, t.amount = completed, p.Currency, p.Amount

	acc, err := u.accounts.FindByID(ctx, tx, p.AccountID)
	if err != nil {
		return stageErr(p.OrderID, "load_account", err)
	}
	activated, err := u.accounts.ActivateIfPending(ctx, tx, acc.ID, ext, now)
	if err != nil {
		return stageErr(p.OrderID, "activate", err)
	}
	if !activated {
		t.outcome = OutcomeAlreadyActive
		return nil
	}

	if !acc.HasCredentials() {
		creds, err := u.issuer.Issue(acc)
		if err != nil {
			return stageErr(p.OrderID, "issue_credentials", err)
		}
		if _, err := u.accounts.SetCredentialsIfAbsent(ctx, tx, acc.ID, creds.Login, creds.PasswordHash, creds.PasswordCipher); err != nil {
			return stageErr(p.OrderID, "store_credentials", err)
		}
	} else {
		log.Info().Str("account_id", acc.ID).Msg("reusing existing credentials")
	}

	email := model.NewCredentialEmail(acc.ID, p.OrderID)
	enqueued, err := u.emails.Enqueue(ctx, tx, email)
	if err != nil {
		return stageErr(p.OrderID, "enqueue_email", err)
	}
	t.outcome = OutcomeActivated
	if enqueued {
		t.emailID = email.ID
	}
	return nil
}

func stageErr(orderID, stage string, err error) error {
	return &domain.PartialTransitionError{OrderID: orderID, Stage: stage, Cause: err}
}
