// File: internal/usecase/credential_mail_uc.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"club-membership-gateway/internal/domain/model"
	"club-membership-gateway/internal/domain/ports/adapter"
	"club-membership-gateway/internal/domain/ports/repository"
	"club-membership-gateway/internal/infra/logging"
	"club-membership-gateway/internal/infra/metrics"
)

// Compile-time check
var _ CredentialMailUseCase = (*credentialMailUC)(nil)

// CredentialMailUseCase drains the credentials outbox. Delivery is at-least-once: a crash
// between the SMTP handoff and the commit that marks the row sent repeats the mail.
type CredentialMailUseCase interface {
	Deliver(ctx context.Context, emailID string) error
	// RetryDue sends pending rows whose backoff has elapsed and returns how many went out.
	RetryDue(ctx context.Context, limit int) (int, error)
}

type credentialMailUC struct {
	tm       repository.TransactionManager
	emails   repository.CredentialEmailRepository
	accounts repository.AccountRepository
	issuer   *CredentialIssuer
	mailer   adapter.Mailer
	alerter  adapter.Alerter
	policy   RetryPolicy
	log      *zerolog.Logger
	now      func() time.Time
}

func NewCredentialMailUseCase(
	tm repository.TransactionManager,
	emails repository.CredentialEmailRepository,
	accounts repository.AccountRepository,
	issuer *CredentialIssuer,
	mailer adapter.Mailer,
	alerter adapter.Alerter,
	policy RetryPolicy,
	logger *zerolog.Logger,
) *credentialMailUC {
	l := logger.With().Str("component", "CredentialMailUseCase").Logger()
	return &credentialMailUC{
		tm:       tm,
		emails:   emails,
		accounts: accounts,
		issuer:   issuer,
		mailer:   mailer,
		alerter:  alerter,
		policy:   policy,
		log:      &l,
		now:      time.Now,
	}
}

func (u *credentialMailUC) Deliver(ctx context.Context, emailID string) error {
	defer logging.TraceDuration(u.log, "CredentialMailUseCase.Deliver")()

	var sendErr error
	var alert string
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		e, err := u.emails.FindByID(ctx, tx, emailID)
		if err != nil {
			return err
		}
		if e.Status != model.EmailStatusPending {
			return nil
		}
		sendErr, alert, err = u.attempt(ctx, tx, e)
		return err
	})
	raise(ctx, u.alerter, u.log, alert)
	if err != nil {
		return fmt.Errorf("deliver credentials %s: %w", emailID, err)
	}
	return sendErr
}

func (u *credentialMailUC) RetryDue(ctx context.Context, limit int) (int, error) {
	defer logging.TraceDuration(u.log, "CredentialMailUseCase.RetryDue")()

	var sent int
	var alerts []string
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		sent, alerts = 0, nil
		due, err := u.emails.ClaimDue(ctx, tx, u.now(), limit)
		if err != nil {
			return err
		}
		for _, e := range due {
			sendErr, alert, err := u.attempt(ctx, tx, e)
			if err != nil {
				return err
			}
			if sendErr == nil {
				sent++
			}
			if alert != "" {
				alerts = append(alerts, alert)
			}
		}
		return nil
	})
	for _, a := range alerts {
		raise(ctx, u.alerter, u.log, a)
	}
	return sent, err
}

// attempt sends one row and records the result on it. sendErr is the mail failure, already
// recorded; err is a store failure that must roll the transaction back.
func (u *credentialMailUC) attempt(ctx context.Context, tx repository.Tx, e *model.CredentialEmail) (sendErr error, alert string, err error) {
	log := u.log.With().Str("email_id", e.ID).Str("account_id", e.AccountID).Str("order_id", e.OrderID).Logger()
	now := u.now()

	sendErr = u.send(ctx, tx, e)
	if sendErr == nil {
		if err := u.emails.MarkSent(ctx, tx, e.ID, now); err != nil {
			return nil, "", err
		}
		if err := u.accounts.MarkCredentialsSent(ctx, tx, e.AccountID, now); err != nil {
			return nil, "", err
		}
		metrics.IncCredentialEmail(string(model.EmailStatusSent))
		log.Info().Msg("credentials mail sent")
		return nil, "", nil
	}

	attempts := e.Attempts + 1
	next, terminal := u.policy.Next(attempts, now)
	if err := u.emails.MarkAttemptFailed(ctx, tx, e.ID, sendErr.Error(), next, terminal); err != nil {
		return sendErr, "", err
	}
	if terminal {
		metrics.IncCredentialEmail(string(model.EmailStatusFailed))
		log.Error().Err(sendErr).Int("attempts", attempts).Msg("credentials mail gave up")
		alert = fmt.Sprintf("Credentials mail for order %s (account %s) failed after %d attempts: %v", e.OrderID, e.AccountID, attempts, sendErr)
	} else {
		metrics.IncCredentialEmail("retry")
		log.Warn().Err(sendErr).Int("attempts", attempts).Time("next_attempt_at", next).Msg("credentials mail failed; will retry")
	}
	return sendErr, alert, nil
}

func (u *credentialMailUC) send(ctx context.Context, tx repository.Tx, e *model.CredentialEmail) error {
	acc, err := u.accounts.FindByID(ctx, tx, e.AccountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	password, err := u.issuer.Reveal(acc.PasswordCipher)
	if err != nil {
		return fmt.Errorf("reveal password: %w", err)
	}
	return u.mailer.SendCredentials(ctx, model.CredentialMessage{
		To:          acc.Email,
		DisplayName: acc.Greeting(),
		Login:       acc.LoginName(),
		Password:    password,
	})
}

// raise sends an operator alert; failures are only logged.
func raise(ctx context.Context, alerter adapter.Alerter, log *zerolog.Logger, text string) {
	if text == "" || alerter == nil {
		return
	}
	if err := alerter.Alert(ctx, text); err != nil {
		log.Warn().Err(err).Msg("operator alert not delivered")
	}
}
