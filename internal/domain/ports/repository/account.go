package repository

import (
	"context"
	"time"

	"club-membership-gateway/internal/domain/model"
)

type AccountRepository interface {
	Save(ctx context.Context, tx Tx, a *model.Account) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Account, error)
	SetExternalPaymentID(ctx context.Context, tx Tx, id, externalPaymentID string) error
	// ActivateIfPending is the compare-and-set gate for membership activation: it flips
	// pending_payment -> active and reports whether this call was the one that did it.
	ActivateIfPending(ctx context.Context, tx Tx, id string, externalPaymentID *string, at time.Time) (bool, error)
	// SetCredentialsIfAbsent stores credentials only when none exist yet.
	SetCredentialsIfAbsent(ctx context.Context, tx Tx, id, login, passwordHash, passwordCipher string) (bool, error)
	MarkCredentialsSent(ctx context.Context, tx Tx, id string, at time.Time) error
}
