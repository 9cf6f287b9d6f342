package repository

import (
	"context"
	"time"

	"club-membership-gateway/internal/domain/model"
)

// CredentialEmailRepository is the outbox for credential messages.
type CredentialEmailRepository interface {
	// Enqueue inserts the row unless one already exists for the account; reports whether it did.
	Enqueue(ctx context.Context, tx Tx, e *model.CredentialEmail) (bool, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.CredentialEmail, error)
	ClaimDue(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.CredentialEmail, error)
	MarkSent(ctx context.Context, tx Tx, id string, at time.Time) error
	MarkAttemptFailed(ctx context.Context, tx Tx, id, lastErr string, nextAttempt time.Time, terminal bool) error
}
