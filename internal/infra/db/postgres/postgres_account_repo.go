package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"club-membership-gateway/internal/domain"
	"club-membership-gateway/internal/domain/model"
	"club-membership-gateway/internal/domain/ports/repository"
)

var _ repository.AccountRepository = (*accountRepo)(nil)

type accountRepo struct{ pool *pgxpool.Pool }

func NewAccountRepo(pool *pgxpool.Pool) *accountRepo {
	return &accountRepo{pool: pool}
}

const accountColumns = `id, email, display_name, phone, membership_status, login, password_hash, password_cipher, external_payment_id, credentials_sent_at, activated_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	a := &model.Account{}
	var status string
	if err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.Phone, &status, &a.Login, &a.PasswordHash, &a.PasswordCipher, &a.ExternalPaymentID, &a.CredentialsSentAt, &a.ActivatedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.MembershipStatus = model.MembershipStatus(status)
	return a, nil
}

// Save inserts or refreshes profile fields. Membership status and credentials only move
// through the conditional updates below.
func (r *accountRepo) Save(ctx context.Context, tx repository.Tx, a *model.Account) error {
	const q = `
INSERT INTO accounts (
  id, email, display_name, phone, membership_status, login, password_hash, password_cipher, external_payment_id, credentials_sent_at, activated_at, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
) ON CONFLICT (id) DO UPDATE SET
  email=$2, display_name=$3, phone=$4, updated_at=$13;`

	_, err := execSQL(ctx, r.pool, tx, q, a.ID, a.Email, a.DisplayName, a.Phone, string(a.MembershipStatus), a.Login, a.PasswordHash, a.PasswordCipher, a.ExternalPaymentID, a.CredentialsSentAt, a.ActivatedAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return mapExecErr(err)
	}
	return nil
}

func (r *accountRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	a, err := scanAccount(row)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return a, nil
}

func (r *accountRepo) SetExternalPaymentID(ctx context.Context, tx repository.Tx, id, externalPaymentID string) error {
	const q = `UPDATE accounts SET external_payment_id=$2, updated_at=NOW() WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, externalPaymentID)
	if err != nil {
		return mapExecErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *accountRepo) ActivateIfPending(ctx context.Context, tx repository.Tx, id string, externalPaymentID *string, at time.Time) (bool, error) {
	const q = `
UPDATE accounts
   SET membership_status = 'active',
       external_payment_id = COALESCE($2, external_payment_id),
       activated_at = $3,
       updated_at = NOW()
 WHERE id = $1
   AND membership_status <> 'active';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, externalPaymentID, at)
	if err != nil {
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *accountRepo) SetCredentialsIfAbsent(ctx context.Context, tx repository.Tx, id, login, passwordHash, passwordCipher string) (bool, error) {
	const q = `
UPDATE accounts
   SET login = $2, password_hash = $3, password_cipher = $4, updated_at = NOW()
 WHERE id = $1
   AND password_hash IS NULL;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, login, passwordHash, passwordCipher)
	if err != nil {
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *accountRepo) MarkCredentialsSent(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	const q = `UPDATE accounts SET credentials_sent_at=COALESCE(credentials_sent_at, $2), updated_at=NOW() WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, at)
	return mapExecErr(err)
}
