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

var _ repository.CredentialEmailRepository = (*credentialEmailRepo)(nil)

type credentialEmailRepo struct{ pool *pgxpool.Pool }

func NewCredentialEmailRepo(pool *pgxpool.Pool) *credentialEmailRepo {
	return &credentialEmailRepo{pool: pool}
}

const credentialEmailColumns = `id, account_id, order_id, status, attempts, last_error, next_attempt_at, created_at, sent_at`

func scanCredentialEmail(row pgx.Row) (*model.CredentialEmail, error) {
	e := &model.CredentialEmail{}
	var status string
	if err := row.Scan(&e.ID, &e.AccountID, &e.OrderID, &status, &e.Attempts, &e.LastError, &e.NextAttemptAt, &e.CreatedAt, &e.SentAt); err != nil {
		return nil, err
	}
	e.Status = model.EmailStatus(status)
	return e, nil
}

// Enqueue relies on the unique account_id: one credentials message per account, ever.
func (r *credentialEmailRepo) Enqueue(ctx context.Context, tx repository.Tx, e *model.CredentialEmail) (bool, error) {
	const q = `
INSERT INTO credential_emails (id, account_id, order_id, status, attempts, last_error, next_attempt_at, created_at, sent_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (account_id) DO NOTHING;`
	cmd, err := execSQL(ctx, r.pool, tx, q, e.ID, e.AccountID, e.OrderID, string(e.Status), e.Attempts, e.LastError, e.NextAttemptAt, e.CreatedAt, e.SentAt)
	if err != nil {
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *credentialEmailRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.CredentialEmail, error) {
	q := `SELECT ` + credentialEmailColumns + ` FROM credential_emails WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	e, err := scanCredentialEmail(row)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return e, nil
}

func (r *credentialEmailRepo) ClaimDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.CredentialEmail, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + credentialEmailColumns + ` FROM credential_emails WHERE status='pending' AND next_attempt_at <= $1 ORDER BY created_at ASC LIMIT $2`
	if inTx(tx) {
		q += " FOR UPDATE SKIP LOCKED"
	}
	rows, err := queryRows(ctx, r.pool, tx, q, now, limit)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	var out []*model.CredentialEmail
	for rows.Next() {
		e, err := scanCredentialEmail(rows)
		if err != nil {
			return nil, mapScanErr(err)
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *credentialEmailRepo) MarkSent(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	const q = `UPDATE credential_emails SET status='sent', attempts=attempts+1, last_error=NULL, sent_at=$2 WHERE id=$1 AND status='pending';`
	_, err := execSQL(ctx, r.pool, tx, q, id, at)
	return mapExecErr(err)
}

func (r *credentialEmailRepo) MarkAttemptFailed(ctx context.Context, tx repository.Tx, id, lastErr string, nextAttempt time.Time, terminal bool) error {
	const q = `
UPDATE credential_emails
   SET attempts = attempts + 1,
       last_error = $2,
       next_attempt_at = $3,
       status = CASE WHEN $4::boolean THEN 'failed' ELSE status END
 WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, lastErr, nextAttempt, terminal)
	return mapExecErr(err)
}
