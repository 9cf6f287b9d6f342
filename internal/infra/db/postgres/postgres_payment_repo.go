package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"club-membership-gateway/internal/domain"
	"club-membership-gateway/internal/domain/model"
	"club-membership-gateway/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, order_id, account_id, amount, currency, external_payment_id, status, gateway_status, last_notification, payment_url, description, created_at, updated_at, completed_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	var status string
	var last []byte
	if err := row.Scan(&p.ID, &p.OrderID, &p.AccountID, &p.Amount, &p.Currency, &p.ExternalPaymentID, &status, &p.GatewayStatus, &last, &p.PaymentURL, &p.Description, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt); err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(status)
	if len(last) > 0 {
		p.LastNotification = json.RawMessage(last)
	}
	return p, nil
}

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (
  id, order_id, account_id, amount, currency, external_payment_id, status, gateway_status, last_notification, payment_url, description, created_at, updated_at, completed_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
) ON CONFLICT (id) DO UPDATE SET
  external_payment_id=$6, status=$7, gateway_status=$8, last_notification=$9, payment_url=$10, description=$11, updated_at=$13, completed_at=$14;`

	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.OrderID, p.AccountID, p.Amount, p.Currency, p.ExternalPaymentID, string(p.Status), p.GatewayStatus, jsonArg(p.LastNotification), p.PaymentURL, p.Description, p.CreatedAt, p.UpdatedAt, p.CompletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return mapExecErr(err)
	}
	return nil
}

func (r *paymentRepo) FindByOrderID(ctx context.Context, tx repository.Tx, orderID string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, orderID)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return p, nil
}

func (r *paymentRepo) RecordNotification(ctx context.Context, tx repository.Tx, orderID, gatewayStatus string, payload json.RawMessage) error {
	const q = `UPDATE payments SET gateway_status=$2, last_notification=COALESCE($3::jsonb, last_notification), updated_at=NOW() WHERE order_id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, orderID, gatewayStatus, jsonArg(payload))
	if err != nil {
		return mapExecErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkCompleted moves a pending row to completed. Completed and failed rows are terminal.
func (r *paymentRepo) MarkCompleted(ctx context.Context, tx repository.Tx, orderID string, externalPaymentID *string, at time.Time) (bool, error) {
	const q = `
UPDATE payments
   SET status = 'completed',
       external_payment_id = COALESCE($2, external_payment_id),
       completed_at = $3,
       updated_at = NOW()
 WHERE order_id = $1
   AND status = 'pending';`
	cmd, err := execSQL(ctx, r.pool, tx, q, orderID, externalPaymentID, at)
	if err != nil {
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) MarkFailedIfPending(ctx context.Context, tx repository.Tx, orderID string) (bool, error) {
	const q = `UPDATE payments SET status='failed', updated_at=NOW() WHERE order_id=$1 AND status='pending';`
	cmd, err := execSQL(ctx, r.pool, tx, q, orderID)
	if err != nil {
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) ListStalePending(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE status='pending' AND external_payment_id IS NOT NULL AND created_at < $1 ORDER BY created_at ASC LIMIT $2`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, mapScanErr(err)
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
