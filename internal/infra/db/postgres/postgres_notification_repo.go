package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"club-membership-gateway/internal/domain"
	"club-membership-gateway/internal/domain/model"
	"club-membership-gateway/internal/domain/ports/repository"
)

var _ repository.NotificationInbox = (*notificationInbox)(nil)

type notificationInbox struct{ pool *pgxpool.Pool }

func NewNotificationInbox(pool *pgxpool.Pool) *notificationInbox {
	return &notificationInbox{pool: pool}
}

const inboxColumns = `id, order_id, external_payment_id, success, gateway_status, payload, status, attempts, last_error, next_attempt_at, received_at, processed_at`

func scanInboxEntry(row pgx.Row) (*model.InboxEntry, error) {
	e := &model.InboxEntry{}
	var status string
	var payload []byte
	if err := row.Scan(&e.ID, &e.OrderID, &e.ExternalPaymentID, &e.Success, &e.GatewayStatus, &payload, &status, &e.Attempts, &e.LastError, &e.NextAttemptAt, &e.ReceivedAt, &e.ProcessedAt); err != nil {
		return nil, err
	}
	e.Status = model.InboxStatus(status)
	e.Payload = payload
	return e, nil
}

func (r *notificationInbox) Insert(ctx context.Context, tx repository.Tx, e *model.InboxEntry) error {
	const q = `
INSERT INTO gateway_notifications (
  id, order_id, external_payment_id, success, gateway_status, payload, status, attempts, last_error, next_attempt_at, received_at, processed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12);`
	_, err := execSQL(ctx, r.pool, tx, q, e.ID, e.OrderID, e.ExternalPaymentID, e.Success, e.GatewayStatus, jsonArg(e.Payload), string(e.Status), e.Attempts, e.LastError, e.NextAttemptAt, e.ReceivedAt, e.ProcessedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return mapExecErr(err)
	}
	return nil
}

func (r *notificationInbox) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.InboxEntry, error) {
	q := `SELECT ` + inboxColumns + ` FROM gateway_notifications WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	e, err := scanInboxEntry(row)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return e, nil
}

// ClaimDue leases due rows in one statement; rows held by a concurrent claimer are skipped.
func (r *notificationInbox) ClaimDue(ctx context.Context, tx repository.Tx, now, leaseUntil time.Time, limit int) ([]*model.InboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
UPDATE gateway_notifications
   SET next_attempt_at = $2
 WHERE id IN (
       SELECT id FROM gateway_notifications
        WHERE status = 'received' AND next_attempt_at <= $1
        ORDER BY received_at ASC
        LIMIT $3
          FOR UPDATE SKIP LOCKED)
RETURNING ` + inboxColumns
	return r.list(ctx, tx, q, now, leaseUntil, limit)
}

func (r *notificationInbox) Claim(ctx context.Context, tx repository.Tx, id string, now, leaseUntil time.Time) (*model.InboxEntry, bool, error) {
	const q = `
UPDATE gateway_notifications
   SET next_attempt_at = $3
 WHERE id = $1 AND status = 'received' AND next_attempt_at <= $2
RETURNING ` + inboxColumns
	row, err := pickRow(ctx, r.pool, tx, q, id, now, leaseUntil)
	if err != nil {
		return nil, false, err
	}
	e, err := scanInboxEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapScanErr(err)
	}
	return e, true, nil
}

func (r *notificationInbox) ListByStatus(ctx context.Context, tx repository.Tx, status model.InboxStatus, limit int) ([]*model.InboxEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + inboxColumns + ` FROM gateway_notifications WHERE status=$1 ORDER BY received_at DESC LIMIT $2`
	return r.list(ctx, tx, q, string(status), limit)
}

func (r *notificationInbox) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.InboxEntry, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	var out []*model.InboxEntry
	for rows.Next() {
		e, err := scanInboxEntry(rows)
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

func (r *notificationInbox) MarkProcessed(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	const q = `UPDATE gateway_notifications SET status='processed', attempts=attempts+1, last_error=NULL, processed_at=$2 WHERE id=$1 AND status='received';`
	_, err := execSQL(ctx, r.pool, tx, q, id, at)
	return mapExecErr(err)
}

func (r *notificationInbox) MarkAttemptFailed(ctx context.Context, tx repository.Tx, id, lastErr string, nextAttempt time.Time, terminal bool) error {
	const q = `
UPDATE gateway_notifications
   SET attempts = attempts + 1,
       last_error = $2,
       next_attempt_at = $3,
       status = CASE WHEN $4::boolean THEN 'failed' ELSE status END
 WHERE id = $1 AND status = 'received';`
	_, err := execSQL(ctx, r.pool, tx, q, id, lastErr, nextAttempt, terminal)
	return mapExecErr(err)
}

func (r *notificationInbox) ResetForReplay(ctx context.Context, tx repository.Tx, id string, now time.Time) (bool, error) {
	const q = `
UPDATE gateway_notifications
   SET status = 'received', attempts = 0, last_error = NULL, next_attempt_at = $2, processed_at = NULL
 WHERE id = $1
   AND status IN ('failed','rejected');`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, now)
	if err != nil {
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}
