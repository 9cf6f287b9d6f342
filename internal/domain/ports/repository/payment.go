package repository

import (
	"context"
	"encoding/json"
	"time"

	"club-membership-gateway/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	FindByOrderID(ctx context.Context, tx Tx, orderID string) (*model.Payment, error)
	// RecordNotification stores the latest raw payload and gateway status without touching Status.
	RecordNotification(ctx context.Context, tx Tx, orderID, gatewayStatus string, payload json.RawMessage) error
	// MarkCompleted moves the payment to completed unless it already is; reports whether a row changed.
	MarkCompleted(ctx context.Context, tx Tx, orderID string, externalPaymentID *string, at time.Time) (bool, error)
	// MarkFailedIfPending moves a pending payment to failed; terminal rows are left untouched.
	MarkFailedIfPending(ctx context.Context, tx Tx, orderID string) (bool, error)
	ListStalePending(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
}
