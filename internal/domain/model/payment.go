package model

import (
	"encoding/json"
	"time"

	"club-membership-gateway/internal/domain"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // redirected to gateway; awaiting notification
	PaymentStatusCompleted PaymentStatus = "completed" // gateway confirmed the charge
	PaymentStatusFailed    PaymentStatus = "failed"    // gateway rejected or the payer abandoned it
)

// IsTerminal reports whether no further status transition is allowed.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// Payment is the durable record of one gateway order. Never deleted; it doubles as audit trail.
type Payment struct {
	ID                string
	OrderID           string // unique; correlates Init with the webhook
	AccountID         string
	Amount            int64 // minor units (kopecks)
	Currency          string
	ExternalPaymentID *string // gateway PaymentId, set once Init succeeds
	Status            PaymentStatus
	GatewayStatus     string          // last raw status seen from the gateway
	LastNotification  json.RawMessage // raw payload of the last notification, for audit
	PaymentURL        string
	Description       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

func NewPendingPayment(orderID, accountID string, amount int64, externalID, paymentURL, description string) (*Payment, error) {
	if orderID == "" || accountID == "" || amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	p := &Payment{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		AccountID:   accountID,
		Amount:      amount,
		Currency:    "RUB",
		Status:      PaymentStatusPending,
		PaymentURL:  paymentURL,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if externalID != "" {
		p.ExternalPaymentID = &externalID
	}
	return p, nil
}
