package adapter

import (
	"context"

	"club-membership-gateway/internal/domain/model"
)

// PaymentGateway is the hex port for the bank acquiring API.
type PaymentGateway interface {
	Name() string

	// Init signs and sends an initiation request. Errors are *domain.ValidationError,
	// *domain.GatewayRejectedError or *domain.TransportError.
	Init(ctx context.Context, intent model.PaymentIntent) (*model.Initiated, error)
	// GetState asks the gateway for the current status of a payment.
	GetState(ctx context.Context, paymentID string) (*model.PaymentState, error)
	// VerifyNotification recomputes the token of an inbound notification body.
	VerifyNotification(fields map[string]any, token string) bool
}
