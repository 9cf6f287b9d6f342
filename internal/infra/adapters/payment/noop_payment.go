package payment

import (
	"context"
	"fmt"
	"sync"

	"club-membership-gateway/internal/domain"
	"club-membership-gateway/internal/domain/model"
	"club-membership-gateway/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is a simple in-memory gateway for dev runs and tests.
// Every payment it initiates reports CONFIRMED on GetState.
type NoopPaymentGateway struct {
	mu       sync.Mutex
	seq      int64
	password string
	orders   map[string]model.Initiated // payment id -> initiated payment
}

func NewNoopPaymentGateway(password string) *NoopPaymentGateway {
	return &NoopPaymentGateway{
		password: password,
		orders:   make(map[string]model.Initiated),
	}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) next() string {
	g.seq++
	return fmt.Sprintf("noop-%d", g.seq)
}

func (g *NoopPaymentGateway) Init(ctx context.Context, intent model.PaymentIntent) (*model.Initiated, error) {
	if intent.Amount <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if !ValidOrderID(intent.OrderID) {
		return nil, &domain.ValidationError{Field: "order_id", Reason: "invalid"}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next()
	in := model.Initiated{
		PaymentID:  id,
		PaymentURL: "https://example.test/pay/" + id,
		OrderID:    intent.OrderID,
		Amount:     intent.Amount,
		Status:     "NEW",
	}
	g.orders[id] = in
	return &in, nil
}

func (g *NoopPaymentGateway) GetState(ctx context.Context, paymentID string) (*model.PaymentState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.orders[paymentID]
	if !ok {
		return nil, &domain.GatewayRejectedError{Code: "7", Message: "payment not found"}
	}
	return &model.PaymentState{
		PaymentID: in.PaymentID,
		OrderID:   in.OrderID,
		Status:    model.GatewayStatusConfirmed,
		Success:   true,
		Amount:    in.Amount,
	}, nil
}

func (g *NoopPaymentGateway) VerifyNotification(fields map[string]any, token string) bool {
	return Verify(Fields(fields), g.password, token)
}
