//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"club-membership-gateway/internal/domain"
	"club-membership-gateway/internal/domain/model"
	"club-membership-gateway/internal/domain/ports/repository"
	"club-membership-gateway/internal/usecase"
)

// paymentUCTestDeps holds the mock dependencies for the payment use case tests.
type paymentUCTestDeps struct {
	payments *MockPaymentRepo
	accounts *MockAccountRepo
	gateway  *MockPaymentGateway
	uc       usecase.PaymentUseCase
}

func newPaymentUCDeps() *paymentUCTestDeps {
	d := &paymentUCTestDeps{
		payments: NewMockPaymentRepo(),
		accounts: NewMockAccountRepo(),
		gateway:  &MockPaymentGateway{},
	}
	opts := usecase.PaymentOptions{DefaultAmount: 1000, DefaultDescription: "Test"}
	d.uc = usecase.NewPaymentUseCase(NewMockTxManager(), d.payments, d.accounts, d.gateway, fixedOrderIDs{"0001"}, opts, newTestLogger())
	acc, _ := model.NewAccount("acc-1", "member@example.com", "Ivan", "+70000000000")
	_ = d.accounts.Save(context.Background(), nil, acc)
	return d
}

func TestPaymentUseCase_Purchase(t *testing.T) {
	ctx := context.Background()

	t.Run("should initiate and record a pending payment", func(t *testing.T) {
		d := newPaymentUCDeps()

		p, url, err := d.uc.Purchase(ctx, usecase.PurchaseRequest{AccountID: "acc-1"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if url != "https://pay/x" {
			t.Errorf("unexpected url %q", url)
		}
		if p.OrderID != "0001" || p.Amount != 1000 || p.Status != model.PaymentStatusPending {
			t.Errorf("unexpected payment %+v", p)
		}
		if p.ExternalPaymentID == nil || *p.ExternalPaymentID != "P1" {
			t.Errorf("expected external id P1, got %v", p.ExternalPaymentID)
		}

		intent := d.gateway.Intents[0]
		if intent.Amount != 1000 || intent.OrderID != "0001" || intent.Description != "Test" {
			t.Errorf("unexpected intent %+v", intent)
		}
		if intent.Contact == nil || intent.Contact.Email != "member@example.com" || intent.Contact.Phone != "+70000000000" {
			t.Errorf("expected contact data in the intent, got %+v", intent.Contact)
		}

		stored, err := d.payments.FindByOrderID(ctx, nil, "0001")
		if err != nil || stored.Status != model.PaymentStatusPending {
			t.Fatalf("expected stored pending payment, got %v / %v", stored, err)
		}
		acc, _ := d.accounts.FindByID(ctx, nil, "acc-1")
		if acc.ExternalPaymentID == nil || *acc.ExternalPaymentID != "P1" {
			t.Error("expected the account stamped with the external payment id")
		}
	})

	t.Run("should honour explicit amount and truncate a long description", func(t *testing.T) {
		d := newPaymentUCDeps()
		long := strings.Repeat("ж", 300)
		p, _, err := d.uc.Purchase(ctx, usecase.PurchaseRequest{AccountID: "acc-1", Amount: 5000, Description: long})
		if err != nil {
			t.Fatal(err)
		}
		if p.Amount != 5000 {
			t.Errorf("expected 5000, got %d", p.Amount)
		}
		if n := len([]rune(p.Description)); n != model.MaxDescriptionRunes {
			t.Errorf("expected stored description of %d runes, got %d", model.MaxDescriptionRunes, n)
		}
	})

	t.Run("should refuse an active account", func(t *testing.T) {
		d := newPaymentUCDeps()
		acc, _ := d.accounts.FindByID(ctx, nil, "acc-1")
		acc.MembershipStatus = model.MembershipActive
		_ = d.accounts.Save(ctx, nil, acc)

		if _, _, err := d.uc.Purchase(ctx, usecase.PurchaseRequest{AccountID: "acc-1"}); !errors.Is(err, domain.ErrAlreadyActive) {
			t.Fatalf("expected ErrAlreadyActive, got %v", err)
		}
		if len(d.gateway.Intents) != 0 {
			t.Error("gateway must not be called")
		}
	})

	t.Run("should fail for an unknown account", func(t *testing.T) {
		d := newPaymentUCDeps()
		if _, _, err := d.uc.Purchase(ctx, usecase.PurchaseRequest{AccountID: "nope"}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("should surface a gateway rejection without writing", func(t *testing.T) {
		d := newPaymentUCDeps()
		d.gateway.InitFunc = func(ctx context.Context, intent model.PaymentIntent) (*model.Initiated, error) {
			return nil, &domain.GatewayRejectedError{Code: "204", Message: "Неверный токен"}
		}
		var saved bool
		d.payments.SaveFunc = func(ctx context.Context, tx repository.Tx, p *model.Payment) error {
			saved = true
			return nil
		}

		_, _, err := d.uc.Purchase(ctx, usecase.PurchaseRequest{AccountID: "acc-1"})
		var rejected *domain.GatewayRejectedError
		if !errors.As(err, &rejected) || rejected.Code != "204" {
			t.Fatalf("expected GatewayRejectedError 204, got %v", err)
		}
		if saved {
			t.Error("no payment record expected after a rejection")
		}
	})

	t.Run("should surface a store failure after initiation", func(t *testing.T) {
		d := newPaymentUCDeps()
		d.payments.SaveFunc = func(ctx context.Context, tx repository.Tx, p *model.Payment) error {
			return domain.ErrOperationFailed
		}
		if _, _, err := d.uc.Purchase(ctx, usecase.PurchaseRequest{AccountID: "acc-1"}); !errors.Is(err, domain.ErrOperationFailed) {
			t.Fatalf("expected ErrOperationFailed, got %v", err)
		}
	})
}

func TestAccountUseCase_Register(t *testing.T) {
	ctx := context.Background()
	accounts := NewMockAccountRepo()
	uc := usecase.NewAccountUseCase(accounts, newTestLogger())

	acc, err := uc.Register(ctx, "New@Example.com", "Anna", "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	got, err := uc.Get(ctx, acc.ID)
	if err != nil || got.Email != "new@example.com" || got.MembershipStatus != model.MembershipPendingPayment {
		t.Errorf("unexpected stored account %+v (%v)", got, err)
	}
	if _, err := uc.Register(ctx, "bad", "", ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}
