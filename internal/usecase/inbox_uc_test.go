//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"club-membership-gateway/internal/domain"
	"club-membership-gateway/internal/domain/model"
	"club-membership-gateway/internal/domain/ports/repository"
	"club-membership-gateway/internal/infra/logging"
	"club-membership-gateway/internal/usecase"
)

type inboxFixture struct {
	inbox     *MockInbox
	processor *MockConfirmationProcessor
	gateway   *MockPaymentGateway
	submitter *MockSubmitter
	alerter   *MockAlerter
	uc        usecase.InboxUseCase
}

func newInboxFixture(verify bool) *inboxFixture {
	f := &inboxFixture{
		inbox:     NewMockInbox(),
		processor: &MockConfirmationProcessor{},
		gateway:   &MockPaymentGateway{},
		submitter: &MockSubmitter{},
		alerter:   &MockAlerter{},
	}
	opts := usecase.InboxOptions{
		VerifyTokens: verify,
		Retry:        usecase.RetryPolicy{MaxAttempts: 2, BaseBackoff: time.Nanosecond, MaxBackoff: time.Nanosecond},
	}
	f.uc = usecase.NewInboxUseCase(f.inbox, f.processor, f.gateway, f.submitter, f.alerter, opts, newTestLogger())
	return f
}

const confirmedBody = `{"TerminalKey":"TestTerminal","OrderId":"0001","Success":true,"Status":"CONFIRMED","PaymentId":13660,"Amount":1000,"Token":"good"}`

func TestInboxUseCase_Receive(t *testing.T) {
	ctx := context.Background()

	t.Run("should store and process a verified notification", func(t *testing.T) {
		f := newInboxFixture(true)
		var seenFields map[string]any
		f.gateway.VerifyFunc = func(fields map[string]any, token string) bool {
			seenFields = fields
			return token == "good"
		}

		entry, err := f.uc.Receive(ctx, []byte(confirmedBody))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if entry.OrderID != "0001" || entry.ExternalPaymentID != "13660" || !entry.Success {
			t.Errorf("unexpected entry %+v", entry)
		}
		if _, ok := seenFields["Amount"]; !ok {
			t.Error("expected the flat field map to reach token verification")
		}
		if f.processor.Count() != 1 {
			t.Fatalf("expected immediate processing, got %d calls", f.processor.Count())
		}
		if got := f.processor.Calls[0]; got.OrderID != "0001" || got.Verdict() != model.VerdictConfirmed {
			t.Errorf("processor got %+v", got)
		}
		stored, _ := f.inbox.FindByID(ctx, nil, entry.ID)
		if stored.Status != model.InboxStatusProcessed {
			t.Errorf("expected processed, got %s", stored.Status)
		}
	})

	t.Run("should keep a mismatched token for audit without processing", func(t *testing.T) {
		f := newInboxFixture(true)
		body := `{"OrderId":"0001","Success":true,"Status":"CONFIRMED","Token":"forged"}`

		entry, err := f.uc.Receive(ctx, []byte(body))
		if !errors.Is(err, domain.ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
		stored, _ := f.inbox.FindByID(ctx, nil, entry.ID)
		if stored.Status != model.InboxStatusRejected {
			t.Errorf("expected rejected entry, got %s", stored.Status)
		}
		if f.processor.Count() != 0 {
			t.Error("forged notification must not be processed")
		}
	})

	t.Run("should skip verification when disabled", func(t *testing.T) {
		f := newInboxFixture(false)
		body := `{"OrderId":"0001","Success":true,"Status":"CONFIRMED","Token":"whatever"}`
		if _, err := f.uc.Receive(ctx, []byte(body)); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if f.processor.Count() != 1 {
			t.Error("expected processing without verification")
		}
	})

	t.Run("should drop malformed bodies", func(t *testing.T) {
		f := newInboxFixture(true)
		for _, body := range []string{`not json`, `{"Success":true}`, `[]`} {
			if _, err := f.uc.Receive(ctx, []byte(body)); !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("body %q: expected ErrInvalidArgument, got %v", body, err)
			}
		}
		if rows, _ := f.inbox.ListByStatus(ctx, nil, model.InboxStatusReceived, 0); len(rows) != 0 {
			t.Errorf("nothing should be stored, got %d rows", len(rows))
		}
	})

	t.Run("should leave the entry for the dispatcher when the pool is full", func(t *testing.T) {
		f := newInboxFixture(true)
		f.submitter.Err = errors.New("worker queue full")

		entry, err := f.uc.Receive(ctx, []byte(confirmedBody))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		stored, _ := f.inbox.FindByID(ctx, nil, entry.ID)
		if stored.Status != model.InboxStatusReceived {
			t.Errorf("expected received, got %s", stored.Status)
		}

		claimed, err := f.uc.ProcessDue(ctx, 10)
		if err != nil || claimed != 1 {
			t.Fatalf("claimed=%d err=%v", claimed, err)
		}
		stored, _ = f.inbox.FindByID(ctx, nil, entry.ID)
		if stored.Status != model.InboxStatusProcessed {
			t.Errorf("expected processed after sweep, got %s", stored.Status)
		}
	})

	t.Run("should surface store failures", func(t *testing.T) {
		f := newInboxFixture(true)
		f.inbox.InsertFunc = func(ctx context.Context, tx repository.Tx, e *model.InboxEntry) error {
			return domain.ErrOperationFailed
		}
		if _, err := f.uc.Receive(ctx, []byte(confirmedBody)); !errors.Is(err, domain.ErrOperationFailed) {
			t.Fatalf("expected ErrOperationFailed, got %v", err)
		}
	})
}

func TestInboxUseCase_RetryAndReplay(t *testing.T) {
	ctx := context.Background()
	f := newInboxFixture(true)
	f.submitter.Hold = true
	f.processor.ProcessFunc = func(ctx context.Context, n model.Notification) (usecase.Outcome, error) {
		return usecase.OutcomeIgnored, &domain.PartialTransitionError{OrderID: n.OrderID, Stage: "activate", Cause: domain.ErrOperationFailed}
	}

	entry, err := f.uc.Receive(ctx, []byte(confirmedBody))
	if err != nil {
		t.Fatal(err)
	}

	if err := f.uc.ProcessOne(ctx, entry.ID); err != nil {
		t.Fatalf("a processing failure is recorded, not returned: %v", err)
	}
	stored, _ := f.inbox.FindByID(ctx, nil, entry.ID)
	if stored.Status != model.InboxStatusReceived || stored.Attempts != 1 || stored.LastError == nil {
		t.Fatalf("expected one recorded attempt, got %+v", stored)
	}
	if f.alerter.Count() != 0 {
		t.Error("no alert expected before retries are exhausted")
	}

	if _, err := f.uc.ProcessDue(ctx, 10); err != nil {
		t.Fatal(err)
	}
	stored, _ = f.inbox.FindByID(ctx, nil, entry.ID)
	if stored.Status != model.InboxStatusFailed || stored.Attempts != 2 {
		t.Fatalf("expected failed after max attempts, got %s/%d", stored.Status, stored.Attempts)
	}
	if f.alerter.Count() != 1 {
		t.Errorf("expected one operator alert, got %d", f.alerter.Count())
	}

	failed, _ := f.uc.List(ctx, "", 0)
	if len(failed) != 1 || failed[0].ID != entry.ID {
		t.Errorf("expected the entry in the failed list, got %d entries", len(failed))
	}

	f.processor.ProcessFunc = nil
	f.submitter.Hold = false
	if err := f.uc.Replay(ctx, entry.ID); err != nil {
		t.Fatalf("replay: %v", err)
	}
	stored, _ = f.inbox.FindByID(ctx, nil, entry.ID)
	if stored.Status != model.InboxStatusProcessed {
		t.Errorf("expected processed after replay, got %s", stored.Status)
	}

	if err := f.uc.Replay(ctx, entry.ID); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("replaying a processed entry: expected ErrInvalidArgument, got %v", err)
	}
	if err := f.uc.Replay(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("replaying a missing entry: expected ErrNotFound, got %v", err)
	}
}

func TestInboxUseCase_ProcessOneSkipsFinishedEntries(t *testing.T) {
	ctx := context.Background()
	f := newInboxFixture(true)

	entry, _ := f.uc.Receive(ctx, []byte(confirmedBody))
	if err := f.uc.ProcessOne(ctx, entry.ID); err != nil {
		t.Fatal(err)
	}
	if f.processor.Count() != 1 {
		t.Errorf("processed entry must not run again, got %d calls", f.processor.Count())
	}
}

func TestInboxUseCase_Lease(t *testing.T) {
	ctx := context.Background()

	t.Run("should hide a claimed entry from other workers while it is processed", func(t *testing.T) {
		f := newInboxFixture(true)
		f.submitter.Hold = true
		entry, err := f.uc.Receive(ctx, []byte(confirmedBody))
		if err != nil {
			t.Fatal(err)
		}

		var nestedClaimed int
		f.processor.ProcessFunc = func(ctx context.Context, n model.Notification) (usecase.Outcome, error) {
			claimed, err := f.uc.ProcessDue(ctx, 10)
			if err != nil {
				t.Errorf("concurrent sweep: %v", err)
			}
			nestedClaimed = claimed
			if err := f.uc.ProcessOne(ctx, entry.ID); err != nil {
				t.Errorf("concurrent process: %v", err)
			}
			return usecase.OutcomeActivated, nil
		}

		claimed, err := f.uc.ProcessDue(ctx, 10)
		if err != nil || claimed != 1 {
			t.Fatalf("claimed=%d err=%v", claimed, err)
		}
		if nestedClaimed != 0 {
			t.Errorf("leased entry claimed twice")
		}
		if f.processor.Count() != 1 {
			t.Errorf("expected one processing run, got %d", f.processor.Count())
		}
		stored, _ := f.inbox.FindByID(ctx, nil, entry.ID)
		if stored.Status != model.InboxStatusProcessed || stored.Attempts != 1 {
			t.Errorf("expected processed after one attempt, got %s/%d", stored.Status, stored.Attempts)
		}
	})

	t.Run("should pick up an entry whose lease ran out", func(t *testing.T) {
		f := newInboxFixture(true)
		f.submitter.Hold = true
		entry, err := f.uc.Receive(ctx, []byte(confirmedBody))
		if err != nil {
			t.Fatal(err)
		}

		// A worker claims the entry and dies before recording anything.
		now := time.Now()
		if _, ok, _ := f.inbox.Claim(ctx, nil, entry.ID, now, now.Add(time.Hour)); !ok {
			t.Fatal("expected the first claim to succeed")
		}
		if claimed, _ := f.uc.ProcessDue(ctx, 10); claimed != 0 {
			t.Fatalf("entry under lease must not be claimed, got %d", claimed)
		}

		// The lease runs out.
		f.inbox.mu.Lock()
		f.inbox.data[entry.ID].NextAttemptAt = now.Add(-time.Second)
		f.inbox.mu.Unlock()

		claimed, err := f.uc.ProcessDue(ctx, 10)
		if err != nil || claimed != 1 {
			t.Fatalf("claimed=%d err=%v", claimed, err)
		}
		stored, _ := f.inbox.FindByID(ctx, nil, entry.ID)
		if stored.Status != model.InboxStatusProcessed {
			t.Errorf("expected processed, got %s", stored.Status)
		}
	})
}

func TestInboxUseCase_DispatchKeepsTraceID(t *testing.T) {
	f := newInboxFixture(true)
	var seen string
	f.processor.ProcessFunc = func(ctx context.Context, n model.Notification) (usecase.Outcome, error) {
		seen = logging.TraceID(ctx)
		return usecase.OutcomeActivated, nil
	}

	ctx := logging.WithTraceID(context.Background(), "req-42")
	if _, err := f.uc.Receive(ctx, []byte(confirmedBody)); err != nil {
		t.Fatal(err)
	}
	if seen != "req-42" {
		t.Errorf("expected the request trace id on the worker context, got %q", seen)
	}
}
