// File: internal/usecase/inbox_uc.go
package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"club-membership-gateway/internal/domain"
	"club-membership-gateway/internal/domain/model"
	"club-membership-gateway/internal/domain/ports/adapter"
	"club-membership-gateway/internal/domain/ports/repository"
	"club-membership-gateway/internal/infra/logging"
	"club-membership-gateway/internal/infra/metrics"
)

// Compile-time check
var _ InboxUseCase = (*inboxUC)(nil)

// InboxUseCase stores gateway notifications before acting on them, so a crash or a store
// failure never loses a confirmation.
type InboxUseCase interface {
	// Receive stores a raw notification body and schedules it for processing.
	Receive(ctx context.Context, raw []byte) (*model.InboxEntry, error)
	// ProcessOne runs a stored notification through the confirmation processor.
	ProcessOne(ctx context.Context, id string) error
	// ProcessDue claims due entries and processes them; returns how many were claimed.
	ProcessDue(ctx context.Context, limit int) (int, error)
	// Replay puts a failed or rejected entry back in line.
	Replay(ctx context.Context, id string) error
	List(ctx context.Context, status model.InboxStatus, limit int) ([]*model.InboxEntry, error)
}

// Submitter hands work to a background pool without blocking.
type Submitter interface {
	Submit(task func(ctx context.Context) error) error
}

type InboxOptions struct {
	VerifyTokens bool
	Retry        RetryPolicy
	// Lease is how long a claimed entry stays invisible to other workers. Defaults to 5m.
	Lease time.Duration
}

const defaultInboxLease = 5 * time.Minute

type inboxUC struct {
	inbox     repository.NotificationInbox
	processor ConfirmationProcessor
	gateway   adapter.PaymentGateway
	submitter Submitter
	alerter   adapter.Alerter
	opts      InboxOptions
	log       *zerolog.Logger
	now       func() time.Time
}

func NewInboxUseCase(
	inbox repository.NotificationInbox,
	processor ConfirmationProcessor,
	gateway adapter.PaymentGateway,
	submitter Submitter,
	alerter adapter.Alerter,
	opts InboxOptions,
	logger *zerolog.Logger,
) *inboxUC {
	l := logger.With().Str("component", "InboxUseCase").Logger()
	if opts.Lease <= 0 {
		opts.Lease = defaultInboxLease
	}
	return &inboxUC{
		inbox:     inbox,
		processor: processor,
		gateway:   gateway,
		submitter: submitter,
		alerter:   alerter,
		opts:      opts,
		log:       &l,
		now:       time.Now,
	}
}

func (u *inboxUC) Receive(ctx context.Context, raw []byte) (*model.InboxEntry, error) {
	defer logging.TraceDuration(u.log, "InboxUseCase.Receive")()

	fields, n, err := decodeNotification(raw)
	if err != nil {
		metrics.IncNotificationReceived("malformed")
		u.log.Warn().Err(err).Int("bytes", len(raw)).Msg("malformed notification dropped")
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	ctx = logging.WithOrderID(ctx, n.OrderID)
	log := logging.With(ctx, u.log)

	now := u.now()
	entry := &model.InboxEntry{
		ID:                ulid.Make().String(),
		OrderID:           n.OrderID,
		ExternalPaymentID: n.PaymentID.String(),
		Success:           n.Success,
		GatewayStatus:     n.Status,
		Payload:           append(json.RawMessage(nil), raw...),
		Status:            model.InboxStatusReceived,
		NextAttemptAt:     now,
		ReceivedAt:        now,
	}

	if u.opts.VerifyTokens && !u.gateway.VerifyNotification(fields, n.Token) {
		reason := domain.ErrInvalidSignature.Error()
		entry.Status = model.InboxStatusRejected
		entry.LastError = &reason
		if err := u.inbox.Insert(ctx, nil, entry); err != nil {
			log.Error().Err(err).Msg("could not store rejected notification")
		}
		metrics.IncNotificationReceived("rejected")
		log.Warn().Str("entry_id", entry.ID).Msg("notification token mismatch; stored for audit only")
		return entry, domain.ErrInvalidSignature
	}

	if err := u.inbox.Insert(ctx, nil, entry); err != nil {
		metrics.IncNotificationReceived("error")
		log.Error().Err(err).Msg("could not store notification")
		return nil, err
	}
	metrics.IncNotificationReceived("accepted")
	log.Info().
		Str("entry_id", entry.ID).
		Str("gateway_status", n.Status).
		Bool("success", n.Success).
		Msg("notification stored")

	u.dispatch(ctx, log, entry.ID)
	return entry, nil
}

// ProcessOne and ProcessDue hold no transaction while the processor runs: the claim is a
// committed lease, so a worker never needs a second pooled connection.
func (u *inboxUC) ProcessOne(ctx context.Context, id string) error {
	defer logging.TraceDuration(u.log, "InboxUseCase.ProcessOne")()

	now := u.now()
	e, ok, err := u.inbox.Claim(ctx, nil, id, now, now.Add(u.opts.Lease))
	if err != nil || !ok {
		return err
	}
	alert, err := u.handle(ctx, e)
	raise(ctx, u.alerter, u.log, alert)
	return err
}

func (u *inboxUC) ProcessDue(ctx context.Context, limit int) (int, error) {
	defer logging.TraceDuration(u.log, "InboxUseCase.ProcessDue")()

	now := u.now()
	due, err := u.inbox.ClaimDue(ctx, nil, now, now.Add(u.opts.Lease), limit)
	if err != nil {
		return 0, err
	}
	var firstErr error
	for _, e := range due {
		alert, err := u.handle(ctx, e)
		if err != nil {
			u.log.Error().Err(err).Str("entry_id", e.ID).Msg("could not record notification attempt; retried after the lease")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		raise(ctx, u.alerter, u.log, alert)
	}
	return len(due), firstErr
}

func (u *inboxUC) Replay(ctx context.Context, id string) error {
	e, err := u.inbox.FindByID(ctx, nil, id)
	if err != nil {
		return err
	}
	if e.Status != model.InboxStatusFailed && e.Status != model.InboxStatusRejected {
		return fmt.Errorf("%w: entry %s is %s", domain.ErrInvalidArgument, id, e.Status)
	}
	ok, err := u.inbox.ResetForReplay(ctx, nil, id, u.now())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: entry %s changed concurrently", domain.ErrInvalidArgument, id)
	}
	u.log.Info().Str("entry_id", id).Str("order_id", e.OrderID).Str("previous_status", string(e.Status)).Msg("notification replay requested")
	u.dispatch(ctx, u.log, id)
	return nil
}

func (u *inboxUC) List(ctx context.Context, status model.InboxStatus, limit int) ([]*model.InboxEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if status == "" {
		status = model.InboxStatusFailed
	}
	return u.inbox.ListByStatus(ctx, nil, status, limit)
}

// handle processes one leased entry and records the attempt on it. The returned error is a
// store failure; processing failures are recorded on the entry instead.
func (u *inboxUC) handle(ctx context.Context, e *model.InboxEntry) (string, error) {
	log := logging.With(ctx, u.log).With().Str("entry_id", e.ID).Str("order_id", e.OrderID).Logger()
	now := u.now()

	n, decodeErr := e.Notification()
	procErr := decodeErr
	if decodeErr == nil {
		_, procErr = u.processor.Process(ctx, n)
	}
	if procErr == nil {
		if err := u.inbox.MarkProcessed(ctx, nil, e.ID, now); err != nil {
			return "", err
		}
		metrics.IncInboxAttempt(string(model.InboxStatusProcessed))
		return "", nil
	}

	attempts := e.Attempts + 1
	next, terminal := u.opts.Retry.Next(attempts, now)
	if decodeErr != nil {
		terminal = true
	}
	if err := u.inbox.MarkAttemptFailed(ctx, nil, e.ID, procErr.Error(), next, terminal); err != nil {
		return "", err
	}
	if !terminal {
		metrics.IncInboxAttempt("retry")
		log.Warn().Err(procErr).Int("attempts", attempts).Time("next_attempt_at", next).Msg("notification processing failed; will retry")
		return "", nil
	}
	metrics.IncInboxAttempt(string(model.InboxStatusFailed))
	log.Error().Err(procErr).Int("attempts", attempts).Msg("notification processing gave up")
	return fmt.Sprintf("Notification %s for order %s failed after %d attempts: %v", e.ID, e.OrderID, attempts, procErr), nil
}

// dispatch hands the entry to the pool, carrying the caller's trace id onto the pool's context.
func (u *inboxUC) dispatch(ctx context.Context, log *zerolog.Logger, id string) {
	if u.submitter == nil {
		return
	}
	tid := logging.TraceID(ctx)
	err := u.submitter.Submit(func(ctx context.Context) error {
		if tid != "" {
			ctx = logging.WithTraceID(ctx, tid)
		}
		return u.ProcessOne(ctx, id)
	})
	if err != nil {
		log.Info().Err(err).Str("entry_id", id).Msg("immediate processing skipped; dispatcher will pick it up")
	}
}

// decodeNotification parses the body twice: once as a flat map with numbers kept verbatim for
// token verification, once into the typed notification.
func decodeNotification(raw []byte) (map[string]any, model.Notification, error) {
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, model.Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	var n model.Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, model.Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	if strings.TrimSpace(n.OrderID) == "" {
		return nil, model.Notification{}, errors.New("notification without OrderId")
	}
	n.Raw = raw
	return fields, n, nil
}
