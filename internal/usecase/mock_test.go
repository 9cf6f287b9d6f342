//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"club-membership-gateway/internal/domain"
	"club-membership-gateway/internal/domain/model"
	"club-membership-gateway/internal/domain/ports/adapter"
	"club-membership-gateway/internal/domain/ports/repository"
	"club-membership-gateway/internal/usecase"
)

// -----------------------------
// Utilities
// -----------------------------

func strPtr(s string) *string { return &s }

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// =============================
// Transactions
// =============================

// mockTx stands in for pgx.Tx and remembers the advisory locks it took.
type mockTx struct {
	held []*sync.Mutex
}

// MockTxManager runs fn directly. LockKey emulates pg_advisory_xact_lock with one mutex per
// key, released when the surrounding WithTx returns.
type MockTxManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	NoLocks    bool
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{locks: map[string]*sync.Mutex{}}
}

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	tx := &mockTx{}
	defer func() {
		for _, l := range tx.held {
			l.Unlock()
		}
	}()
	return fn(ctx, tx)
}

func (m *MockTxManager) LockKey(ctx context.Context, tx repository.Tx, key string) error {
	mtx, ok := tx.(*mockTx)
	if !ok {
		return domain.ErrInvalidExecContext
	}
	if m.NoLocks {
		return nil
	}
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()
	l.Lock()
	mtx.held = append(mtx.held, l)
	return nil
}

// =============================
// Repositories
// =============================

// ---- Payments ----

type MockPaymentRepo struct {
	mu      sync.Mutex
	byOrder map[string]*model.Payment

	SaveFunc          func(ctx context.Context, tx repository.Tx, p *model.Payment) error
	MarkCompletedFunc func(ctx context.Context, tx repository.Tx, orderID string, externalPaymentID *string, at time.Time) (bool, error)
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{byOrder: map[string]*model.Payment{}}
}

func (r *MockPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byOrder[p.OrderID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *p
	r.byOrder[p.OrderID] = &cp
	return nil
}

func (r *MockPaymentRepo) FindByOrderID(ctx context.Context, tx repository.Tx, orderID string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byOrder[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MockPaymentRepo) RecordNotification(ctx context.Context, tx repository.Tx, orderID, gatewayStatus string, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byOrder[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	p.GatewayStatus = gatewayStatus
	p.LastNotification = append(json.RawMessage(nil), payload...)
	return nil
}

func (r *MockPaymentRepo) MarkCompleted(ctx context.Context, tx repository.Tx, orderID string, externalPaymentID *string, at time.Time) (bool, error) {
	if r.MarkCompletedFunc != nil {
		return r.MarkCompletedFunc(ctx, tx, orderID, externalPaymentID, at)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byOrder[orderID]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.Status = model.PaymentStatusCompleted
	p.CompletedAt = &at
	if externalPaymentID != nil {
		p.ExternalPaymentID = externalPaymentID
	}
	return true, nil
}

func (r *MockPaymentRepo) MarkFailedIfPending(ctx context.Context, tx repository.Tx, orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byOrder[orderID]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.Status = model.PaymentStatusFailed
	return true, nil
}

func (r *MockPaymentRepo) ListStalePending(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.byOrder {
		if p.Status == model.PaymentStatusPending && p.ExternalPaymentID != nil && p.CreatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- Accounts ----

type MockAccountRepo struct {
	mu   sync.Mutex
	data map[string]*model.Account

	ActivateCalls    int
	CredentialWrites int

	ActivateIfPendingFunc func(ctx context.Context, tx repository.Tx, id string, externalPaymentID *string, at time.Time) (bool, error)
}

var _ repository.AccountRepository = (*MockAccountRepo)(nil)

func NewMockAccountRepo() *MockAccountRepo {
	return &MockAccountRepo{data: map[string]*model.Account{}}
}

func (r *MockAccountRepo) Save(ctx context.Context, tx repository.Tx, a *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.data[a.ID] = &cp
	return nil
}

func (r *MockAccountRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MockAccountRepo) SetExternalPaymentID(ctx context.Context, tx repository.Tx, id, externalPaymentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.ExternalPaymentID = &externalPaymentID
	return nil
}

func (r *MockAccountRepo) ActivateIfPending(ctx context.Context, tx repository.Tx, id string, externalPaymentID *string, at time.Time) (bool, error) {
	if r.ActivateIfPendingFunc != nil {
		return r.ActivateIfPendingFunc(ctx, tx, id, externalPaymentID, at)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ActivateCalls++
	a, ok := r.data[id]
	if !ok || a.MembershipStatus == model.MembershipActive {
		return false, nil
	}
	a.MembershipStatus = model.MembershipActive
	a.ActivatedAt = &at
	if externalPaymentID != nil {
		a.ExternalPaymentID = externalPaymentID
	}
	return true, nil
}

func (r *MockAccountRepo) SetCredentialsIfAbsent(ctx context.Context, tx repository.Tx, id, login, passwordHash, passwordCipher string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.data[id]
	if !ok || a.PasswordHash != nil {
		return false, nil
	}
	r.CredentialWrites++
	a.Login, a.PasswordHash, a.PasswordCipher = &login, &passwordHash, &passwordCipher
	return true, nil
}

func (r *MockAccountRepo) MarkCredentialsSent(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	if a.CredentialsSentAt == nil {
		a.CredentialsSentAt = &at
	}
	return nil
}

// ---- Notification inbox ----

type MockInbox struct {
	mu   sync.Mutex
	data map[string]*model.InboxEntry

	InsertFunc func(ctx context.Context, tx repository.Tx, e *model.InboxEntry) error
}

var _ repository.NotificationInbox = (*MockInbox)(nil)

func NewMockInbox() *MockInbox {
	return &MockInbox{data: map[string]*model.InboxEntry{}}
}

func (r *MockInbox) Insert(ctx context.Context, tx repository.Tx, e *model.InboxEntry) error {
	if r.InsertFunc != nil {
		return r.InsertFunc(ctx, tx, e)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.data[e.ID] = &cp
	return nil
}

func (r *MockInbox) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.InboxEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *MockInbox) ClaimDue(ctx context.Context, tx repository.Tx, now, leaseUntil time.Time, limit int) ([]*model.InboxEntry, error) {
	due := r.collect(limit, func(e *model.InboxEntry) bool {
		return e.Status == model.InboxStatusReceived && !e.NextAttemptAt.After(now)
	})
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range due {
		r.data[e.ID].NextAttemptAt = leaseUntil
	}
	return due, nil
}

func (r *MockInbox) Claim(ctx context.Context, tx repository.Tx, id string, now, leaseUntil time.Time) (*model.InboxEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[id]
	if !ok || e.Status != model.InboxStatusReceived || e.NextAttemptAt.After(now) {
		return nil, false, nil
	}
	cp := *e
	e.NextAttemptAt = leaseUntil
	return &cp, true, nil
}

func (r *MockInbox) ListByStatus(ctx context.Context, tx repository.Tx, status model.InboxStatus, limit int) ([]*model.InboxEntry, error) {
	return r.collect(limit, func(e *model.InboxEntry) bool { return e.Status == status }), nil
}

func (r *MockInbox) collect(limit int, keep func(*model.InboxEntry) bool) []*model.InboxEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.InboxEntry
	for _, e := range r.data {
		if keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *MockInbox) MarkProcessed(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	if e.Status != model.InboxStatusReceived {
		return nil
	}
	e.Status = model.InboxStatusProcessed
	e.Attempts++
	e.ProcessedAt = &at
	return nil
}

func (r *MockInbox) MarkAttemptFailed(ctx context.Context, tx repository.Tx, id, lastErr string, nextAttempt time.Time, terminal bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	if e.Status != model.InboxStatusReceived {
		return nil
	}
	e.Attempts++
	e.LastError = &lastErr
	e.NextAttemptAt = nextAttempt
	if terminal {
		e.Status = model.InboxStatusFailed
	}
	return nil
}

func (r *MockInbox) ResetForReplay(ctx context.Context, tx repository.Tx, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[id]
	if !ok || (e.Status != model.InboxStatusFailed && e.Status != model.InboxStatusRejected) {
		return false, nil
	}
	e.Status = model.InboxStatusReceived
	e.Attempts = 0
	e.NextAttemptAt = now
	return true, nil
}

// ---- Credential email outbox ----

type MockCredentialEmailRepo struct {
	mu        sync.Mutex
	data      map[string]*model.CredentialEmail
	byAccount map[string]string
}

var _ repository.CredentialEmailRepository = (*MockCredentialEmailRepo)(nil)

func NewMockCredentialEmailRepo() *MockCredentialEmailRepo {
	return &MockCredentialEmailRepo{data: map[string]*model.CredentialEmail{}, byAccount: map[string]string{}}
}

func (r *MockCredentialEmailRepo) Enqueue(ctx context.Context, tx repository.Tx, e *model.CredentialEmail) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byAccount[e.AccountID]; ok {
		return false, nil
	}
	cp := *e
	r.data[e.ID] = &cp
	r.byAccount[e.AccountID] = e.ID
	return true, nil
}

func (r *MockCredentialEmailRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.CredentialEmail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *MockCredentialEmailRepo) ClaimDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.CredentialEmail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.CredentialEmail
	for _, e := range r.data {
		if e.Status == model.EmailStatusPending && !e.NextAttemptAt.After(now) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockCredentialEmailRepo) MarkSent(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.Status = model.EmailStatusSent
	e.Attempts++
	e.SentAt = &at
	return nil
}

func (r *MockCredentialEmailRepo) MarkAttemptFailed(ctx context.Context, tx repository.Tx, id, lastErr string, nextAttempt time.Time, terminal bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.Attempts++
	e.LastError = &lastErr
	e.NextAttemptAt = nextAttempt
	if terminal {
		e.Status = model.EmailStatusFailed
	}
	return nil
}

func (r *MockCredentialEmailRepo) All() []*model.CredentialEmail {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.CredentialEmail, 0, len(r.data))
	for _, e := range r.data {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// =============================
// Adapters
// =============================

// ---- Payment gateway ----

type MockPaymentGateway struct {
	mu      sync.Mutex
	Intents []model.PaymentIntent

	InitFunc     func(ctx context.Context, intent model.PaymentIntent) (*model.Initiated, error)
	GetStateFunc func(ctx context.Context, paymentID string) (*model.PaymentState, error)
	VerifyFunc   func(fields map[string]any, token string) bool
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func (m *MockPaymentGateway) Name() string { return "mock" }

func (m *MockPaymentGateway) Init(ctx context.Context, intent model.PaymentIntent) (*model.Initiated, error) {
	m.mu.Lock()
	m.Intents = append(m.Intents, intent)
	m.mu.Unlock()
	if m.InitFunc != nil {
		return m.InitFunc(ctx, intent)
	}
	return &model.Initiated{PaymentID: "P1", PaymentURL: "https://pay/x", OrderID: intent.OrderID, Amount: intent.Amount, Status: "NEW"}, nil
}

func (m *MockPaymentGateway) GetState(ctx context.Context, paymentID string) (*model.PaymentState, error) {
	if m.GetStateFunc != nil {
		return m.GetStateFunc(ctx, paymentID)
	}
	return &model.PaymentState{PaymentID: paymentID, Status: model.GatewayStatusConfirmed, Success: true}, nil
}

func (m *MockPaymentGateway) VerifyNotification(fields map[string]any, token string) bool {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(fields, token)
	}
	return token == "good"
}

// ---- Mailer ----

type MockMailer struct {
	mu   sync.Mutex
	Sent []model.CredentialMessage

	SendFunc func(ctx context.Context, msg model.CredentialMessage) error
}

var _ adapter.Mailer = (*MockMailer)(nil)

func (m *MockMailer) SendCredentials(ctx context.Context, msg model.CredentialMessage) error {
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, msg)
	return nil
}

func (m *MockMailer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// ---- Alerter ----

type MockAlerter struct {
	mu     sync.Mutex
	Alerts []string
}

var _ adapter.Alerter = (*MockAlerter)(nil)

func (m *MockAlerter) Alert(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, text)
	return nil
}

func (m *MockAlerter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Alerts)
}

// ---- Credentials ----

type mockHasher struct{}

func (mockHasher) Hash(password string) (string, error) { return "hash:" + password, nil }

type mockSealer struct{}

func (mockSealer) Encrypt(plaintext string) (string, error) { return "sealed:" + plaintext, nil }

func (mockSealer) Decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, "sealed:") {
		return "", errors.New("bad cipher")
	}
	return strings.TrimPrefix(ciphertext, "sealed:"), nil
}

// countingGenerator returns "secret-N" and counts calls.
type countingGenerator struct {
	mu sync.Mutex
	n  int
}

func (g *countingGenerator) Generate(length int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "secret-" + strings.Repeat("x", g.n), nil
}

func (g *countingGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// ---- Misc ----

// MockSubmitter runs submitted tasks inline, or queues them when Hold is set.
type MockSubmitter struct {
	mu     sync.Mutex
	Hold   bool
	Queued []func(ctx context.Context) error
	Err    error
}

func (s *MockSubmitter) Submit(task func(ctx context.Context) error) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	if s.Hold {
		s.Queued = append(s.Queued, task)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return task(context.Background())
}

type MockConfirmationProcessor struct {
	mu    sync.Mutex
	Calls []model.Notification

	ProcessFunc func(ctx context.Context, n model.Notification) (usecase.Outcome, error)
}

var _ usecase.ConfirmationProcessor = (*MockConfirmationProcessor)(nil)

func (m *MockConfirmationProcessor) Process(ctx context.Context, n model.Notification) (usecase.Outcome, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, n)
	m.mu.Unlock()
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, n)
	}
	return usecase.OutcomeIgnored, nil
}

func (m *MockConfirmationProcessor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

type fixedOrderIDs struct{ id string }

func (f fixedOrderIDs) Next() string { return f.id }

// =============================
// Fixture
// =============================

// confirmationFixture wires the real confirmation processor and mail use case over mocks.
type confirmationFixture struct {
	tm        *MockTxManager
	payments  *MockPaymentRepo
	accounts  *MockAccountRepo
	emails    *MockCredentialEmailRepo
	mailer    *MockMailer
	alerter   *MockAlerter
	generator *countingGenerator
	mail      usecase.CredentialMailUseCase
	processor usecase.ConfirmationProcessor
}

func newConfirmationFixture() *confirmationFixture {
	f := &confirmationFixture{
		tm:        NewMockTxManager(),
		payments:  NewMockPaymentRepo(),
		accounts:  NewMockAccountRepo(),
		emails:    NewMockCredentialEmailRepo(),
		mailer:    &MockMailer{},
		alerter:   &MockAlerter{},
		generator: &countingGenerator{},
	}
	issuer := usecase.NewCredentialIssuer(mockHasher{}, mockSealer{}, f.generator.Generate, 12)
	policy := usecase.RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Nanosecond, MaxBackoff: time.Nanosecond}
	f.mail = usecase.NewCredentialMailUseCase(f.tm, f.emails, f.accounts, issuer, f.mailer, f.alerter, policy, newTestLogger())
	f.processor = usecase.NewConfirmationProcessor(f.tm, f.payments, f.accounts, f.emails, issuer, f.mail, newTestLogger())
	return f
}

// seed stores a pending account "acc-1" and its pending payment for orderID.
func (f *confirmationFixture) seed(orderID string) (*model.Account, *model.Payment) {
	ctx := context.Background()
	acc, err := model.NewAccount("acc-1", "member@example.com", "Ivan", "")
	if err != nil {
		panic(err)
	}
	_ = f.accounts.Save(ctx, nil, acc)
	p, err := model.NewPendingPayment(orderID, acc.ID, 1000, "P1", "https://pay/x", "Test")
	if err != nil {
		panic(err)
	}
	_ = f.payments.Save(ctx, nil, p)
	return acc, p
}

func notification(orderID string, success bool, status string) model.Notification {
	n := model.Notification{TerminalKey: "TestTerminal", OrderID: orderID, Success: success, Status: status, PaymentID: "P1", Amount: 1000}
	n.Raw, _ = json.Marshal(n)
	return n
}
