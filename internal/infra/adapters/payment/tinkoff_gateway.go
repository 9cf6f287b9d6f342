// File: internal/infra/adapters/payment/tinkoff_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"club-membership-gateway/internal/config"
	"club-membership-gateway/internal/domain"
	"club-membership-gateway/internal/domain/model"
	"club-membership-gateway/internal/domain/ports/adapter"
	"club-membership-gateway/internal/infra/logging"
	"club-membership-gateway/internal/infra/metrics"

	"github.com/rs/zerolog"
)

var _ adapter.PaymentGateway = (*TinkoffGateway)(nil)

const (
	opInit     = "init"
	opGetState = "get_state"

	maxResponseBytes = 1 << 20
	defaultTimeout   = 15 * time.Second
)

// TinkoffGateway implements adapter.PaymentGateway against the acquiring REST API (v2).
// Every request is signed with the terminal password; the password itself is never sent.
type TinkoffGateway struct {
	baseURL         string
	terminalKey     string
	password        string
	minAmount       int64
	successURL      string
	failURL         string
	notificationURL string
	client          *http.Client
	log             *zerolog.Logger
}

// NewTinkoffGateway fails with *domain.ConfigurationError when the terminal credentials are missing.
func NewTinkoffGateway(cfg config.GatewayConfig, logger *zerolog.Logger) (*TinkoffGateway, error) {
	if strings.TrimSpace(cfg.TerminalKey) == "" {
		return nil, &domain.ConfigurationError{Field: "gateway.terminal_key", Reason: "is required"}
	}
	if strings.TrimSpace(cfg.Password) == "" {
		return nil, &domain.ConfigurationError{Field: "gateway.password", Reason: "is required"}
	}
	if cfg.BaseURL == "" {
		return nil, &domain.ConfigurationError{Field: "gateway.base_url", Reason: "is required"}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	minAmount := cfg.MinAmount
	if minAmount <= 0 {
		minAmount = config.DefaultMinAmount
	}
	l := logger.With().
		Str("component", "TinkoffGateway").
		Str("terminal_key", cfg.TerminalKey).
		Str("password", logging.RedactSecret(cfg.Password)).
		Logger()

	return &TinkoffGateway{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		terminalKey:     cfg.TerminalKey,
		password:        cfg.Password,
		minAmount:       minAmount,
		successURL:      cfg.SuccessURL,
		failURL:         cfg.FailURL,
		notificationURL: cfg.NotificationURL,
		client:          &http.Client{Timeout: timeout},
		log:             &l,
	}, nil
}

// WithHTTPClient swaps the underlying client (tests, custom transports).
func (g *TinkoffGateway) WithHTTPClient(c *http.Client) *TinkoffGateway {
	if c != nil {
		g.client = c
	}
	return g
}

func (g *TinkoffGateway) Name() string { return "tinkoff" }

// ----- wire types -----

type initRequest struct {
	TerminalKey     string         `json:"TerminalKey"`
	Amount          int64          `json:"Amount"`
	OrderID         string         `json:"OrderId"`
	Description     string         `json:"Description,omitempty"`
	SuccessURL      string         `json:"SuccessURL,omitempty"`
	FailURL         string         `json:"FailURL,omitempty"`
	NotificationURL string         `json:"NotificationURL,omitempty"`
	Token           string         `json:"Token"`
	Data            *model.Contact `json:"DATA,omitempty"`
}

// signingFields lists the Init fields that take part in the token. DATA is a nested object
// and never signed; empty optional fields are omitted from the body and from the token alike.
func (r initRequest) signingFields() Fields {
	f := Fields{
		"TerminalKey": r.TerminalKey,
		"Amount":      r.Amount,
		"OrderId":     r.OrderID,
	}
	optional := map[string]string{
		"Description":     r.Description,
		"SuccessURL":      r.SuccessURL,
		"FailURL":         r.FailURL,
		"NotificationURL": r.NotificationURL,
	}
	for k, v := range optional {
		if v != "" {
			f[k] = v
		}
	}
	return f
}

type getStateRequest struct {
	TerminalKey string `json:"TerminalKey"`
	PaymentID   string `json:"PaymentId"`
	Token       string `json:"Token"`
}

func (r getStateRequest) signingFields() Fields {
	return Fields{
		"TerminalKey": r.TerminalKey,
		"PaymentId":   r.PaymentID,
	}
}

// gatewayResponse covers both Init and GetState answers.
type gatewayResponse struct {
	Success     bool             `json:"Success"`
	ErrorCode   string           `json:"ErrorCode"`
	Message     string           `json:"Message"`
	Details     string           `json:"Details"`
	TerminalKey string           `json:"TerminalKey"`
	Status      string           `json:"Status"`
	PaymentID   model.FlexString `json:"PaymentId"`
	OrderID     string           `json:"OrderId"`
	Amount      int64            `json:"Amount"`
	PaymentURL  string           `json:"PaymentURL"`
}

// ----- operations -----

// Init signs the intent and asks the gateway for a payment form URL.
func (g *TinkoffGateway) Init(ctx context.Context, intent model.PaymentIntent) (*model.Initiated, error) {
	if err := g.validate(intent); err != nil {
		metrics.ObserveGatewayCall(opInit, "invalid", 0)
		return nil, err
	}

	req := initRequest{
		TerminalKey:     g.terminalKey,
		Amount:          intent.Amount,
		OrderID:         intent.OrderID,
		Description:     model.TruncateDescription(intent.Description),
		SuccessURL:      firstNonEmpty(intent.SuccessURL, g.successURL),
		FailURL:         firstNonEmpty(intent.FailURL, g.failURL),
		NotificationURL: firstNonEmpty(intent.NotificationURL, g.notificationURL),
	}
	if intent.Contact != nil && (intent.Contact.Email != "" || intent.Contact.Phone != "") {
		req.Data = intent.Contact
	}
	req.Token = Sign(req.signingFields(), g.password)

	resp, err := g.call(ctx, opInit, "/Init", req)
	if err != nil {
		return nil, err
	}
	if resp.PaymentID == "" || resp.PaymentURL == "" {
		metrics.ObserveGatewayCall(opInit, "transport", 0)
		return nil, &domain.TransportError{Op: opInit, Cause: errors.New("success response without PaymentId or PaymentURL")}
	}

	g.log.Info().
		Str("order_id", req.OrderID).
		Str("payment_id", resp.PaymentID.String()).
		Int64("amount", req.Amount).
		Msg("payment initiated")

	out := &model.Initiated{
		PaymentID:  resp.PaymentID.String(),
		PaymentURL: resp.PaymentURL,
		OrderID:    firstNonEmpty(resp.OrderID, req.OrderID),
		Amount:     resp.Amount,
		Status:     resp.Status,
	}
	if out.Amount == 0 {
		out.Amount = req.Amount
	}
	return out, nil
}

// GetState asks the gateway for the current status of a payment.
func (g *TinkoffGateway) GetState(ctx context.Context, paymentID string) (*model.PaymentState, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, &domain.ValidationError{Field: "payment_id", Reason: "is required"}
	}
	req := getStateRequest{TerminalKey: g.terminalKey, PaymentID: paymentID}
	req.Token = Sign(req.signingFields(), g.password)

	resp, err := g.call(ctx, opGetState, "/GetState", req)
	if err != nil {
		return nil, err
	}
	return &model.PaymentState{
		PaymentID: firstNonEmpty(resp.PaymentID.String(), paymentID),
		OrderID:   resp.OrderID,
		Status:    resp.Status,
		Success:   resp.Success,
		Amount:    resp.Amount,
	}, nil
}

// VerifyNotification recomputes the token of an inbound notification body.
func (g *TinkoffGateway) VerifyNotification(fields map[string]any, token string) bool {
	return Verify(Fields(fields), g.password, token)
}

func (g *TinkoffGateway) validate(intent model.PaymentIntent) error {
	if g.terminalKey == "" {
		return &domain.ValidationError{Field: "terminal_key", Reason: "is required"}
	}
	if intent.Amount < g.minAmount {
		return &domain.ValidationError{Field: "amount", Reason: fmt.Sprintf("must be at least %d", g.minAmount)}
	}
	if !ValidOrderID(intent.OrderID) {
		return &domain.ValidationError{Field: "order_id", Reason: "must be 1-36 latin letters or digits"}
	}
	return nil
}

// call posts body to path and decodes the answer into the gateway's error taxonomy.
func (g *TinkoffGateway) call(ctx context.Context, op, path string, body any) (*gatewayResponse, error) {
	start := time.Now()
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", op, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, &domain.TransportError{Op: op, Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		metrics.ObserveGatewayCall(op, "transport", time.Since(start))
		g.log.Warn().Err(err).Str("op", op).Msg("gateway unreachable")
		return nil, &domain.TransportError{Op: op, Cause: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		metrics.ObserveGatewayCall(op, "transport", time.Since(start))
		return nil, &domain.TransportError{Op: op, Cause: fmt.Errorf("read body: %w", err)}
	}

	var resp gatewayResponse
	decodeErr := json.Unmarshal(raw, &resp)
	wellFormedError := decodeErr == nil && resp.ErrorCode != "" && resp.ErrorCode != "0"

	switch {
	case wellFormedError || (decodeErr == nil && !resp.Success && httpResp.StatusCode < 300):
		metrics.ObserveGatewayCall(op, "rejected", time.Since(start))
		g.log.Warn().
			Str("op", op).
			Str("error_code", resp.ErrorCode).
			Str("message", resp.Message).
			Str("details", resp.Details).
			Msg("gateway rejected request")
		return nil, &domain.GatewayRejectedError{Code: resp.ErrorCode, Message: resp.Message, Details: resp.Details}
	case httpResp.StatusCode >= 300:
		metrics.ObserveGatewayCall(op, "transport", time.Since(start))
		return nil, &domain.TransportError{Op: op, Cause: fmt.Errorf("unexpected http status %d", httpResp.StatusCode)}
	case decodeErr != nil:
		metrics.ObserveGatewayCall(op, "transport", time.Since(start))
		return nil, &domain.TransportError{Op: op, Cause: fmt.Errorf("decode response: %w", decodeErr)}
	}

	metrics.ObserveGatewayCall(op, "ok", time.Since(start))
	return &resp, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
