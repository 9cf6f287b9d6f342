package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Gateway payment statuses that matter to membership activation.
const (
	GatewayStatusConfirmed       = "CONFIRMED"
	GatewayStatusAuthorized      = "AUTHORIZED"
	GatewayStatusRejected        = "REJECTED"
	GatewayStatusCanceled        = "CANCELED"
	GatewayStatusDeadlineExpired = "DEADLINE_EXPIRED"
	GatewayStatusAuthFail        = "AUTH_FAIL"
	GatewayStatusReversed        = "REVERSED"
)

// Verdict is what a notification means for the payment record.
type Verdict int

const (
	VerdictIntermediate Verdict = iota // keep waiting; store the payload only
	VerdictConfirmed
	VerdictRejected
)

func (v Verdict) String() string {
	switch v {
	case VerdictConfirmed:
		return "confirmed"
	case VerdictRejected:
		return "rejected"
	default:
		return "intermediate"
	}
}

// Classify maps the gateway's (Success, Status) pair onto a verdict.
func Classify(success bool, status string) Verdict {
	st := strings.ToUpper(strings.TrimSpace(status))
	if !success {
		return VerdictRejected
	}
	switch st {
	case GatewayStatusConfirmed:
		return VerdictConfirmed
	case GatewayStatusRejected, GatewayStatusCanceled, GatewayStatusDeadlineExpired,
		GatewayStatusAuthFail, GatewayStatusReversed:
		return VerdictRejected
	default:
		return VerdictIntermediate
	}
}

// FlexString accepts both JSON strings and numbers; the gateway sends PaymentId either way.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// Notification is the gateway's asynchronous payment outcome callback.
type Notification struct {
	TerminalKey string     `json:"TerminalKey"`
	OrderID     string     `json:"OrderId"`
	Success     bool       `json:"Success"`
	Status      string     `json:"Status"`
	PaymentID   FlexString `json:"PaymentId"`
	ErrorCode   string     `json:"ErrorCode,omitempty"`
	Amount      int64      `json:"Amount,omitempty"`
	Token       string     `json:"Token,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (n Notification) Verdict() Verdict { return Classify(n.Success, n.Status) }

type InboxStatus string

const (
	InboxStatusReceived  InboxStatus = "received"  // stored, not yet processed
	InboxStatusProcessed InboxStatus = "processed" // transition applied (or no-op)
	InboxStatusFailed    InboxStatus = "failed"    // retries exhausted; needs an operator
	InboxStatusRejected  InboxStatus = "rejected"  // token mismatch; kept for audit only
)

// InboxEntry is a durably stored notification awaiting (or done with) processing.
type InboxEntry struct {
	ID                string // ULID
	OrderID           string
	ExternalPaymentID string
	Success           bool
	GatewayStatus     string
	Payload           json.RawMessage
	Status            InboxStatus
	Attempts          int
	LastError         *string
	NextAttemptAt     time.Time
	ReceivedAt        time.Time
	ProcessedAt       *time.Time
}

// Notification rebuilds the parsed notification from the stored payload.
func (e *InboxEntry) Notification() (Notification, error) {
	var n Notification
	if err := json.Unmarshal(e.Payload, &n); err != nil {
		return Notification{}, err
	}
	n.Raw = e.Payload
	return n, nil
}
