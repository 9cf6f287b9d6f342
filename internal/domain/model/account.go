package model

import (
	"net/mail"
	"strings"
	"time"

	"club-membership-gateway/internal/domain"

	"github.com/google/uuid"
)

type MembershipStatus string

const (
	MembershipPendingPayment MembershipStatus = "pending_payment"
	MembershipActive         MembershipStatus = "active"
)

// Account is a club member. Credentials stay empty until the first confirmed payment.
type Account struct {
	ID                string
	Email             string
	DisplayName       string
	Phone             string
	MembershipStatus  MembershipStatus
	Login             *string
	PasswordHash      *string // argon2id, used for sign-in
	PasswordCipher    *string // AES-GCM of the plaintext, used only to deliver credentials
	ExternalPaymentID *string
	CredentialsSentAt *time.Time
	ActivatedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func NewAccount(id, email, displayName, phone string) (*Account, error) {
	if id == "" {
		id = uuid.NewString()
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Account{
		ID:               id,
		Email:            strings.ToLower(addr.Address),
		DisplayName:      strings.TrimSpace(displayName),
		Phone:            strings.TrimSpace(phone),
		MembershipStatus: MembershipPendingPayment,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (a *Account) IsActive() bool       { return a != nil && a.MembershipStatus == MembershipActive }
func (a *Account) HasCredentials() bool { return a != nil && a.PasswordHash != nil && *a.PasswordHash != "" }

// LoginName is the login issued with credentials: the normalized email address.
func (a *Account) LoginName() string {
	if a.Login != nil && *a.Login != "" {
		return *a.Login
	}
	return strings.ToLower(strings.TrimSpace(a.Email))
}

// Greeting returns the name used in customer-facing messages.
func (a *Account) Greeting() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Email
}
