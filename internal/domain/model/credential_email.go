package model

import (
	"time"

	"github.com/google/uuid"
)

type EmailStatus string

const (
	EmailStatusPending EmailStatus = "pending"
	EmailStatusSent    EmailStatus = "sent"
	EmailStatusFailed  EmailStatus = "failed"
)

// CredentialEmail is the outbox row for the one credentials message an activation produces.
type CredentialEmail struct {
	ID            string
	AccountID     string
	OrderID       string
	Status        EmailStatus
	Attempts      int
	LastError     *string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	SentAt        *time.Time
}

func NewCredentialEmail(accountID, orderID string) *CredentialEmail {
	now := time.Now()
	return &CredentialEmail{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		OrderID:       orderID,
		Status:        EmailStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
}

// CredentialMessage is what the mailer needs to tell a member how to sign in.
type CredentialMessage struct {
	To          string
	DisplayName string
	Login       string
	Password    string
}
