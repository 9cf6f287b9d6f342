package model

import "unicode/utf8"

// MaxDescriptionRunes is the gateway's description limit.
const MaxDescriptionRunes = 250

// Contact travels in the request body as a nested object and is not signed.
type Contact struct {
	Email string `json:"Email,omitempty"`
	Phone string `json:"Phone,omitempty"`
}

// PaymentIntent is built per initiation and never persisted.
type PaymentIntent struct {
	Amount          int64
	OrderID         string
	Description     string
	Contact         *Contact
	SuccessURL      string
	FailURL         string
	NotificationURL string
}

// TruncateDescription cuts s to the gateway limit without splitting a character.
func TruncateDescription(s string) string {
	if utf8.RuneCountInString(s) <= MaxDescriptionRunes {
		return s
	}
	r := []rune(s)
	return string(r[:MaxDescriptionRunes])
}

// Initiated is the gateway's answer to a successful Init call.
type Initiated struct {
	PaymentID  string
	PaymentURL string
	OrderID    string
	Amount     int64
	Status     string
}

// PaymentState is the gateway's view of a payment, as reported by GetState.
type PaymentState struct {
	PaymentID string
	OrderID   string
	Status    string
	Success   bool
	Amount    int64
}
