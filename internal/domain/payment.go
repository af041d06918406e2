package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending = "PENDING"
	PaymentStatusPaid    = "PAID"
	PaymentStatusExpired = "EXPIRED"

	PaymentTypePayment = "PAYMENT"
	PaymentTypeFine    = "FINE"
)

// Payment is a monetary obligation tied to one borrowing return event,
// settled through an externally hosted checkout session.
type Payment struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	BorrowingID      uuid.UUID       `json:"borrowing_id" db:"borrowing_id"`
	Type             string          `json:"type" db:"type"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	SessionID        string          `json:"session_id" db:"session_id"`
	SessionURL       string          `json:"session_url" db:"session_url"`
	SessionExpiresAt *time.Time      `json:"session_expires_at,omitempty" db:"session_expires_at"`
	Status           string          `json:"status" db:"status"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// HasUsableSession reports whether the payment holds a checkout session that
// has not lapsed yet.
func (p *Payment) HasUsableSession(now time.Time) bool {
	if p.SessionID == "" {
		return false
	}
	return p.SessionExpiresAt == nil || p.SessionExpiresAt.After(now)
}

// PaymentFilter narrows payment listings; nil fields are ignored.
type PaymentFilter struct {
	UserID      *uuid.UUID
	BorrowingID *uuid.UUID
	Status      *string
}
