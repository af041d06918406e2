package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	BorrowingStatusActive   = "ACTIVE"
	BorrowingStatusReturned = "RETURNED"

	// BorrowingStatusOverdue is a projection over the due date, never stored.
	BorrowingStatusOverdue = "OVERDUE"
)

// Borrowing represents a book on loan to a user.
type Borrowing struct {
	ID                 uuid.UUID  `json:"id" db:"id"`
	BookID             uuid.UUID  `json:"book_id" db:"book_id"`
	UserID             uuid.UUID  `json:"user_id" db:"user_id"`
	BorrowDate         time.Time  `json:"borrow_date" db:"borrow_date"`
	ExpectedReturnDate time.Time  `json:"expected_return_date" db:"expected_return_date"`
	ActualReturnDate   *time.Time `json:"actual_return_date,omitempty" db:"actual_return_date"`
	Status             string     `json:"status" db:"status"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// EffectiveStatus reports the status as seen by callers: an active borrowing
// whose due date has passed reads as OVERDUE without a stored transition.
// The clock is floored to its calendar day, not to a UTC epoch multiple, so
// non-UTC clocks classify correctly around midnight.
func (b *Borrowing) EffectiveStatus(now time.Time) string {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if b.Status == BorrowingStatusActive && today.After(b.ExpectedReturnDate) {
		return BorrowingStatusOverdue
	}
	return b.Status
}

// Actor identifies the authenticated caller of an operation.
type Actor struct {
	UserID  uuid.UUID
	IsStaff bool
}

// DTOs for requests and responses

type CreateBorrowingRequest struct {
	BookID             uuid.UUID `json:"book_id" validate:"required"`
	ExpectedReturnDate time.Time `json:"expected_return_date" validate:"required"`
}

type BorrowingResponse struct {
	Borrowing *Borrowing `json:"borrowing"`
	Status    string     `json:"status"`
}

type ReturnBorrowingResponse struct {
	Borrowing *Borrowing `json:"borrowing"`
	Payments  []*Payment `json:"payments"`
}

// BorrowingFilter narrows borrowing listings; nil fields are ignored.
type BorrowingFilter struct {
	UserID *uuid.UUID
	Active *bool
}
