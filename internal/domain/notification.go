package domain

import (
	"time"

	"github.com/google/uuid"
)

// Notification event kinds.
const (
	EventBorrowCreated    = "BORROW_CREATED"
	EventDueSoon          = "DUE_SOON"
	EventOverdue          = "OVERDUE"
	EventPaymentSucceeded = "PAYMENT_SUCCEEDED"
)

// NotificationRecord marks a reminder as sent for one (borrowing, kind,
// due date) occurrence. The unique key on those three columns is what keeps
// reminders at-most-once across scheduler restarts and re-runs.
type NotificationRecord struct {
	ID          uuid.UUID `json:"id" db:"id"`
	BorrowingID uuid.UUID `json:"borrowing_id" db:"borrowing_id"`
	Kind        string    `json:"kind" db:"kind"`
	DueDate     time.Time `json:"due_date" db:"due_date"`
	SentAt      time.Time `json:"sent_at" db:"sent_at"`
}
