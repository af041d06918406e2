package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/booklend/lending-engine/internal/domain"
)

// BorrowingRepository defines the interface for borrowing data operations.
// Mutations that touch book inventory run inside a single transaction so the
// status flip and the stock movement cannot drift apart.
type BorrowingRepository interface {
	// Create inserts an active borrowing and decrements the book's inventory
	// in one transaction. Returns errors.ErrBookOutOfStock when no copies
	// are left.
	Create(ctx context.Context, borrowing *domain.Borrowing) error

	// GetByID retrieves a borrowing by its identifier
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Borrowing, error)

	// List retrieves borrowings matching the filter, newest first
	List(ctx context.Context, filter domain.BorrowingFilter) ([]*domain.Borrowing, error)

	// MarkReturned flips ACTIVE -> RETURNED, sets the actual return date and
	// restores one unit of book inventory, all in one transaction. The update
	// is conditional on the current status: a borrowing already returned
	// yields errors.ErrAlreadyReturned, an unknown id sql.ErrNoRows.
	MarkReturned(ctx context.Context, id uuid.UUID, returnedAt time.Time) (*domain.Borrowing, error)

	// ListDueSoonUnnotified retrieves active borrowings due within the window
	// that have no DUE_SOON record for their due date yet
	ListDueSoonUnnotified(ctx context.Context, windowStart, windowEnd time.Time) ([]*domain.Borrowing, error)

	// ListOverdueUnnotified retrieves active borrowings past their due date
	// that have no OVERDUE record for their due date yet
	ListOverdueUnnotified(ctx context.Context, asOf time.Time) ([]*domain.Borrowing, error)
}

// PaymentRepository defines the interface for payment data operations.
// All status transitions are conditional updates keyed on the current stored
// status, so replays and races collapse into no-ops.
type PaymentRepository interface {
	// Create inserts a new payment record. A live payment already covering
	// the same (borrowing, type) obligation yields errors.ErrDuplicateObligation.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByID retrieves a payment by its identifier
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)

	// GetBySessionID retrieves the payment holding the given checkout session
	GetBySessionID(ctx context.Context, sessionID string) (*domain.Payment, error)

	// List retrieves payments matching the filter, newest first
	List(ctx context.Context, filter domain.PaymentFilter) ([]*domain.Payment, error)

	// MarkPaidIfPending flips PENDING -> PAID for the session's payment.
	// The bool reports whether this call applied the transition; false with a
	// nil error means the payment was already PAID.
	MarkPaidIfPending(ctx context.Context, sessionID string) (*domain.Payment, bool, error)

	// MarkExpiredIfPending flips PENDING -> EXPIRED for the session's payment
	MarkExpiredIfPending(ctx context.Context, sessionID string) (bool, error)

	// RenewSession replaces the checkout session fields and moves the payment
	// back to PENDING, conditional on it not being PAID already
	RenewSession(ctx context.Context, id uuid.UUID, sessionID, sessionURL string, expiresAt *time.Time) error

	// ExpireLapsed flips every PENDING payment whose session expiry has
	// passed to EXPIRED, returning how many rows changed
	ExpireLapsed(ctx context.Context, now time.Time) (int64, error)
}

// BookRepository defines read access to catalog entries
type BookRepository interface {
	// GetByID retrieves a book by its identifier
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Book, error)
}

// UserRepository defines read access to borrower records
type UserRepository interface {
	// GetByID retrieves a user by its identifier
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// NotificationRepository records which reminders went out
type NotificationRepository interface {
	// MarkSent records that a (borrowing, kind, due date) notification was
	// delivered. Returns false when a record for the occurrence already
	// exists, which keeps reminders at-most-once across ticks and restarts.
	MarkSent(ctx context.Context, borrowingID uuid.UUID, kind string, dueDate time.Time, sentAt time.Time) (bool, error)
}
