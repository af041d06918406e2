package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/booklend/lending-engine/internal/domain"
)

type MockBorrowingRepository struct {
	mock.Mock
}

func (m *MockBorrowingRepository) Create(ctx context.Context, borrowing *domain.Borrowing) error {
	args := m.Called(ctx, borrowing)
	return args.Error(0)
}

func (m *MockBorrowingRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Borrowing, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Borrowing), args.Error(1)
}

func (m *MockBorrowingRepository) List(ctx context.Context, filter domain.BorrowingFilter) ([]*domain.Borrowing, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Borrowing), args.Error(1)
}

func (m *MockBorrowingRepository) MarkReturned(ctx context.Context, id uuid.UUID, returnedAt time.Time) (*domain.Borrowing, error) {
	args := m.Called(ctx, id, returnedAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Borrowing), args.Error(1)
}

func (m *MockBorrowingRepository) ListDueSoonUnnotified(ctx context.Context, windowStart, windowEnd time.Time) ([]*domain.Borrowing, error) {
	args := m.Called(ctx, windowStart, windowEnd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Borrowing), args.Error(1)
}

func (m *MockBorrowingRepository) ListOverdueUnnotified(ctx context.Context, asOf time.Time) ([]*domain.Borrowing, error) {
	args := m.Called(ctx, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Borrowing), args.Error(1)
}

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *MockPaymentRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.Payment, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *MockPaymentRepository) List(ctx context.Context, filter domain.PaymentFilter) ([]*domain.Payment, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Payment), args.Error(1)
}

func (m *MockPaymentRepository) MarkPaidIfPending(ctx context.Context, sessionID string) (*domain.Payment, bool, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.Payment), args.Bool(1), args.Error(2)
}

func (m *MockPaymentRepository) MarkExpiredIfPending(ctx context.Context, sessionID string) (bool, error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockPaymentRepository) RenewSession(ctx context.Context, id uuid.UUID, sessionID, sessionURL string, expiresAt *time.Time) error {
	args := m.Called(ctx, id, sessionID, sessionURL, expiresAt)
	return args.Error(0)
}

func (m *MockPaymentRepository) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

type MockBookRepository struct {
	mock.Mock
}

func (m *MockBookRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Book), args.Error(1)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

type MockNotificationRepository struct {
	mock.Mock
}

func (m *MockNotificationRepository) MarkSent(ctx context.Context, borrowingID uuid.UUID, kind string, dueDate time.Time, sentAt time.Time) (bool, error) {
	args := m.Called(ctx, borrowingID, kind, dueDate, sentAt)
	return args.Bool(0), args.Error(1)
}
