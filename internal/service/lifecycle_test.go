package service

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/booklend/lending-engine/internal/config"
	"github.com/booklend/lending-engine/internal/domain"
	"github.com/booklend/lending-engine/internal/gateway"
	apperrors "github.com/booklend/lending-engine/pkg/errors"
	"github.com/booklend/lending-engine/tests/mocks"
)

func testConfig() *config.Config {
	return &config.Config{
		Business: config.BusinessConfig{
			FineMultiplier:     "1.0",
			ReminderWindowDays: 1,
			SessionTTL:         "24h",
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

type lifecycleFixture struct {
	borrowingRepo *mocks.MockBorrowingRepository
	paymentRepo   *mocks.MockPaymentRepository
	bookRepo      *mocks.MockBookRepository
	userRepo      *mocks.MockUserRepository
	gateway       *mocks.MockCheckoutGateway
	dispatcher    *mocks.MockDispatcher
	service       *LifecycleService
}

func newLifecycleFixture(now time.Time) *lifecycleFixture {
	f := &lifecycleFixture{
		borrowingRepo: &mocks.MockBorrowingRepository{},
		paymentRepo:   &mocks.MockPaymentRepository{},
		bookRepo:      &mocks.MockBookRepository{},
		userRepo:      &mocks.MockUserRepository{},
		gateway:       &mocks.MockCheckoutGateway{},
		dispatcher:    &mocks.MockDispatcher{},
	}
	f.service = NewLifecycleService(
		f.borrowingRepo, f.paymentRepo, f.bookRepo, f.userRepo,
		f.gateway, f.dispatcher, testConfig(), testLogger(), fixedClock(now),
	)
	return f
}

func TestReturn_LateReturnCreatesBaseAndFinePayments(t *testing.T) {
	// Borrowed 2024-01-05, due 2024-01-10, returned 2024-01-13 at daily fee
	// 2.00: base charge 16.00 (8 days), fine 6.00 (3 days late).
	now := time.Date(2024, 1, 13, 10, 0, 0, 0, time.UTC)
	f := newLifecycleFixture(now)

	borrowingID := uuid.New()
	bookID := uuid.New()
	returned := &domain.Borrowing{
		ID:                 borrowingID,
		BookID:             bookID,
		UserID:             uuid.New(),
		BorrowDate:         time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		ExpectedReturnDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		ActualReturnDate:   &now,
		Status:             domain.BorrowingStatusReturned,
	}

	f.borrowingRepo.On("MarkReturned", mock.Anything, borrowingID, now).Return(returned, nil)
	f.bookRepo.On("GetByID", mock.Anything, bookID).Return(&domain.Book{
		ID:       bookID,
		DailyFee: decimal.NewFromFloat(2.00),
	}, nil)
	f.gateway.On("CreateSession", mock.Anything, mock.Anything, mock.Anything).
		Return(&gateway.CheckoutSession{ID: "cs_test", URL: "https://checkout/cs_test", ExpiresAt: now.Add(24 * time.Hour)}, nil)
	f.paymentRepo.On("Create", mock.Anything, mock.Anything).Return(nil)

	result, err := f.service.Return(context.Background(), domain.Actor{UserID: uuid.New(), IsStaff: true}, borrowingID)

	assert.NoError(t, err)
	assert.Len(t, result.Payments, 2)

	base, fine := result.Payments[0], result.Payments[1]
	assert.Equal(t, domain.PaymentTypePayment, base.Type)
	assert.True(t, base.Amount.Equal(decimal.NewFromFloat(16.00)), "base %s", base.Amount)
	assert.Equal(t, domain.PaymentTypeFine, fine.Type)
	assert.True(t, fine.Amount.Equal(decimal.NewFromFloat(6.00)), "fine %s", fine.Amount)
	assert.Equal(t, domain.PaymentStatusPending, base.Status)
	assert.Equal(t, "cs_test", base.SessionID)

	f.borrowingRepo.AssertExpectations(t)
	f.paymentRepo.AssertNumberOfCalls(t, "Create", 2)
}

func TestReturn_OnTimeCreatesOnlyBasePayment(t *testing.T) {
	now := time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC)
	f := newLifecycleFixture(now)

	borrowingID := uuid.New()
	bookID := uuid.New()
	returned := &domain.Borrowing{
		ID:                 borrowingID,
		BookID:             bookID,
		BorrowDate:         time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		ExpectedReturnDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		ActualReturnDate:   &now,
		Status:             domain.BorrowingStatusReturned,
	}

	f.borrowingRepo.On("MarkReturned", mock.Anything, borrowingID, now).Return(returned, nil)
	f.bookRepo.On("GetByID", mock.Anything, bookID).Return(&domain.Book{ID: bookID, DailyFee: decimal.NewFromFloat(2.00)}, nil)
	f.gateway.On("CreateSession", mock.Anything, mock.Anything, mock.Anything).
		Return(&gateway.CheckoutSession{ID: "cs_base", URL: "u", ExpiresAt: now.Add(time.Hour)}, nil)
	f.paymentRepo.On("Create", mock.Anything, mock.Anything).Return(nil)

	result, err := f.service.Return(context.Background(), domain.Actor{IsStaff: true}, borrowingID)

	assert.NoError(t, err)
	assert.Len(t, result.Payments, 1)
	assert.Equal(t, domain.PaymentTypePayment, result.Payments[0].Type)
}

func TestReturn_SecondAttemptFailsWithInvalidState(t *testing.T) {
	now := time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC)
	f := newLifecycleFixture(now)

	borrowingID := uuid.New()
	f.borrowingRepo.On("MarkReturned", mock.Anything, borrowingID, now).
		Return(nil, apperrors.ErrAlreadyReturned)

	_, err := f.service.Return(context.Background(), domain.Actor{IsStaff: true}, borrowingID)

	assert.Equal(t, apperrors.ErrCodeInvalidState, apperrors.CodeOf(err))
	f.paymentRepo.AssertNotCalled(t, "Create")
}

func TestReturn_UnknownBorrowingFailsWithNotFound(t *testing.T) {
	now := time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC)
	f := newLifecycleFixture(now)

	borrowingID := uuid.New()
	f.borrowingRepo.On("MarkReturned", mock.Anything, borrowingID, now).Return(nil, sql.ErrNoRows)

	_, err := f.service.Return(context.Background(), domain.Actor{IsStaff: true}, borrowingID)

	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
}

func TestReturn_RequiresStaffCapability(t *testing.T) {
	f := newLifecycleFixture(time.Now())

	_, err := f.service.Return(context.Background(), domain.Actor{UserID: uuid.New()}, uuid.New())

	assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.CodeOf(err))
	f.borrowingRepo.AssertNotCalled(t, "MarkReturned")
}

func TestReturn_GatewayDownStillCommitsReturn(t *testing.T) {
	now := time.Date(2024, 1, 13, 10, 0, 0, 0, time.UTC)
	f := newLifecycleFixture(now)

	borrowingID := uuid.New()
	bookID := uuid.New()
	returned := &domain.Borrowing{
		ID:                 borrowingID,
		BookID:             bookID,
		BorrowDate:         time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		ExpectedReturnDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		ActualReturnDate:   &now,
		Status:             domain.BorrowingStatusReturned,
	}

	f.borrowingRepo.On("MarkReturned", mock.Anything, borrowingID, now).Return(returned, nil)
	f.bookRepo.On("GetByID", mock.Anything, bookID).Return(&domain.Book{ID: bookID, DailyFee: decimal.NewFromFloat(2.00)}, nil)
	f.gateway.On("CreateSession", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, apperrors.WrapGatewayUnavailable(assert.AnError))
	f.paymentRepo.On("Create", mock.Anything, mock.Anything).Return(nil)

	result, err := f.service.Return(context.Background(), domain.Actor{IsStaff: true}, borrowingID)

	assert.NoError(t, err)
	assert.Equal(t, domain.BorrowingStatusReturned, result.Borrowing.Status)
	assert.Len(t, result.Payments, 2)
	for _, p := range result.Payments {
		assert.Empty(t, p.SessionID, "payment stays sessionless and renewable")
		assert.Equal(t, domain.PaymentStatusPending, p.Status)
	}
}

func TestReturn_ObligationRecordingFailureDoesNotMaskCommittedReturn(t *testing.T) {
	now := time.Date(2024, 1, 13, 10, 0, 0, 0, time.UTC)
	f := newLifecycleFixture(now)

	borrowingID := uuid.New()
	bookID := uuid.New()
	returned := &domain.Borrowing{
		ID:                 borrowingID,
		BookID:             bookID,
		BorrowDate:         time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		ExpectedReturnDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		ActualReturnDate:   &now,
		Status:             domain.BorrowingStatusReturned,
	}

	f.borrowingRepo.On("MarkReturned", mock.Anything, borrowingID, now).Return(returned, nil)
	f.bookRepo.On("GetByID", mock.Anything, bookID).Return(&domain.Book{ID: bookID, DailyFee: decimal.NewFromFloat(2.00)}, nil)
	f.gateway.On("CreateSession", mock.Anything, mock.Anything, mock.Anything).
		Return(&gateway.CheckoutSession{ID: "cs_test", URL: "u", ExpiresAt: now.Add(time.Hour)}, nil)
	f.paymentRepo.On("Create", mock.Anything, mock.Anything).Return(assert.AnError)

	result, err := f.service.Return(context.Background(), domain.Actor{IsStaff: true}, borrowingID)

	// The status flip and inventory restore already committed; the response
	// reports that state instead of an error the caller cannot act on.
	assert.NoError(t, err)
	assert.Equal(t, domain.BorrowingStatusReturned, result.Borrowing.Status)
	assert.Empty(t, result.Payments)
}

func TestBorrow_OutOfStockFailsWithInvalidState(t *testing.T) {
	now := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	f := newLifecycleFixture(now)

	bookID := uuid.New()
	f.bookRepo.On("GetByID", mock.Anything, bookID).Return(&domain.Book{ID: bookID}, nil)
	f.borrowingRepo.On("Create", mock.Anything, mock.Anything).Return(apperrors.ErrBookOutOfStock)

	_, err := f.service.Borrow(context.Background(), domain.Actor{UserID: uuid.New()}, &domain.CreateBorrowingRequest{
		BookID:             bookID,
		ExpectedReturnDate: now.AddDate(0, 0, 7),
	})

	assert.Equal(t, apperrors.ErrCodeInvalidState, apperrors.CodeOf(err))
}

func TestBorrow_NotifiesBorrower(t *testing.T) {
	now := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	f := newLifecycleFixture(now)

	bookID := uuid.New()
	userID := uuid.New()
	chatID := int64(42)

	f.bookRepo.On("GetByID", mock.Anything, bookID).Return(&domain.Book{ID: bookID}, nil)
	f.borrowingRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.userRepo.On("GetByID", mock.Anything, userID).Return(&domain.User{ID: userID, TelegramChatID: &chatID}, nil)
	f.dispatcher.On("Send", mock.Anything, chatID, domain.EventBorrowCreated, mock.Anything).Return(nil)

	borrowing, err := f.service.Borrow(context.Background(), domain.Actor{UserID: userID}, &domain.CreateBorrowingRequest{
		BookID:             bookID,
		ExpectedReturnDate: now.AddDate(0, 0, 7),
	})

	assert.NoError(t, err)
	assert.Equal(t, domain.BorrowingStatusActive, borrowing.Status)
	f.dispatcher.AssertNumberOfCalls(t, "Send", 1)
}

func TestBorrow_DispatchFailureDoesNotFailBorrow(t *testing.T) {
	now := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	f := newLifecycleFixture(now)

	bookID := uuid.New()
	userID := uuid.New()
	chatID := int64(42)

	f.bookRepo.On("GetByID", mock.Anything, bookID).Return(&domain.Book{ID: bookID}, nil)
	f.borrowingRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.userRepo.On("GetByID", mock.Anything, userID).Return(&domain.User{ID: userID, TelegramChatID: &chatID}, nil)
	f.dispatcher.On("Send", mock.Anything, chatID, domain.EventBorrowCreated, mock.Anything).Return(apperrors.WrapDispatchFailure(assert.AnError))

	_, err := f.service.Borrow(context.Background(), domain.Actor{UserID: userID}, &domain.CreateBorrowingRequest{
		BookID:             bookID,
		ExpectedReturnDate: now.AddDate(0, 0, 7),
	})

	assert.NoError(t, err)
}

func TestRenew_PaidPaymentFailsWithInvalidState(t *testing.T) {
	now := time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC)
	f := newLifecycleFixture(now)

	paymentID := uuid.New()
	borrowingID := uuid.New()
	userID := uuid.New()

	f.paymentRepo.On("GetByID", mock.Anything, paymentID).Return(&domain.Payment{
		ID:          paymentID,
		BorrowingID: borrowingID,
		Status:      domain.PaymentStatusPaid,
	}, nil)
	f.borrowingRepo.On("GetByID", mock.Anything, borrowingID).Return(&domain.Borrowing{ID: borrowingID, UserID: userID}, nil)

	_, err := f.service.Renew(context.Background(), domain.Actor{UserID: userID}, paymentID)

	assert.Equal(t, apperrors.ErrCodeInvalidState, apperrors.CodeOf(err))
	f.gateway.AssertNotCalled(t, "CreateSession")
}

func TestRenew_LiveSessionFailsWithInvalidState(t *testing.T) {
	now := time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC)
	f := newLifecycleFixture(now)

	paymentID := uuid.New()
	borrowingID := uuid.New()
	userID := uuid.New()
	liveUntil := now.Add(time.Hour)

	f.paymentRepo.On("GetByID", mock.Anything, paymentID).Return(&domain.Payment{
		ID:               paymentID,
		BorrowingID:      borrowingID,
		Status:           domain.PaymentStatusPending,
		SessionID:        "cs_live",
		SessionExpiresAt: &liveUntil,
	}, nil)
	f.borrowingRepo.On("GetByID", mock.Anything, borrowingID).Return(&domain.Borrowing{ID: borrowingID, UserID: userID}, nil)

	_, err := f.service.Renew(context.Background(), domain.Actor{UserID: userID}, paymentID)

	assert.Equal(t, apperrors.ErrCodeInvalidState, apperrors.CodeOf(err))
}

func TestRenew_ExpiredPaymentGetsFreshSession(t *testing.T) {
	now := time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC)
	f := newLifecycleFixture(now)

	paymentID := uuid.New()
	borrowingID := uuid.New()
	userID := uuid.New()

	expired := &domain.Payment{
		ID:          paymentID,
		BorrowingID: borrowingID,
		Type:        domain.PaymentTypeFine,
		Amount:      decimal.NewFromFloat(6.00),
		SessionID:   "cs_old",
		Status:      domain.PaymentStatusExpired,
	}
	renewed := &domain.Payment{
		ID:          paymentID,
		BorrowingID: borrowingID,
		Type:        domain.PaymentTypeFine,
		Amount:      decimal.NewFromFloat(6.00),
		SessionID:   "cs_new",
		Status:      domain.PaymentStatusPending,
	}

	f.paymentRepo.On("GetByID", mock.Anything, paymentID).Return(expired, nil).Once()
	f.borrowingRepo.On("GetByID", mock.Anything, borrowingID).Return(&domain.Borrowing{ID: borrowingID, UserID: userID}, nil)
	f.gateway.On("CreateSession", mock.Anything, mock.Anything, mock.Anything).
		Return(&gateway.CheckoutSession{ID: "cs_new", URL: "https://checkout/cs_new", ExpiresAt: now.Add(24 * time.Hour)}, nil)
	f.paymentRepo.On("RenewSession", mock.Anything, paymentID, "cs_new", "https://checkout/cs_new", mock.Anything).Return(nil)
	f.paymentRepo.On("GetByID", mock.Anything, paymentID).Return(renewed, nil)

	result, err := f.service.Renew(context.Background(), domain.Actor{UserID: userID}, paymentID)

	assert.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, result.Status)
	assert.Equal(t, "cs_new", result.SessionID)
	assert.NotEqual(t, expired.SessionID, result.SessionID)
}

func TestRenew_OtherUsersPaymentIsForbidden(t *testing.T) {
	now := time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC)
	f := newLifecycleFixture(now)

	paymentID := uuid.New()
	borrowingID := uuid.New()

	f.paymentRepo.On("GetByID", mock.Anything, paymentID).Return(&domain.Payment{
		ID:          paymentID,
		BorrowingID: borrowingID,
		Status:      domain.PaymentStatusExpired,
	}, nil)
	f.borrowingRepo.On("GetByID", mock.Anything, borrowingID).Return(&domain.Borrowing{ID: borrowingID, UserID: uuid.New()}, nil)

	_, err := f.service.Renew(context.Background(), domain.Actor{UserID: uuid.New()}, paymentID)

	assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.CodeOf(err))
	f.gateway.AssertNotCalled(t, "CreateSession")
}

func TestGetBorrowing_OverdueIsDerivedFromDates(t *testing.T) {
	now := time.Date(2024, 1, 13, 10, 0, 0, 0, time.UTC)
	f := newLifecycleFixture(now)

	borrowingID := uuid.New()
	userID := uuid.New()
	f.borrowingRepo.On("GetByID", mock.Anything, borrowingID).Return(&domain.Borrowing{
		ID:                 borrowingID,
		UserID:             userID,
		ExpectedReturnDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		Status:             domain.BorrowingStatusActive,
	}, nil)

	result, err := f.service.GetBorrowing(context.Background(), domain.Actor{UserID: userID}, borrowingID)

	assert.NoError(t, err)
	assert.Equal(t, domain.BorrowingStatusOverdue, result.Status)
	assert.Equal(t, domain.BorrowingStatusActive, result.Borrowing.Status)
}

func TestGetBorrowing_OtherUsersRecordReadsAsNotFound(t *testing.T) {
	f := newLifecycleFixture(time.Now())

	borrowingID := uuid.New()
	f.borrowingRepo.On("GetByID", mock.Anything, borrowingID).Return(&domain.Borrowing{
		ID:     borrowingID,
		UserID: uuid.New(),
		Status: domain.BorrowingStatusActive,
	}, nil)

	_, err := f.service.GetBorrowing(context.Background(), domain.Actor{UserID: uuid.New()}, borrowingID)

	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
}

func TestListBorrowings_NonStaffIsPinnedToOwnRecords(t *testing.T) {
	f := newLifecycleFixture(time.Now())

	userID := uuid.New()
	f.borrowingRepo.On("List", mock.Anything, mock.MatchedBy(func(filter domain.BorrowingFilter) bool {
		return filter.UserID != nil && *filter.UserID == userID
	})).Return([]*domain.Borrowing{}, nil)

	_, err := f.service.ListBorrowings(context.Background(), domain.Actor{UserID: userID}, domain.BorrowingFilter{})

	assert.NoError(t, err)
	f.borrowingRepo.AssertExpectations(t)
}
