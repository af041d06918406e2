package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/booklend/lending-engine/internal/domain"
	apperrors "github.com/booklend/lending-engine/pkg/errors"
	"github.com/booklend/lending-engine/tests/mocks"
)

type sweepFixture struct {
	borrowingRepo    *mocks.MockBorrowingRepository
	paymentRepo      *mocks.MockPaymentRepository
	userRepo         *mocks.MockUserRepository
	notificationRepo *mocks.MockNotificationRepository
	dispatcher       *mocks.MockDispatcher
	service          *SweepService
}

func newSweepFixture(now time.Time) *sweepFixture {
	f := &sweepFixture{
		borrowingRepo:    &mocks.MockBorrowingRepository{},
		paymentRepo:      &mocks.MockPaymentRepository{},
		userRepo:         &mocks.MockUserRepository{},
		notificationRepo: &mocks.MockNotificationRepository{},
		dispatcher:       &mocks.MockDispatcher{},
	}
	f.service = NewSweepService(
		f.borrowingRepo, f.paymentRepo, f.userRepo, f.notificationRepo,
		f.dispatcher, testConfig(), testLogger(), fixedClock(now),
	)
	return f
}

func activeBorrowing(userID uuid.UUID, due time.Time) *domain.Borrowing {
	return &domain.Borrowing{
		ID:                 uuid.New(),
		BookID:             uuid.New(),
		UserID:             userID,
		BorrowDate:         due.AddDate(0, 0, -7),
		ExpectedReturnDate: due,
		Status:             domain.BorrowingStatusActive,
	}
}

func TestRun_SendsDueSoonReminderAndMarksIt(t *testing.T) {
	now := time.Date(2024, 1, 9, 12, 0, 0, 0, time.UTC)
	today := time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)
	f := newSweepFixture(now)

	userID := uuid.New()
	chatID := int64(7)
	borrowing := activeBorrowing(userID, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))

	f.borrowingRepo.On("ListDueSoonUnnotified", mock.Anything, today, today.AddDate(0, 0, 1)).
		Return([]*domain.Borrowing{borrowing}, nil)
	f.borrowingRepo.On("ListOverdueUnnotified", mock.Anything, today).Return([]*domain.Borrowing{}, nil)
	f.userRepo.On("GetByID", mock.Anything, userID).Return(&domain.User{ID: userID, TelegramChatID: &chatID}, nil)
	f.dispatcher.On("Send", mock.Anything, chatID, domain.EventDueSoon, mock.Anything).Return(nil)
	f.notificationRepo.On("MarkSent", mock.Anything, borrowing.ID, domain.EventDueSoon, borrowing.ExpectedReturnDate, now).
		Return(true, nil)
	f.paymentRepo.On("ExpireLapsed", mock.Anything, now).Return(int64(0), nil)

	err := f.service.Run(context.Background())

	assert.NoError(t, err)
	f.dispatcher.AssertNumberOfCalls(t, "Send", 1)
	f.notificationRepo.AssertExpectations(t)
}

func TestRun_SecondTickWithoutNewCandidatesSendsNothing(t *testing.T) {
	now := time.Date(2024, 1, 9, 13, 0, 0, 0, time.UTC)
	f := newSweepFixture(now)

	// The notification log filter already excludes everything sent on the
	// previous tick, so the repositories come back empty.
	f.borrowingRepo.On("ListDueSoonUnnotified", mock.Anything, mock.Anything, mock.Anything).
		Return([]*domain.Borrowing{}, nil)
	f.borrowingRepo.On("ListOverdueUnnotified", mock.Anything, mock.Anything).
		Return([]*domain.Borrowing{}, nil)
	f.paymentRepo.On("ExpireLapsed", mock.Anything, mock.Anything).Return(int64(0), nil)

	err := f.service.Run(context.Background())

	assert.NoError(t, err)
	f.dispatcher.AssertNotCalled(t, "Send")
	f.notificationRepo.AssertNotCalled(t, "MarkSent")
}

func TestRun_OneFailedDeliveryDoesNotAbortTheBatch(t *testing.T) {
	now := time.Date(2024, 1, 13, 12, 0, 0, 0, time.UTC)
	today := time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC)
	f := newSweepFixture(now)

	firstUser, secondUser := uuid.New(), uuid.New()
	firstChat, secondChat := int64(1), int64(2)
	first := activeBorrowing(firstUser, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	second := activeBorrowing(secondUser, time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC))

	f.borrowingRepo.On("ListDueSoonUnnotified", mock.Anything, mock.Anything, mock.Anything).
		Return([]*domain.Borrowing{}, nil)
	f.borrowingRepo.On("ListOverdueUnnotified", mock.Anything, today).
		Return([]*domain.Borrowing{first, second}, nil)
	f.userRepo.On("GetByID", mock.Anything, firstUser).Return(&domain.User{ID: firstUser, TelegramChatID: &firstChat}, nil)
	f.userRepo.On("GetByID", mock.Anything, secondUser).Return(&domain.User{ID: secondUser, TelegramChatID: &secondChat}, nil)
	f.dispatcher.On("Send", mock.Anything, firstChat, domain.EventOverdue, mock.Anything).
		Return(apperrors.WrapDispatchFailure(assert.AnError))
	f.dispatcher.On("Send", mock.Anything, secondChat, domain.EventOverdue, mock.Anything).Return(nil)
	f.notificationRepo.On("MarkSent", mock.Anything, second.ID, domain.EventOverdue, second.ExpectedReturnDate, now).
		Return(true, nil)
	f.paymentRepo.On("ExpireLapsed", mock.Anything, now).Return(int64(0), nil)

	err := f.service.Run(context.Background())

	// The failed candidate stays unmarked for the next tick; the healthy
	// one was still processed.
	assert.Error(t, err)
	f.dispatcher.AssertNumberOfCalls(t, "Send", 2)
	f.notificationRepo.AssertNumberOfCalls(t, "MarkSent", 1)
	f.paymentRepo.AssertCalled(t, "ExpireLapsed", mock.Anything, now)
}

func TestRun_BorrowerWithoutChatIsMarkedWithoutDelivery(t *testing.T) {
	now := time.Date(2024, 1, 13, 12, 0, 0, 0, time.UTC)
	today := time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC)
	f := newSweepFixture(now)

	userID := uuid.New()
	borrowing := activeBorrowing(userID, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))

	f.borrowingRepo.On("ListDueSoonUnnotified", mock.Anything, mock.Anything, mock.Anything).
		Return([]*domain.Borrowing{}, nil)
	f.borrowingRepo.On("ListOverdueUnnotified", mock.Anything, today).
		Return([]*domain.Borrowing{borrowing}, nil)
	f.userRepo.On("GetByID", mock.Anything, userID).Return(&domain.User{ID: userID}, nil)
	f.notificationRepo.On("MarkSent", mock.Anything, borrowing.ID, domain.EventOverdue, borrowing.ExpectedReturnDate, now).
		Return(true, nil)
	f.paymentRepo.On("ExpireLapsed", mock.Anything, now).Return(int64(0), nil)

	err := f.service.Run(context.Background())

	assert.NoError(t, err)
	f.dispatcher.AssertNotCalled(t, "Send")
	f.notificationRepo.AssertExpectations(t)
}

func TestRun_ExpiresLapsedCheckoutSessions(t *testing.T) {
	now := time.Date(2024, 1, 13, 12, 0, 0, 0, time.UTC)
	f := newSweepFixture(now)

	f.borrowingRepo.On("ListDueSoonUnnotified", mock.Anything, mock.Anything, mock.Anything).
		Return([]*domain.Borrowing{}, nil)
	f.borrowingRepo.On("ListOverdueUnnotified", mock.Anything, mock.Anything).
		Return([]*domain.Borrowing{}, nil)
	f.paymentRepo.On("ExpireLapsed", mock.Anything, now).Return(int64(3), nil)

	err := f.service.Run(context.Background())

	assert.NoError(t, err)
	f.paymentRepo.AssertExpectations(t)
}

func TestRun_QueryFailureStillRunsRemainingPhases(t *testing.T) {
	now := time.Date(2024, 1, 13, 12, 0, 0, 0, time.UTC)
	f := newSweepFixture(now)

	f.borrowingRepo.On("ListDueSoonUnnotified", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, assert.AnError)
	f.borrowingRepo.On("ListOverdueUnnotified", mock.Anything, mock.Anything).
		Return([]*domain.Borrowing{}, nil)
	f.paymentRepo.On("ExpireLapsed", mock.Anything, now).Return(int64(0), nil)

	err := f.service.Run(context.Background())

	assert.Error(t, err)
	f.paymentRepo.AssertCalled(t, "ExpireLapsed", mock.Anything, now)
}
