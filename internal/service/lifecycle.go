package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/booklend/lending-engine/internal/config"
	"github.com/booklend/lending-engine/internal/domain"
	"github.com/booklend/lending-engine/internal/gateway"
	"github.com/booklend/lending-engine/internal/notifier"
	"github.com/booklend/lending-engine/internal/repository"
	apperrors "github.com/booklend/lending-engine/pkg/errors"
	"github.com/booklend/lending-engine/pkg/utils"
)

// LifecycleService owns the borrowing/payment state machine: borrow, return
// with charge creation, and checkout session renewal.
type LifecycleService struct {
	borrowingRepo  repository.BorrowingRepository
	paymentRepo    repository.PaymentRepository
	bookRepo       repository.BookRepository
	userRepo       repository.UserRepository
	gateway        gateway.CheckoutGateway
	dispatcher     notifier.Dispatcher
	fineMultiplier decimal.Decimal
	logger         *slog.Logger
	now            Clock
}

func NewLifecycleService(
	borrowingRepo repository.BorrowingRepository,
	paymentRepo repository.PaymentRepository,
	bookRepo repository.BookRepository,
	userRepo repository.UserRepository,
	checkoutGateway gateway.CheckoutGateway,
	dispatcher notifier.Dispatcher,
	cfg *config.Config,
	logger *slog.Logger,
	now Clock,
) *LifecycleService {
	return &LifecycleService{
		borrowingRepo:  borrowingRepo,
		paymentRepo:    paymentRepo,
		bookRepo:       bookRepo,
		userRepo:       userRepo,
		gateway:        checkoutGateway,
		dispatcher:     dispatcher,
		fineMultiplier: cfg.GetFineMultiplier(),
		logger:         logger,
		now:            now,
	}
}

// Borrow creates a borrowing for the actor, taking one unit of inventory
// atomically with the insert.
func (s *LifecycleService) Borrow(ctx context.Context, actor domain.Actor, request *domain.CreateBorrowingRequest) (*domain.Borrowing, error) {
	now := s.now()

	if !request.ExpectedReturnDate.After(now) {
		return nil, apperrors.WrapInvalidState("expected return date must be in the future", nil)
	}

	if _, err := s.bookRepo.GetByID(ctx, request.BookID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewBusinessError(apperrors.ErrCodeNotFound, fmt.Sprintf("Book with ID %s not found", request.BookID), err)
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	borrowing := &domain.Borrowing{
		ID:                 uuid.New(),
		BookID:             request.BookID,
		UserID:             actor.UserID,
		BorrowDate:         now,
		ExpectedReturnDate: request.ExpectedReturnDate,
		Status:             domain.BorrowingStatusActive,
	}

	if err := s.borrowingRepo.Create(ctx, borrowing); err != nil {
		if errors.Is(err, apperrors.ErrBookOutOfStock) {
			return nil, apperrors.WrapInvalidState("this book is out of stock", err)
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	text := fmt.Sprintf(
		"*New borrowing created!*\nBorrowing %s is due back on %s.",
		borrowing.ID, borrowing.ExpectedReturnDate.Format("2006-01-02"),
	)
	if err := notifyBorrower(ctx, s.userRepo, s.dispatcher, actor.UserID, domain.EventBorrowCreated, text); err != nil {
		s.logger.Warn("borrow notification not delivered", "borrowing_id", borrowing.ID, "error", err)
	}

	return borrowing, nil
}

// Return marks a borrowing as returned and creates the resulting payment
// obligations. Requires administrative capability. The state transition and
// the inventory restore commit together; obligation recording and checkout
// session creation are best effort and never roll the return back, so the
// response reflects what actually committed.
func (s *LifecycleService) Return(ctx context.Context, actor domain.Actor, borrowingID uuid.UUID) (*domain.ReturnBorrowingResponse, error) {
	if !actor.IsStaff {
		return nil, apperrors.WrapForbidden("only staff may process returns")
	}

	now := s.now()

	borrowing, err := s.borrowingRepo.MarkReturned(ctx, borrowingID, now)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, apperrors.WrapBorrowingNotFound(borrowingID.String())
		case errors.Is(err, apperrors.ErrAlreadyReturned):
			return nil, apperrors.WrapInvalidState("borrowing is already returned", err)
		default:
			return nil, apperrors.WrapDatabaseError(err)
		}
	}

	book, err := s.bookRepo.GetByID(ctx, borrowing.BookID)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	payments := make([]*domain.Payment, 0, 2)

	base := utils.RentalCharge(book.DailyFee, borrowing.BorrowDate, now)
	if payment, err := s.createObligation(ctx, borrowing, domain.PaymentTypePayment, base); err != nil {
		// The return already committed; failing the request here would
		// report a state the caller cannot observe.
		s.logger.Error("recording rental charge after return", "borrowing_id", borrowing.ID, "error", err)
	} else {
		payments = append(payments, payment)
	}

	if fine := utils.OverdueFine(book.DailyFee, s.fineMultiplier, borrowing.ExpectedReturnDate, now); fine.IsPositive() {
		if finePayment, err := s.createObligation(ctx, borrowing, domain.PaymentTypeFine, fine); err != nil {
			s.logger.Error("recording overdue fine after return", "borrowing_id", borrowing.ID, "error", err)
		} else {
			payments = append(payments, finePayment)
		}
	}

	return &domain.ReturnBorrowingResponse{
		Borrowing: borrowing,
		Payments:  payments,
	}, nil
}

// createObligation records a PENDING payment and requests a checkout session
// for it. A gateway failure leaves the payment sessionless and renewable,
// the return itself already committed.
func (s *LifecycleService) createObligation(ctx context.Context, borrowing *domain.Borrowing, paymentType string, amount decimal.Decimal) (*domain.Payment, error) {
	payment := &domain.Payment{
		ID:          uuid.New(),
		BorrowingID: borrowing.ID,
		Type:        paymentType,
		Amount:      amount,
		Status:      domain.PaymentStatusPending,
	}

	session, err := s.gateway.CreateSession(ctx, amount, gateway.SessionMetadata{
		PaymentID:   payment.ID.String(),
		BorrowingID: borrowing.ID.String(),
		PaymentType: paymentType,
	})
	if err != nil {
		s.logger.Warn("checkout session creation failed, payment stays renewable",
			"borrowing_id", borrowing.ID, "type", paymentType, "error", err)
	} else {
		payment.SessionID = session.ID
		payment.SessionURL = session.URL
		expiresAt := session.ExpiresAt
		payment.SessionExpiresAt = &expiresAt
	}

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		if errors.Is(err, apperrors.ErrDuplicateObligation) {
			return nil, apperrors.WrapInvalidState("a live payment already exists for this obligation", err)
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	return payment, nil
}

// Renew issues a fresh checkout session for an expired (or lapsed) payment.
// The actor must own the underlying borrowing or hold staff capability.
func (s *LifecycleService) Renew(ctx context.Context, actor domain.Actor, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.WrapPaymentNotFound(paymentID.String())
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	borrowing, err := s.borrowingRepo.GetByID(ctx, payment.BorrowingID)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	if !actor.IsStaff && actor.UserID != borrowing.UserID {
		return nil, apperrors.WrapForbidden("you can renew only your own payments")
	}

	now := s.now()

	if payment.Status == domain.PaymentStatusPaid {
		return nil, apperrors.WrapInvalidState("payment is already completed", apperrors.ErrAlreadyPaid)
	}
	if payment.Status == domain.PaymentStatusPending && payment.HasUsableSession(now) {
		return nil, apperrors.WrapInvalidState("payment still has a live checkout session", apperrors.ErrPaymentStillPending)
	}

	session, err := s.gateway.CreateSession(ctx, payment.Amount, gateway.SessionMetadata{
		PaymentID:   payment.ID.String(),
		BorrowingID: payment.BorrowingID.String(),
		PaymentType: payment.Type,
	})
	if err != nil {
		// The payment goes back to PENDING without a usable session; the
		// user retries the renewal once the gateway recovers.
		if renewErr := s.paymentRepo.RenewSession(ctx, payment.ID, "", "", nil); renewErr != nil {
			s.logger.Error("marking payment pending after gateway failure", "payment_id", payment.ID, "error", renewErr)
		}
		return nil, err
	}

	expiresAt := session.ExpiresAt
	if err := s.paymentRepo.RenewSession(ctx, payment.ID, session.ID, session.URL, &expiresAt); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrAlreadyPaid):
			return nil, apperrors.WrapInvalidState("payment is already completed", err)
		case errors.Is(err, apperrors.ErrDuplicateObligation):
			return nil, apperrors.WrapInvalidState("a live payment already exists for this obligation", err)
		default:
			return nil, apperrors.WrapDatabaseError(err)
		}
	}

	renewed, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	return renewed, nil
}

// GetBorrowing returns one borrowing, scoped to its owner unless the actor
// is staff. Non-owners see NotFound rather than a hint that the id exists.
func (s *LifecycleService) GetBorrowing(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.BorrowingResponse, error) {
	borrowing, err := s.borrowingRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.WrapBorrowingNotFound(id.String())
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	if !actor.IsStaff && borrowing.UserID != actor.UserID {
		return nil, apperrors.WrapBorrowingNotFound(id.String())
	}

	return &domain.BorrowingResponse{
		Borrowing: borrowing,
		Status:    borrowing.EffectiveStatus(s.now()),
	}, nil
}

// ListBorrowings lists borrowings. Staff may filter by user and activity;
// everyone else is pinned to their own records.
func (s *LifecycleService) ListBorrowings(ctx context.Context, actor domain.Actor, filter domain.BorrowingFilter) ([]*domain.BorrowingResponse, error) {
	if !actor.IsStaff {
		userID := actor.UserID
		filter.UserID = &userID
	}

	borrowings, err := s.borrowingRepo.List(ctx, filter)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	now := s.now()
	responses := make([]*domain.BorrowingResponse, 0, len(borrowings))
	for _, b := range borrowings {
		responses = append(responses, &domain.BorrowingResponse{
			Borrowing: b,
			Status:    b.EffectiveStatus(now),
		})
	}

	return responses, nil
}

// GetPayment returns one payment, scoped like GetBorrowing.
func (s *LifecycleService) GetPayment(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Payment, error) {
	payment, err := s.paymentRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.WrapPaymentNotFound(id.String())
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	if !actor.IsStaff {
		borrowing, err := s.borrowingRepo.GetByID(ctx, payment.BorrowingID)
		if err != nil {
			return nil, apperrors.WrapDatabaseError(err)
		}
		if borrowing.UserID != actor.UserID {
			return nil, apperrors.WrapPaymentNotFound(id.String())
		}
	}

	return payment, nil
}

// ListPayments lists payments, pinned to the actor's own unless staff.
func (s *LifecycleService) ListPayments(ctx context.Context, actor domain.Actor, filter domain.PaymentFilter) ([]*domain.Payment, error) {
	if !actor.IsStaff {
		userID := actor.UserID
		filter.UserID = &userID
	}

	payments, err := s.paymentRepo.List(ctx, filter)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	return payments, nil
}

// ResolvePaymentBySession looks up the payment behind a checkout session id,
// backing the post-checkout success/cancel pages.
func (s *LifecycleService) ResolvePaymentBySession(ctx context.Context, sessionID string) (*domain.Payment, error) {
	payment, err := s.paymentRepo.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.WrapSessionNotFound(sessionID)
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	return payment, nil
}
