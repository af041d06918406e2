package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/booklend/lending-engine/internal/config"
	"github.com/booklend/lending-engine/internal/domain"
	"github.com/booklend/lending-engine/internal/notifier"
	"github.com/booklend/lending-engine/internal/repository"
)

// SweepService runs the recurring scan: due-soon reminders, overdue
// reminders, and lapsed checkout sessions. Each tick is idempotent; the
// notification log keeps reminders at-most-once per occurrence.
type SweepService struct {
	borrowingRepo      repository.BorrowingRepository
	paymentRepo        repository.PaymentRepository
	userRepo           repository.UserRepository
	notificationRepo   repository.NotificationRepository
	dispatcher         notifier.Dispatcher
	reminderWindowDays int
	logger             *slog.Logger
	now                Clock
}

func NewSweepService(
	borrowingRepo repository.BorrowingRepository,
	paymentRepo repository.PaymentRepository,
	userRepo repository.UserRepository,
	notificationRepo repository.NotificationRepository,
	dispatcher notifier.Dispatcher,
	cfg *config.Config,
	logger *slog.Logger,
	now Clock,
) *SweepService {
	return &SweepService{
		borrowingRepo:      borrowingRepo,
		paymentRepo:        paymentRepo,
		userRepo:           userRepo,
		notificationRepo:   notificationRepo,
		dispatcher:         dispatcher,
		reminderWindowDays: cfg.Business.ReminderWindowDays,
		logger:             logger,
		now:                now,
	}
}

// Run executes one sweep tick. Per-candidate failures are collected, never
// aborting the rest of the batch; the aggregate comes back for logging. A
// candidate whose notification failed stays unmarked and is retried on the
// next tick.
func (s *SweepService) Run(ctx context.Context) error {
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var errs error

	errs = multierr.Append(errs, s.remindDueSoon(ctx, today, now))
	errs = multierr.Append(errs, s.remindOverdue(ctx, today, now))

	expired, err := s.paymentRepo.ExpireLapsed(ctx, now)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("expiring lapsed sessions: %w", err))
	} else if expired > 0 {
		s.logger.Info("checkout sessions expired by sweep", "count", expired)
	}

	return errs
}

func (s *SweepService) remindDueSoon(ctx context.Context, today, now time.Time) error {
	windowEnd := today.AddDate(0, 0, s.reminderWindowDays)

	candidates, err := s.borrowingRepo.ListDueSoonUnnotified(ctx, today, windowEnd)
	if err != nil {
		return fmt.Errorf("listing due-soon borrowings: %w", err)
	}

	var errs error
	for _, borrowing := range candidates {
		text := fmt.Sprintf(
			"*Reminder:* borrowing %s is due back on %s.",
			borrowing.ID, borrowing.ExpectedReturnDate.Format("2006-01-02"),
		)
		errs = multierr.Append(errs, s.notifyAndMark(ctx, borrowing, domain.EventDueSoon, text, now))
	}

	return errs
}

func (s *SweepService) remindOverdue(ctx context.Context, today, now time.Time) error {
	candidates, err := s.borrowingRepo.ListOverdueUnnotified(ctx, today)
	if err != nil {
		return fmt.Errorf("listing overdue borrowings: %w", err)
	}

	var errs error
	for _, borrowing := range candidates {
		text := fmt.Sprintf(
			"*Overdue!* Borrowing %s was due on %s. Please return the book.",
			borrowing.ID, borrowing.ExpectedReturnDate.Format("2006-01-02"),
		)
		errs = multierr.Append(errs, s.notifyAndMark(ctx, borrowing, domain.EventOverdue, text, now))
	}

	return errs
}

func (s *SweepService) notifyAndMark(ctx context.Context, borrowing *domain.Borrowing, kind, text string, now time.Time) error {
	user, err := s.userRepo.GetByID(ctx, borrowing.UserID)
	if err != nil {
		return fmt.Errorf("resolving borrower %s: %w", borrowing.UserID, err)
	}

	if user.TelegramChatID != nil {
		if err := s.dispatcher.Send(ctx, *user.TelegramChatID, kind, text); err != nil {
			// Unmarked, so the next tick retries this candidate.
			return fmt.Errorf("notifying borrowing %s (%s): %w", borrowing.ID, kind, err)
		}
	} else {
		s.logger.Debug("borrower has no linked chat, skipping delivery",
			"borrowing_id", borrowing.ID, "kind", kind)
	}

	inserted, err := s.notificationRepo.MarkSent(ctx, borrowing.ID, kind, borrowing.ExpectedReturnDate, now)
	if err != nil {
		return fmt.Errorf("recording %s for borrowing %s: %w", kind, borrowing.ID, err)
	}
	if !inserted {
		s.logger.Debug("reminder already recorded", "borrowing_id", borrowing.ID, "kind", kind)
	}

	return nil
}
