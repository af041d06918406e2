package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/booklend/lending-engine/internal/domain"
	"github.com/booklend/lending-engine/internal/gateway"
	"github.com/booklend/lending-engine/internal/lock"
	"github.com/booklend/lending-engine/internal/notifier"
	"github.com/booklend/lending-engine/internal/repository"
	apperrors "github.com/booklend/lending-engine/pkg/errors"
)

// webhookDedupTTL bounds how long an event id replay marker lives. The
// conditional updates underneath make dedup a fast path, not a correctness
// requirement.
const webhookDedupTTL = 24 * time.Hour

// WebhookService reconciles asynchronous payment-processor events against
// stored payment state. Safe under at-least-once, reordered, duplicated
// delivery: every transition is keyed on the current stored status.
type WebhookService struct {
	paymentRepo   repository.PaymentRepository
	borrowingRepo repository.BorrowingRepository
	userRepo      repository.UserRepository
	verifier      gateway.WebhookVerifier
	dispatcher    notifier.Dispatcher
	locker        lock.Locker
	logger        *slog.Logger
}

func NewWebhookService(
	paymentRepo repository.PaymentRepository,
	borrowingRepo repository.BorrowingRepository,
	userRepo repository.UserRepository,
	verifier gateway.WebhookVerifier,
	dispatcher notifier.Dispatcher,
	locker lock.Locker,
	logger *slog.Logger,
) *WebhookService {
	return &WebhookService{
		paymentRepo:   paymentRepo,
		borrowingRepo: borrowingRepo,
		userRepo:      userRepo,
		verifier:      verifier,
		dispatcher:    dispatcher,
		locker:        locker,
		logger:        logger,
	}
}

// Handle verifies and applies one inbound processor event.
// UNAUTHORIZED means the signature did not check out and nothing was
// touched; NOT_FOUND means the session is unknown and the sender should
// still be acknowledged.
func (s *WebhookService) Handle(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := s.verifier.VerifyAndParse(payload, signatureHeader)
	if err != nil {
		return err
	}

	var dedupKey string
	if s.locker != nil && event.ID != "" {
		key := "webhook:event:" + event.ID
		fresh, lockErr := s.locker.Acquire(ctx, key, webhookDedupTTL)
		if lockErr != nil {
			s.logger.Warn("webhook dedup cache unavailable, relying on conditional updates", "error", lockErr)
		} else if !fresh {
			s.logger.Info("duplicate webhook event skipped", "event_id", event.ID, "type", event.Type)
			return nil
		} else {
			dedupKey = key
		}
	}

	err = s.apply(ctx, event)
	if err != nil && dedupKey != "" {
		// The marker must not outlive a failed attempt, otherwise the
		// processor's redelivery would be short-circuited for the whole TTL.
		if relErr := s.locker.Release(ctx, dedupKey); relErr != nil {
			s.logger.Warn("releasing webhook event marker", "event_id", event.ID, "error", relErr)
		}
	}

	return err
}

func (s *WebhookService) apply(ctx context.Context, event *gateway.WebhookEvent) error {
	switch event.Type {
	case gateway.EventCheckoutCompleted:
		return s.handleCompleted(ctx, event)
	case gateway.EventCheckoutExpired:
		return s.handleExpired(ctx, event)
	default:
		s.logger.Debug("ignoring webhook event", "type", event.Type)
		return nil
	}
}

func (s *WebhookService) handleCompleted(ctx context.Context, event *gateway.WebhookEvent) error {
	payment, changed, err := s.paymentRepo.MarkPaidIfPending(ctx, event.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("completed event for unknown session", "session_id", event.SessionID)
			return apperrors.WrapSessionNotFound(event.SessionID)
		}
		return apperrors.WrapDatabaseError(err)
	}

	if !changed {
		s.logger.Info("payment already settled, event is a no-op",
			"payment_id", payment.ID, "session_id", event.SessionID)
		return nil
	}

	s.logger.Info("payment settled via webhook", "payment_id", payment.ID, "type", payment.Type)

	// Emitted only on the state-changing path, so a duplicate delivery can
	// never produce a second message.
	borrowing, err := s.borrowingRepo.GetByID(ctx, payment.BorrowingID)
	if err != nil {
		s.logger.Warn("resolving borrowing for payment notification", "payment_id", payment.ID, "error", err)
		return nil
	}

	text := fmt.Sprintf(
		"*Payment received!* %s of %s for borrowing %s is settled. Thank you!",
		payment.Type, payment.Amount.StringFixed(2), borrowing.ID,
	)
	if err := notifyBorrower(ctx, s.userRepo, s.dispatcher, borrowing.UserID, domain.EventPaymentSucceeded, text); err != nil {
		s.logger.Warn("payment notification not delivered", "payment_id", payment.ID, "error", err)
	}

	return nil
}

func (s *WebhookService) handleExpired(ctx context.Context, event *gateway.WebhookEvent) error {
	changed, err := s.paymentRepo.MarkExpiredIfPending(ctx, event.SessionID)
	if err != nil {
		return apperrors.WrapDatabaseError(err)
	}

	if changed {
		s.logger.Info("checkout session expired via webhook", "session_id", event.SessionID)
	}

	return nil
}
