package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/booklend/lending-engine/internal/domain"
	apperrors "github.com/booklend/lending-engine/pkg/errors"
)

type paymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

const paymentColumns = `id, borrowing_id, type, amount, session_id, session_url, session_expires_at, status, created_at, updated_at`

func (r *paymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (id, borrowing_id, type, amount, session_id, session_url, session_expires_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`

	_, err := r.db.ExecContext(ctx, query,
		payment.ID,
		payment.BorrowingID,
		payment.Type,
		payment.Amount,
		payment.SessionID,
		payment.SessionURL,
		payment.SessionExpiresAt,
		payment.Status,
	)

	// The partial unique index on (borrowing_id, type) for live payments is
	// the last line of defense against duplicate obligations.
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return apperrors.ErrDuplicateObligation
	}

	return err
}

func (r *paymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	var payment domain.Payment
	err := r.db.GetContext(ctx, &payment, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}

	return &payment, nil
}

func (r *paymentRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.Payment, error) {
	var payment domain.Payment
	err := r.db.GetContext(ctx, &payment, `SELECT `+paymentColumns+` FROM payments WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, err
	}

	return &payment, nil
}

func (r *paymentRepository) List(ctx context.Context, filter domain.PaymentFilter) ([]*domain.Payment, error) {
	query := `
		SELECT p.id, p.borrowing_id, p.type, p.amount, p.session_id, p.session_url, p.session_expires_at, p.status, p.created_at, p.updated_at
		FROM payments p
		JOIN borrowings b ON b.id = p.borrowing_id
		WHERE ($1::uuid IS NULL OR b.user_id = $1)
		  AND ($2::uuid IS NULL OR p.borrowing_id = $2)
		  AND ($3::text IS NULL OR p.status = $3)
		ORDER BY p.created_at DESC
	`

	var payments []*domain.Payment
	if err := r.db.SelectContext(ctx, &payments, query, filter.UserID, filter.BorrowingID, filter.Status); err != nil {
		return nil, err
	}

	return payments, nil
}

func (r *paymentRepository) MarkPaidIfPending(ctx context.Context, sessionID string) (*domain.Payment, bool, error) {
	// Compare-and-set keyed on the stored status: a duplicate "completed"
	// delivery finds zero PENDING rows and changes nothing.
	query := `
		UPDATE payments
		SET status = $2, updated_at = NOW()
		WHERE session_id = $1 AND status = $3
		RETURNING ` + paymentColumns

	var payment domain.Payment
	err := r.db.GetContext(ctx, &payment, query, sessionID, domain.PaymentStatusPaid, domain.PaymentStatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := r.GetBySessionID(ctx, sessionID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return &payment, true, nil
}

func (r *paymentRepository) MarkExpiredIfPending(ctx context.Context, sessionID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $2, updated_at = NOW()
		WHERE session_id = $1 AND status = $3
	`, sessionID, domain.PaymentStatusExpired, domain.PaymentStatusPending)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

func (r *paymentRepository) RenewSession(ctx context.Context, id uuid.UUID, sessionID, sessionURL string, expiresAt *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET session_id = $2, session_url = $3, session_expires_at = $4, status = $5, updated_at = NOW()
		WHERE id = $1 AND status <> $6
	`, id, sessionID, sessionURL, expiresAt, domain.PaymentStatusPending, domain.PaymentStatusPaid)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return apperrors.ErrDuplicateObligation
		}
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.ErrAlreadyPaid
	}

	return nil
}

func (r *paymentRepository) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND session_expires_at IS NOT NULL AND session_expires_at < $3
	`, domain.PaymentStatusExpired, domain.PaymentStatusPending, now)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
