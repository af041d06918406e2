package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/booklend/lending-engine/internal/domain"
	apperrors "github.com/booklend/lending-engine/pkg/errors"
)

type borrowingRepository struct {
	db *sqlx.DB
}

func NewBorrowingRepository(db *sqlx.DB) BorrowingRepository {
	return &borrowingRepository{db: db}
}

func (r *borrowingRepository) Create(ctx context.Context, borrowing *domain.Borrowing) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE books
		SET inventory = inventory - 1, updated_at = NOW()
		WHERE id = $1 AND inventory > 0
	`, borrowing.BookID)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.ErrBookOutOfStock
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO borrowings (id, book_id, user_id, borrow_date, expected_return_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`,
		borrowing.ID,
		borrowing.BookID,
		borrowing.UserID,
		borrowing.BorrowDate,
		borrowing.ExpectedReturnDate,
		borrowing.Status,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *borrowingRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Borrowing, error) {
	query := `
		SELECT id, book_id, user_id, borrow_date, expected_return_date, actual_return_date, status, created_at, updated_at
		FROM borrowings
		WHERE id = $1
	`

	var borrowing domain.Borrowing
	if err := r.db.GetContext(ctx, &borrowing, query, id); err != nil {
		return nil, err
	}

	return &borrowing, nil
}

func (r *borrowingRepository) List(ctx context.Context, filter domain.BorrowingFilter) ([]*domain.Borrowing, error) {
	query := `
		SELECT id, book_id, user_id, borrow_date, expected_return_date, actual_return_date, status, created_at, updated_at
		FROM borrowings
		WHERE ($1::uuid IS NULL OR user_id = $1)
		  AND ($2::boolean IS NULL OR (status = 'ACTIVE') = $2)
		ORDER BY created_at DESC
	`

	var borrowings []*domain.Borrowing
	if err := r.db.SelectContext(ctx, &borrowings, query, filter.UserID, filter.Active); err != nil {
		return nil, err
	}

	return borrowings, nil
}

func (r *borrowingRepository) MarkReturned(ctx context.Context, id uuid.UUID, returnedAt time.Time) (*domain.Borrowing, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Conditional on the current status so two concurrent returns cannot
	// both restore inventory.
	res, err := tx.ExecContext(ctx, `
		UPDATE borrowings
		SET status = $2, actual_return_date = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, domain.BorrowingStatusReturned, returnedAt, domain.BorrowingStatusActive)
	if err != nil {
		return nil, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		var status string
		err = tx.GetContext(ctx, &status, `SELECT status FROM borrowings WHERE id = $1`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		if err != nil {
			return nil, err
		}
		return nil, apperrors.ErrAlreadyReturned
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE books
		SET inventory = inventory + 1, updated_at = NOW()
		WHERE id = (SELECT book_id FROM borrowings WHERE id = $1)
	`, id)
	if err != nil {
		return nil, err
	}

	var borrowing domain.Borrowing
	err = tx.GetContext(ctx, &borrowing, `
		SELECT id, book_id, user_id, borrow_date, expected_return_date, actual_return_date, status, created_at, updated_at
		FROM borrowings
		WHERE id = $1
	`, id)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return &borrowing, nil
}

func (r *borrowingRepository) ListDueSoonUnnotified(ctx context.Context, windowStart, windowEnd time.Time) ([]*domain.Borrowing, error) {
	return r.listUnnotified(ctx, domain.EventDueSoon, `
		SELECT b.id, b.book_id, b.user_id, b.borrow_date, b.expected_return_date, b.actual_return_date, b.status, b.created_at, b.updated_at
		FROM borrowings b
		WHERE b.status = 'ACTIVE'
		  AND b.expected_return_date >= $2 AND b.expected_return_date <= $3
		  AND NOT EXISTS (
			SELECT 1 FROM notification_log n
			WHERE n.borrowing_id = b.id AND n.kind = $1 AND n.due_date = b.expected_return_date
		  )
		ORDER BY b.expected_return_date
	`, windowStart, windowEnd)
}

func (r *borrowingRepository) ListOverdueUnnotified(ctx context.Context, asOf time.Time) ([]*domain.Borrowing, error) {
	return r.listUnnotified(ctx, domain.EventOverdue, `
		SELECT b.id, b.book_id, b.user_id, b.borrow_date, b.expected_return_date, b.actual_return_date, b.status, b.created_at, b.updated_at
		FROM borrowings b
		WHERE b.status = 'ACTIVE'
		  AND b.expected_return_date < $2
		  AND NOT EXISTS (
			SELECT 1 FROM notification_log n
			WHERE n.borrowing_id = b.id AND n.kind = $1 AND n.due_date = b.expected_return_date
		  )
		ORDER BY b.expected_return_date
	`, asOf)
}

func (r *borrowingRepository) listUnnotified(ctx context.Context, kind, query string, args ...interface{}) ([]*domain.Borrowing, error) {
	queryArgs := append([]interface{}{kind}, args...)

	var borrowings []*domain.Borrowing
	if err := r.db.SelectContext(ctx, &borrowings, query, queryArgs...); err != nil {
		return nil, err
	}

	return borrowings, nil
}
