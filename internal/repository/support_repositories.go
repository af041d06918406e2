package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/booklend/lending-engine/internal/domain"
)

type bookRepository struct {
	db *sqlx.DB
}

func NewBookRepository(db *sqlx.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	var book domain.Book
	err := r.db.GetContext(ctx, &book, `
		SELECT id, title, author, cover, inventory, daily_fee, created_at, updated_at
		FROM books
		WHERE id = $1
	`, id)
	if err != nil {
		return nil, err
	}

	return &book, nil
}

type userRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var user domain.User
	err := r.db.GetContext(ctx, &user, `
		SELECT id, email, is_staff, telegram_chat_id
		FROM users
		WHERE id = $1
	`, id)
	if err != nil {
		return nil, err
	}

	return &user, nil
}

type notificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) MarkSent(ctx context.Context, borrowingID uuid.UUID, kind string, dueDate time.Time, sentAt time.Time) (bool, error) {
	record := domain.NotificationRecord{
		ID:          uuid.New(),
		BorrowingID: borrowingID,
		Kind:        kind,
		DueDate:     dueDate,
		SentAt:      sentAt,
	}

	res, err := r.db.NamedExecContext(ctx, `
		INSERT INTO notification_log (id, borrowing_id, kind, due_date, sent_at)
		VALUES (:id, :borrowing_id, :kind, :due_date, :sent_at)
		ON CONFLICT (borrowing_id, kind, due_date) DO NOTHING
	`, record)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}
