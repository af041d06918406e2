package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Book is the catalog entry a borrowing points at. Catalog management lives
// elsewhere; this service only reads the daily fee and moves inventory in
// step with borrow/return.
type Book struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Title     string          `json:"title" db:"title"`
	Author    string          `json:"author" db:"author"`
	Cover     string          `json:"cover" db:"cover"`
	Inventory int             `json:"inventory" db:"inventory"`
	DailyFee  decimal.Decimal `json:"daily_fee" db:"daily_fee"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// User is the thin borrower reference this service needs: identity for
// ownership checks and the linked chat for notification routing. Account
// management is an external concern.
type User struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Email          string    `json:"email" db:"email"`
	IsStaff        bool      `json:"is_staff" db:"is_staff"`
	TelegramChatID *int64    `json:"telegram_chat_id,omitempty" db:"telegram_chat_id"`
}
