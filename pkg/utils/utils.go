package utils

import (
	"time"

	"github.com/shopspring/decimal"
)

// DaysBetween counts whole calendar days from one date to another, ignoring
// the time-of-day component. Negative when to precedes from.
func DaysBetween(from, to time.Time) int {
	fromDay := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	toDay := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(toDay.Sub(fromDay).Hours() / 24)
}

// ChargeDays is the number of billable rental days: at least one, even for a
// same-day return.
func ChargeDays(borrowDate, returnDate time.Time) int {
	days := DaysBetween(borrowDate, returnDate)
	if days < 1 {
		return 1
	}
	return days
}

// OverdueDays counts how many days past the due date the return happened,
// never negative.
func OverdueDays(expectedReturnDate, returnDate time.Time) int {
	days := DaysBetween(expectedReturnDate, returnDate)
	if days < 0 {
		return 0
	}
	return days
}

// RentalCharge computes the base amount owed for a completed borrowing:
// daily fee times billable days, rounded to cents.
func RentalCharge(dailyFee decimal.Decimal, borrowDate, returnDate time.Time) decimal.Decimal {
	days := ChargeDays(borrowDate, returnDate)
	return dailyFee.Mul(decimal.NewFromInt(int64(days))).Round(2)
}

// OverdueFine computes the penalty for a late return: daily fee times the
// fine multiplier times overdue days, rounded to cents. Zero when on time.
func OverdueFine(dailyFee, multiplier decimal.Decimal, expectedReturnDate, returnDate time.Time) decimal.Decimal {
	days := OverdueDays(expectedReturnDate, returnDate)
	if days == 0 {
		return decimal.Zero
	}
	return dailyFee.Mul(multiplier).Mul(decimal.NewFromInt(int64(days))).Round(2)
}

// ToCents converts a currency amount to the smallest-unit integer the
// checkout gateway expects.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
