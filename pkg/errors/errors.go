package errors

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrBorrowingNotFound   = errors.New("borrowing not found")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrSessionNotFound     = errors.New("no payment matches the checkout session")
	ErrAlreadyReturned     = errors.New("borrowing is already returned")
	ErrAlreadyPaid         = errors.New("payment is already completed")
	ErrPaymentStillPending = errors.New("payment has a live checkout session")
	ErrBookOutOfStock      = errors.New("book is out of stock")
	ErrDuplicateObligation = errors.New("a live payment already exists for this obligation")
	ErrInvalidSignature    = errors.New("webhook signature verification failed")
	ErrForbidden           = errors.New("insufficient capability for this operation")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrDispatchFailed      = errors.New("notification delivery failed")
)

// BusinessError represents a business logic error
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeInvalidState       = "INVALID_STATE"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeGatewayUnavailable = "GATEWAY_UNAVAILABLE"
	ErrCodeDispatchFailure    = "DISPATCH_FAILURE"
	ErrCodeDatabaseError      = "DATABASE_ERROR"
)

// CodeOf extracts the business error code, or empty when err carries none.
func CodeOf(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// Wrap common errors with business context

func WrapInvalidState(message string, err error) *BusinessError {
	return NewBusinessError(ErrCodeInvalidState, message, err)
}

func WrapBorrowingNotFound(id string) *BusinessError {
	return NewBusinessError(
		ErrCodeNotFound,
		fmt.Sprintf("Borrowing with ID %s not found", id),
		ErrBorrowingNotFound,
	)
}

func WrapPaymentNotFound(id string) *BusinessError {
	return NewBusinessError(
		ErrCodeNotFound,
		fmt.Sprintf("Payment with ID %s not found", id),
		ErrPaymentNotFound,
	)
}

func WrapSessionNotFound(sessionID string) *BusinessError {
	return NewBusinessError(
		ErrCodeNotFound,
		fmt.Sprintf("No payment matches checkout session %s", sessionID),
		ErrSessionNotFound,
	)
}

func WrapUnauthorized(message string, err error) *BusinessError {
	return NewBusinessError(ErrCodeUnauthorized, message, err)
}

func WrapForbidden(message string) *BusinessError {
	return NewBusinessError(ErrCodeForbidden, message, ErrForbidden)
}

func WrapGatewayUnavailable(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeGatewayUnavailable,
		"checkout session could not be created",
		errors.Join(ErrGatewayUnavailable, err),
	)
}

func WrapDispatchFailure(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDispatchFailure,
		"notification delivery failed",
		errors.Join(ErrDispatchFailed, err),
	)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		"database operation failed",
		err,
	)
}
