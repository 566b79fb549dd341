package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
	retryable  bool
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError carrying the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Retryable reports whether the caller may safely resubmit the same request.
func (e *AppError) Retryable() bool {
	return e.retryable
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

func retryable(e *AppError) *AppError {
	e.retryable = true
	return e
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsRetryable reports whether err carries a retryable AppError.
func IsRetryable(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Retryable()
}

// ---- Ledger (LED) ----

const (
	CodeInsufficientFunds      = "LED_001"
	CodeValidation             = "LED_002"
	CodeAccountInactive        = "LED_003"
	CodeCurrencyMismatch       = "LED_004"
	CodeOverpaymentNotAllowed  = "LED_005"
	CodeInvalidStateTransition = "LED_006"
	CodeIdempotencyConflict    = "LED_007"
	CodeDuplicateRequest       = "LED_008"
	CodeRateUnavailable        = "FX_001"
	CodeRateStale              = "FX_002"
	CodeNotFound               = "RES_001"
	CodeUnauthorized           = "AUTH_001"
	CodeInvalidToken           = "AUTH_002"
	CodeForbidden              = "AUTH_003"
	CodeRateLimitExceeded      = "RATE_001"
	CodeInternal               = "SYS_001"
	CodeLockTimeout            = "SYS_002"
	CodeConcurrentModification = "SYS_003"
	CodeCancelled              = "SYS_004"
)

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient funds", http.StatusPaymentRequired)
}

// Validation returns a validation error with a caller-facing message.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

func ErrAccountInactive() *AppError {
	return New(CodeAccountInactive, "Account is inactive", http.StatusConflict)
}

func ErrCurrencyMismatch(expected, got string) *AppError {
	return New(CodeCurrencyMismatch,
		fmt.Sprintf("Currency mismatch: account is %s, operation is %s", expected, got),
		http.StatusBadRequest)
}

func ErrOverpaymentNotAllowed() *AppError {
	return New(CodeOverpaymentNotAllowed, "Payment exceeds outstanding balance", http.StatusUnprocessableEntity)
}

func ErrInvalidStateTransition(entity, from, to string) *AppError {
	return New(CodeInvalidStateTransition,
		fmt.Sprintf("%s cannot move from %s to %s", entity, from, to),
		http.StatusConflict)
}

func ErrIdempotencyConflict() *AppError {
	return New(CodeIdempotencyConflict, "Idempotency key reused with a different request", http.StatusUnprocessableEntity)
}

// ErrDuplicateRequest is returned when a concurrent request committed the same key first.
// Retrying replays the committed result.
func ErrDuplicateRequest(err error) *AppError {
	return retryable(Wrap(CodeDuplicateRequest, "Duplicate request in flight", http.StatusConflict, err))
}

// ---- Currency exchange (FX) ----

func ErrRateUnavailable(from, to string, err error) *AppError {
	return Wrap(CodeRateUnavailable,
		fmt.Sprintf("Exchange rate %s/%s unavailable", from, to),
		http.StatusServiceUnavailable, err)
}

func ErrRateStale() *AppError {
	return New(CodeRateStale, "Exchange rate quote expired", http.StatusConflict)
}

// ---- Resources & auth ----

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrUnauthorized() *AppError {
	return New(CodeUnauthorized, "Authentication required", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New(CodeForbidden, "Not allowed to operate on this resource", http.StatusForbidden)
}

// ---- Rate limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return retryable(New(CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests))
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

func ErrLockTimeout(err error) *AppError {
	return retryable(Wrap(CodeLockTimeout, "Lock acquisition timeout", http.StatusServiceUnavailable, err))
}

func ErrConcurrentModification(err error) *AppError {
	return retryable(Wrap(CodeConcurrentModification, "Concurrent modification, retry the request", http.StatusConflict, err))
}

func ErrCancelled(err error) *AppError {
	return Wrap(CodeCancelled, "Request cancelled before commit", http.StatusRequestTimeout, err)
}
