package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure taxonomy shared by the ledger, the approval workflow and the HTTP layer.
// Details are attached by wrapping; callers match with errors.Is.
var (
	ErrValidation             = errors.New("validation failed")
	ErrDuplicateTransaction   = errors.New("transaction id already used")
	ErrInvalidStateTransition = errors.New("request is not pending")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInsufficientCoupons    = errors.New("insufficient coupons")
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	ErrConcurrencyConflict    = errors.New("concurrent update conflict")
)

// Validation wraps ErrValidation with a field-level reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the missing entity.
func NotFound(entity, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, entity, id)
}

// Retryable reports whether the whole atomic unit can be re-run safely.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// HTTPStatus maps a failure to the status code rendered by the API.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrDuplicateTransaction), errors.Is(err, ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrInsufficientCoupons):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrConcurrencyConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-visible reason for a failure. Unknown errors are not
// echoed back because they may carry storage details.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
