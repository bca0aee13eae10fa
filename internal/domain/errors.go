package domain

import (
	"errors"
	"fmt"
)

// Kind groups errors by how a caller should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindForbidden
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindTransient:
		return "transient"
	}
	return "internal"
}

// Error is the error type surfaced by every operation of the core.
// Two Errors match under errors.Is when their codes are equal, so a
// sentinel still matches after details have been attached with With.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy of e with a formatted detail appended to the message.
func (e *Error) With(format string, args ...any) *Error {
	c := *e
	c.Message = e.Message + ": " + fmt.Sprintf(format, args...)
	return &c
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	// Validation
	ErrInvalidAmount       = newError(KindValidation, "invalid_amount", "amount must be positive")
	ErrMissingRecipient    = newError(KindValidation, "missing_recipient", "recipient id or email is required")
	ErrAmbiguousRecipient  = newError(KindValidation, "ambiguous_recipient", "specify either recipient id or email, not both")
	ErrSelfTransfer        = newError(KindValidation, "self_transfer", "cannot transfer to self")
	ErrEmptyOrder          = newError(KindValidation, "empty_order", "order must contain at least one item")
	ErrInvalidQuantity     = newError(KindValidation, "invalid_quantity", "quantity must be positive")
	ErrDuplicateProduct    = newError(KindValidation, "duplicate_product", "product listed more than once")
	ErrOrderTooLarge       = newError(KindValidation, "order_too_large", "order total exceeds the supported range")
	ErrInvalidBundle       = newError(KindValidation, "invalid_bundle", "free visits are sold in bundles of 1, 5 or 10")
	ErrInvalidToken        = newError(KindValidation, "invalid_token", "redemption token is required")
	ErrIdempotencyMismatch = newError(KindValidation, "idempotency_mismatch", "idempotency key reused with a different payload")

	// NotFound
	ErrAccountNotFound     = newError(KindNotFound, "account_not_found", "account not found")
	ErrProductNotFound     = newError(KindNotFound, "product_not_found", "one or more products not found")
	ErrResourceNotFound    = newError(KindNotFound, "resource_not_found", "resource not found")
	ErrAchievementNotFound = newError(KindNotFound, "achievement_not_found", "achievement not found")
	ErrOrderNotFound       = newError(KindNotFound, "order_not_found", "order not found")
	ErrTransferNotFound    = newError(KindNotFound, "transfer_not_found", "transfer not found")
	ErrReceiptNotFound     = newError(KindNotFound, "receipt_not_found", "receipt not found")
	ErrEnrollmentNotFound  = newError(KindNotFound, "enrollment_not_found", "enrollment not found")

	// Conflict
	ErrInsufficientBalance    = newError(KindConflict, "insufficient_balance", "insufficient balance")
	ErrCapacityExceeded       = newError(KindConflict, "capacity_exceeded", "no free places left")
	ErrAlreadyEnrolled        = newError(KindConflict, "already_enrolled", "already enrolled")
	ErrEnrollmentClosed       = newError(KindConflict, "enrollment_closed", "enrollment is cancelled")
	ErrAlreadyGranted         = newError(KindConflict, "already_granted", "achievement already granted")
	ErrAchievementInactive    = newError(KindConflict, "achievement_inactive", "achievement is inactive")
	ErrReceiptAlreadyRedeemed = newError(KindConflict, "receipt_redeemed", "receipt already redeemed")
	ErrNoFreeVisits           = newError(KindConflict, "no_free_visits", "no free visits available")
	ErrIdempotencyConflict    = newError(KindConflict, "idempotency_conflict", "request with this idempotency key is in progress")

	// Forbidden
	ErrNotOwner = newError(KindForbidden, "not_owner", "resource belongs to another account")

	// Transient
	ErrTransient = newError(KindTransient, "transient", "temporary conflict, retry later")
)

// Invalid builds a validation error for a named field.
func Invalid(field, msg string) *Error {
	return &Error{Kind: KindValidation, Code: "invalid_" + field, Message: field + ": " + msg}
}

// Transient wraps a store failure that is safe to retry.
func Transient(err error) error {
	return &Error{Kind: KindTransient, Code: ErrTransient.Code, Message: ErrTransient.Message, Err: err}
}

// KindOf classifies err. Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of err, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// IsRetryable reports whether the operation can be retried as a whole.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}
