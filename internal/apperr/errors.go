// Package apperr holds the error taxonomy shared by the storefront packages.
// Every failure that reaches a caller is one of a small set of kinds, each
// with a machine code and a message safe to show to a shopper.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound            Kind = "NOT_FOUND"
	KindInsufficientStock   Kind = "INSUFFICIENT_STOCK"
	KindValidation          Kind = "VALIDATION_ERROR"
	KindTransactionConflict Kind = "TRANSACTION_CONFLICT"
	KindInternal            Kind = "INTERNAL"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrValidation          = errors.New("validation failed")
	ErrTransactionConflict = errors.New("transaction conflict")
)

type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
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
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrInsufficientStock:
		return e.Kind == KindInsufficientStock
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrTransactionConflict:
		return e.Kind == KindTransactionConflict
	}
	return false
}

// Retryable reports whether repeating the whole operation may succeed.
func (e *Error) Retryable() bool { return e.Kind == KindTransactionConflict }

func NotFound(entity, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found", entity),
		Details: map[string]any{"entity": entity, "id": id},
	}
}

// InsufficientStock names the first (product, size) that could not be served.
func InsufficientStock(productID, size string, requested, available int) *Error {
	return &Error{
		Kind:    KindInsufficientStock,
		Message: fmt.Sprintf("insufficient stock for product %s size %s", productID, size),
		Details: map[string]any{
			"productId": productID,
			"size":      size,
			"requested": requested,
			"available": available,
		},
	}
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Invalid builds a validation error carrying per-field reasons.
func Invalid(msg string, fields map[string]string) *Error {
	e := &Error{Kind: KindValidation, Message: msg}
	if len(fields) > 0 {
		e.Details = map[string]any{"fields": fields}
	}
	return e
}

func Conflict(cause error) *Error {
	return &Error{Kind: KindTransactionConflict, Message: "concurrent update, retry the request", Err: cause}
}

func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: cause}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf classifies err. Anything outside the taxonomy is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}
