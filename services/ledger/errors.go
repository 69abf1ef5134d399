package ledger

import (
	"errors"
	"fmt"
)

// Sentinel causes carried inside ValidationError / ConflictError.
var (
	ErrNonPositiveAmount = errors.New("amount must be greater than zero")
	ErrOverdraw          = errors.New("payment exceeds remaining balance")
	ErrVoucherCancelled  = errors.New("voucher is cancelled")
	ErrAlreadySettled    = errors.New("voucher is already paid")
	ErrDerivedStatus     = errors.New("status is derived from payments and cannot be set directly")
	ErrMilestoneIssued   = errors.New("milestone already has an active voucher")
	ErrMilestoneLocked   = errors.New("milestone has an active voucher and cannot be changed")
	ErrConcurrentUpdate  = errors.New("voucher was modified concurrently, retry")
	ErrDuplicateName     = errors.New("name already exists")
	ErrCampusHasClients  = errors.New("campus still has clients")
	ErrInvalidInput      = errors.New("invalid input")
)

// FieldError points a validation failure at a request field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError means the request was rejected before anything was written.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation failed"
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NotFoundError is returned for missing rows and rows outside the caller's scope.
type NotFoundError struct {
	Resource string
	ID       uint
}

func (e *NotFoundError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

func notFound(resource string, id uint) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError reports a uniqueness or state conflict with existing data.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string { return e.Err.Error() }

func (e *ConflictError) Unwrap() error { return e.Err }

func conflict(err error) error {
	return &ConflictError{Err: err}
}

// ForbiddenError is returned when the principal may read but not change a resource.
type ForbiddenError struct {
	Action string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("not allowed to %s", e.Action)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}
