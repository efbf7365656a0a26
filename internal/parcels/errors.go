package parcels

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks missing or invalid input; nothing was written.
	ErrValidation = errors.New("parcels: validation failed")
	// ErrNotFound marks a referenced package or recipient that does not exist.
	ErrNotFound = errors.New("parcels: not found")
	// ErrConflict marks an operation blocked by the current state of the data.
	ErrConflict = errors.New("parcels: conflict")
	// ErrPersistence marks a failed store operation.
	ErrPersistence = errors.New("parcels: persistence failure")
)

// ServiceError carries a stable code of the form "<operation>.<reason>" along with
// the taxonomy kind and the underlying cause.
type ServiceError struct {
	code string
	kind error
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Is matches the taxonomy sentinel the error was classified as.
func (e *ServiceError) Is(target error) bool {
	return e.kind != nil && target == e.kind
}

func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns one of ErrValidation, ErrNotFound, ErrConflict or ErrPersistence.
func (e *ServiceError) Kind() error {
	return e.kind
}

// Message returns the cause text without the code prefix.
func (e *ServiceError) Message() string {
	if e.err == nil {
		return e.code
	}
	return e.err.Error()
}

func newServiceError(operation, reason string, kind, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, kind: kind, err: cause}
}

func validationError(operation, reason, message string) error {
	return newServiceError(operation, reason, ErrValidation, errors.New(message))
}
