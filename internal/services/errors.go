package services

import (
	"github.com/pkg/errors"
)

type ErrorCode string

const (
	ErrorInvalid       ErrorCode = "invalid"
	ErrorForbidden     ErrorCode = "forbidden"
	ErrorNotFound      ErrorCode = "not_found"
	ErrorConflict      ErrorCode = "conflict"
	ErrorUnauthorized  ErrorCode = "unauthorized"
	ErrorConfiguration ErrorCode = "configuration"
)

type ServiceError struct {
	Code    ErrorCode
	Message string
	Fields  map[string]string
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error   { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewForbiddenError(msg string) error { return &ServiceError{Code: ErrorForbidden, Message: msg} }
func NewNotFoundError(msg string) error  { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error  { return &ServiceError{Code: ErrorConflict, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

// NewConfigurationError reports a broken deployment invariant, such as a
// numeric indicator without a top value or a group without an average user.
func NewConfigurationError(msg string) error {
	return &ServiceError{Code: ErrorConfiguration, Message: msg}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsConfigurationError reports whether err carries ErrorConfiguration.
func IsConfigurationError(err error) bool {
	se, ok := AsServiceError(err)
	return ok && se.Code == ErrorConfiguration
}

var (
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAllAnswered means the user answered every indicator of the day.
	ErrAllAnswered = errors.New("all indicators answered")
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
