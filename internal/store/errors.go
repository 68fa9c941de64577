package store

import (
	"errors"
	"fmt"
)

// DomainError carries a machine-readable code next to a human message.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

var (
	ErrEntryNotFound   = NewDomainError(ErrCodeNotFound, "journal entry not found")
	ErrSessionNotFound = NewDomainError(ErrCodeNotFound, "chat session not found")
	ErrPersonaNotFound = NewDomainError(ErrCodeNotFound, "persona not found")
)

var (
	ErrEmptyQuery       = NewDomainError(ErrCodeValidation, "query must not be empty")
	ErrEmptyContent     = NewDomainError(ErrCodeValidation, "content must not be empty")
	ErrMissingField     = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidRole      = NewDomainError(ErrCodeValidation, "message role must be user or assistant")
	ErrInvalidDateRange = NewDomainError(ErrCodeValidation, "date_from must not be after date_to")
)

// ErrorCode returns the DomainError code in err's chain, or "" when there is none.
func ErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsNotFound reports whether err carries the not-found code.
func IsNotFound(err error) bool {
	return ErrorCode(err) == ErrCodeNotFound
}

// IsValidation reports whether err carries the validation code.
func IsValidation(err error) bool {
	return ErrorCode(err) == ErrCodeValidation
}
