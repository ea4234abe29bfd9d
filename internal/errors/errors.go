// Package errors provides typed domain errors shared by the screening
// components. Each error carries a Type that dispatchers use to decide
// whether a unit of work is worth retrying.
package errors

import (
	stderrors "errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

type ErrorType string

const (
	ErrTypeNotFound     ErrorType = "NOT_FOUND"
	ErrTypeInvalidInput ErrorType = "INVALID_INPUT"
	ErrTypeConflict     ErrorType = "CONFLICT"
	ErrTypeInternal     ErrorType = "INTERNAL"
	ErrTypeUnavailable  ErrorType = "UNAVAILABLE"
	ErrTypeRateLimit    ErrorType = "RATE_LIMIT"
)

type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Stack   []byte
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func (e *DomainError) StackTrace() []byte {
	return e.Stack
}

func New(errType ErrorType, message string, err error) *DomainError {
	var stack []byte
	if err != nil {
		if stackErr, ok := err.(*goerrors.Error); ok {
			stack = stackErr.Stack()
		} else {
			stack = goerrors.Wrap(err, 2).Stack()
		}
	} else {
		stack = goerrors.New(message).Stack()
	}

	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Stack:   stack,
	}
}

func NotFound(message string, err error) *DomainError {
	return New(ErrTypeNotFound, message, err)
}

func InvalidInput(message string, err error) *DomainError {
	return New(ErrTypeInvalidInput, message, err)
}

func Conflict(message string, err error) *DomainError {
	return New(ErrTypeConflict, message, err)
}

func Internal(message string, err error) *DomainError {
	return New(ErrTypeInternal, message, err)
}

func Unavailable(message string, err error) *DomainError {
	return New(ErrTypeUnavailable, message, err)
}

func RateLimit(message string, err error) *DomainError {
	return New(ErrTypeRateLimit, message, err)
}

// TypeOf returns the type of the outermost DomainError in the chain, or
// ErrTypeInternal for plain errors.
func TypeOf(err error) ErrorType {
	var domainErr *DomainError
	if stderrors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ErrTypeInternal
}

// Is reports whether err carries the given type anywhere in its chain.
func Is(err error, errType ErrorType) bool {
	for err != nil {
		var domainErr *DomainError
		if !stderrors.As(err, &domainErr) {
			return false
		}
		if domainErr.Type == errType {
			return true
		}
		err = domainErr.Err
	}
	return false
}

// IsRetriable reports whether a failed unit should be attempted again.
// Missing records, bad input and status conflicts never succeed on retry.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	switch TypeOf(err) {
	case ErrTypeNotFound, ErrTypeInvalidInput, ErrTypeConflict:
		return false
	default:
		return true
	}
}
