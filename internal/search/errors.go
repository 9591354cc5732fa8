package search

import (
	"errors"
	"fmt"
)

// ErrorCode classifies execution engine failures.
type ErrorCode int

const (
	// CodeInternal covers engine failures with no more specific class.
	CodeInternal ErrorCode = iota
	// CodeCancelled covers queries rejected or aborted by the engine
	// because it is overloaded or the query was cancelled.
	CodeCancelled
	// CodeSQLNotValid covers queries the engine refused to parse.
	CodeSQLNotValid
)

// Error is a classified execution engine error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Classify extracts the classified error from an error chain, if any.
func Classify(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsCancelled reports whether err is a cancelled/overloaded engine error.
func IsCancelled(err error) bool {
	se, ok := Classify(err)
	return ok && se.Code == CodeCancelled
}
