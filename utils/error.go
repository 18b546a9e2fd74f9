package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type ErrorKind string

const (
	ErrorKindValidation         ErrorKind = "VALIDATION"
	ErrorKindNotFound           ErrorKind = "NOT_FOUND"
	ErrorKindConflict           ErrorKind = "CONFLICT"
	ErrorKindInsufficientSupply ErrorKind = "INSUFFICIENT_SUPPLY"
	ErrorKindSystem             ErrorKind = "SYSTEM"
)

// CoreError is returned by every engine operation. Identifiers lists the offending
// cones, scan codes or records so callers can act on them.
type CoreError struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	Identifiers []string  `json:"identifiers,omitempty"`
	Err         error     `json:"-"`
}

func (e *CoreError) Error() string {
	msg := e.Message
	if len(e.Identifiers) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(e.Identifiers, ", "))
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// Is matches any CoreError of the same kind, so errors.Is(err, ErrConflict) works.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

var (
	ErrValidation         = &CoreError{Kind: ErrorKindValidation}
	ErrNotFound           = &CoreError{Kind: ErrorKindNotFound}
	ErrConflict           = &CoreError{Kind: ErrorKindConflict}
	ErrInsufficientSupply = &CoreError{Kind: ErrorKindInsufficientSupply}
	ErrSystem             = &CoreError{Kind: ErrorKindSystem}

	ErrorRecordNotFound = &CoreError{Kind: ErrorKindNotFound, Message: "record not found"}
)

func NewValidationError(message string, identifiers ...string) *CoreError {
	return &CoreError{Kind: ErrorKindValidation, Message: message, Identifiers: identifiers}
}

func NewNotFoundError(entity string, identifiers ...string) *CoreError {
	return &CoreError{Kind: ErrorKindNotFound, Message: entity + " not found", Identifiers: identifiers}
}

func NewConflictError(message string, identifiers ...string) *CoreError {
	return &CoreError{Kind: ErrorKindConflict, Message: message, Identifiers: identifiers}
}

func NewInsufficientSupplyError(message string, identifiers ...string) *CoreError {
	return &CoreError{Kind: ErrorKindInsufficientSupply, Message: message, Identifiers: identifiers}
}

// SystemError wraps a store/infrastructure failure. CoreErrors pass through unchanged.
func SystemError(message string, err error) error {
	if err == nil {
		return nil
	}
	var coreErr *CoreError
	if errors.As(err, &coreErr) {
		return err
	}
	return &CoreError{Kind: ErrorKindSystem, Message: message, Err: err}
}

// KindOf reports the kind of err, SYSTEM for anything that is not a CoreError.
func KindOf(err error) ErrorKind {
	var coreErr *CoreError
	if errors.As(err, &coreErr) {
		return coreErr.Kind
	}
	return ErrorKindSystem
}

// IntIds formats numeric ids for CoreError.Identifiers.
func IntIds(ids []int) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.Itoa(id))
	}
	return out
}
