package vcs

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures.
type Kind uint8

const (
	KindValidation Kind = iota + 1
	KindAuthorization
	KindConflict
	KindIntegrity
	KindNotFound
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindIntegrity:
		return "integrity"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by every engine operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrIntegrity     = &Error{Kind: KindIntegrity}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrStorage       = &Error{Kind: KindStorage}
)

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind, so errors.Is(err, ErrConflict) works
// for any conflict.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of err, or zero when err is not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func Validation(op, message string) error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

func Authorization(op, message string) error {
	return &Error{Kind: KindAuthorization, Op: op, Message: message}
}

func Conflict(op, message string, err error) error {
	return &Error{Kind: KindConflict, Op: op, Message: message, Err: err}
}

func Integrity(op, message string) error {
	return &Error{Kind: KindIntegrity, Op: op, Message: message}
}

func NotFound(op, message string) error {
	return &Error{Kind: KindNotFound, Op: op, Message: message}
}

// Storage wraps a persistence failure. Engine errors pass through untouched.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindStorage, Op: op, Err: err}
}
