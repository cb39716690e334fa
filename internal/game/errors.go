package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiliankoe/dropone/internal/storage"
)

// Kind classifies an engine error for callers.
type Kind string

const (
	KindNotFound            Kind = "NotFound"
	KindWrongPhase          Kind = "WrongPhase"
	KindInvalidChoice       Kind = "InvalidChoice"
	KindInvalidArgument     Kind = "InvalidArgument"
	KindNotLiving           Kind = "NotLiving"
	KindDuplicateIdentity   Kind = "DuplicateIdentity"
	KindSessionLocked       Kind = "SessionLocked"
	KindInvalidTransition   Kind = "InvalidTransition"
	KindAlreadyResolved     Kind = "AlreadyResolved"
	KindConcurrencyConflict Kind = "ConcurrencyConflict"
	KindStoreUnavailable    Kind = "StoreUnavailable"
)

// Error is returned by every engine operation that fails.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so errors.Is(err, ErrWrongPhase)
// holds for every wrong-phase rejection regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrWrongPhase          = &Error{Kind: KindWrongPhase, Message: "wrong phase"}
	ErrInvalidChoice       = &Error{Kind: KindInvalidChoice, Message: "invalid choice"}
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrNotLiving           = &Error{Kind: KindNotLiving, Message: "participant is not living"}
	ErrDuplicateIdentity   = &Error{Kind: KindDuplicateIdentity, Message: "identity already enrolled"}
	ErrSessionLocked       = &Error{Kind: KindSessionLocked, Message: "session locked"}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition, Message: "invalid transition"}
	ErrAlreadyResolved     = &Error{Kind: KindAlreadyResolved, Message: "round already resolved"}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict, Message: "concurrent update"}
	ErrStoreUnavailable    = &Error{Kind: KindStoreUnavailable, Message: "store unavailable"}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of err, or "" when err is not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether repeating the whole operation may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConcurrencyConflict, KindStoreUnavailable:
		return true
	}
	return false
}

// translate maps storage failures onto engine kinds.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return wrapError(KindNotFound, "record not found", err)
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrAlreadyExists):
		return wrapError(KindConcurrencyConflict, "concurrent update", err)
	}
	return wrapError(KindStoreUnavailable, "store failure", err)
}
