package cvssd

import (
	"errors"
	"slices"
	"strings"
)

// Error is the error type for cvssd packages.
//
// Anything returned across a package boundary should have an *Error somewhere
// in its chain. Create one where the failure enters the system (a database
// call, a parse of user input) and wrap with [fmt.Errorf] and "%w" above
// that; only nest another Error to change the [ErrorKind].
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
//
// The format is "Op [kind]: Message: Inner", leaving out empty parts. An
// Error with neither Op nor Message prints as its Inner error.
func (e *Error) Error() string {
	var inner string
	if e.Inner != nil {
		inner = e.Inner.Error()
	}
	if e.Op == "" && e.Message == "" {
		if inner != "" {
			return inner
		}
		return e.Kind.label()
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteByte(' ')
	}
	b.WriteByte('[')
	b.WriteString(e.Kind.label())
	b.WriteByte(']')
	for _, s := range [...]string{e.Message, inner} {
		if s != "" {
			b.WriteString(": ")
			b.WriteString(s)
		}
	}
	return b.String()
}

// Is reports whether "target" is this Error's kind, so that
// errors.Is(err, ErrNotFound) works through any amount of wrapping.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind is a class of error, checked with [errors.Is].
//
// Use ErrInternal when nothing else fits.
type ErrorKind string

// Defined error kinds.
var (
	ErrConflict     = ErrorKind("conflict")     // conflicting action, e.g. duplicate email
	ErrInternal     = ErrorKind("internal")     // non-specific internal error
	ErrInvalid      = ErrorKind("invalid")      // invalid request
	ErrNotFound     = ErrorKind("not found")    // requested object does not exist
	ErrTransient    = ErrorKind("transient")    // may succeed on retry
	ErrUnauthorized = ErrorKind("unauthorized") // missing or bad credentials
)

var kinds = []ErrorKind{ErrConflict, ErrInternal, ErrInvalid, ErrNotFound, ErrTransient, ErrUnauthorized}

func (e ErrorKind) label() string {
	if slices.Contains(kinds, e) {
		return string(e)
	}
	return "???"
}

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}

// KindOf reports the first ErrorKind found in the chain of "err", or
// ErrInternal if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k ErrorKind
	if errors.As(err, &k) {
		return k
	}
	return ErrInternal
}
