package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. Every error produced by graph construction, compilation,
// execution or module loading unwraps to exactly one of these.
var (
	ErrDeclaration         = errors.New("declaration error")
	ErrCompilation         = errors.New("compilation error")
	ErrMissingArgument     = errors.New("missing argument")
	ErrShapeMismatch       = errors.New("shape mismatch")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrLayoutInconsistency = errors.New("layout inconsistency")
	ErrNotCompiled         = errors.New("graph not compiled")
	ErrFrozen              = errors.New("graph is frozen")
)

// Error carries a kind from the taxonomy above plus a human readable message
// and, optionally, the collaborator error that caused it.
type Error struct {
	Kind  error
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Errorf builds an *Error of the given kind.
func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrapf builds an *Error of the given kind around cause.
func Wrapf(kind, cause error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

func declarationf(format string, args ...any) error {
	return Errorf(ErrDeclaration, format, args...)
}
