package ir

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes engine errors.
type ErrorKind string

const (
	KindParsing            ErrorKind = "PARSING"
	KindNotFound           ErrorKind = "NOT_FOUND"
	KindDuplicate          ErrorKind = "DUPLICATE"
	KindTypeMismatch       ErrorKind = "TYPE_MISMATCH"
	KindCardinality        ErrorKind = "CARDINALITY"
	KindRange              ErrorKind = "RANGE"
	KindAllowedValues      ErrorKind = "ALLOWED_VALUES"
	KindInUse              ErrorKind = "IN_USE"
	KindNetworkConsistency ErrorKind = "NETWORK_CONSISTENCY"
	KindProcessing         ErrorKind = "PROCESSING"
	KindUnknownTemplate    ErrorKind = "UNKNOWN_TEMPLATE"
	KindSlotMismatch       ErrorKind = "SLOT_MISMATCH"
	KindNotModifiable      ErrorKind = "NOT_MODIFIABLE"
	KindAlreadyRetracted   ErrorKind = "ALREADY_RETRACTED"
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrParsing            = &Error{Kind: KindParsing}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrDuplicate          = &Error{Kind: KindDuplicate}
	ErrTypeMismatch       = &Error{Kind: KindTypeMismatch}
	ErrCardinality        = &Error{Kind: KindCardinality}
	ErrRange              = &Error{Kind: KindRange}
	ErrAllowedValues      = &Error{Kind: KindAllowedValues}
	ErrInUse              = &Error{Kind: KindInUse}
	ErrNetworkConsistency = &Error{Kind: KindNetworkConsistency}
	ErrProcessing         = &Error{Kind: KindProcessing}
	ErrUnknownTemplate    = &Error{Kind: KindUnknownTemplate}
	ErrSlotMismatch       = &Error{Kind: KindSlotMismatch}
	ErrNotModifiable      = &Error{Kind: KindNotModifiable}
	ErrAlreadyRetracted   = &Error{Kind: KindAlreadyRetracted}
)

// Error is the single error type raised by the engine packages.
//
// Construct and Name identify the construct involved when there is one
// (e.g. Construct "deftemplate", Name "MAIN::person"). Err carries an
// underlying cause such as a user function failure.
type Error struct {
	Kind      ErrorKind
	Construct string
	Name      string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	switch {
	case e.Construct != "" && e.Name != "":
		return fmt.Sprintf("%s: %s %s: %s", e.Kind, e.Construct, e.Name, msg)
	case e.Name != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Name, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind. An already-retracted fact also matches
// ErrNotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return e.Kind == KindAlreadyRetracted && t.Kind == KindNotFound
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// Errorf builds an *Error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ParsingErrorf builds a KindParsing error.
func ParsingErrorf(format string, args ...any) *Error {
	return Errorf(KindParsing, format, args...)
}

// TypeMismatchf builds a KindTypeMismatch error.
func TypeMismatchf(format string, args ...any) *Error {
	return Errorf(KindTypeMismatch, format, args...)
}

// NotFound reports a missing construct.
func NotFound(construct, name string) *Error {
	return &Error{Kind: KindNotFound, Construct: construct, Name: name, Message: "not found"}
}

// Duplicate reports a construct name clash.
func Duplicate(construct, name string) *Error {
	return &Error{Kind: KindDuplicate, Construct: construct, Name: name, Message: "already defined"}
}

// InUse reports a construct that cannot be removed while referenced.
func InUse(construct, name, by string) *Error {
	return &Error{Kind: KindInUse, Construct: construct, Name: name, Message: "in use by " + by}
}

// Processing wraps a failure raised while evaluating an action or function.
func Processing(name string, err error) *Error {
	return &Error{Kind: KindProcessing, Name: name, Err: err}
}

// WithConstruct returns a copy of e attributed to a construct.
func (e *Error) WithConstruct(construct, name string) *Error {
	c := *e
	c.Construct = construct
	c.Name = name
	return &c
}
