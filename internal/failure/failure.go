// Package failure defines the error taxonomy shared by every pipeline stage.
//
// Each error carries a Kind. Kinds are either permanent (the trigger must never
// redeliver the event) or transient (a bounded local retry is attempted, then the
// trigger is asked to redeliver). InternalFault sits between the two: it is
// retried by the trigger exactly once and then surfaced as permanent.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind categorizes a pipeline failure.
type Kind int

const (
	// KindInvalidPath indicates the object path does not match the input contract.
	KindInvalidPath Kind = iota + 1
	// KindUnsupportedCategory indicates the content type maps to no handler.
	KindUnsupportedCategory
	// KindCeilingExceeded indicates a size, count, ratio or depth limit was hit.
	KindCeilingExceeded
	// KindCorruptSource indicates the payload is not a valid instance of its format.
	KindCorruptSource
	// KindInvalidEnvelope indicates a required provenance field was missing.
	KindInvalidEnvelope
	// KindInvalidEvent indicates the trigger payload itself was malformed.
	KindInvalidEvent
	// KindTransientIO indicates a download, upload or remote call failure.
	KindTransientIO
	// KindInternalFault indicates a programming or assertion failure.
	KindInternalFault
)

var kindNames = map[Kind]string{
	KindInvalidPath:         "InvalidPath",
	KindUnsupportedCategory: "UnsupportedCategory",
	KindCeilingExceeded:     "CeilingExceeded",
	KindCorruptSource:       "CorruptSource",
	KindInvalidEnvelope:     "InvalidEnvelope",
	KindInvalidEvent:        "InvalidEvent",
	KindTransientIO:         "TransientIO",
	KindInternalFault:       "InternalFault",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Permanent reports whether failures of this kind must never be retried.
func (k Kind) Permanent() bool {
	switch k {
	case KindTransientIO, KindInternalFault:
		return false
	default:
		return true
	}
}

// Error is a classified pipeline failure.
type Error struct {
	Kind Kind
	// Reason is a human-readable explanation suitable for status reports.
	Reason string
	// Identifier names the offending object, entry or field.
	Identifier string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + ": " + e.Reason
	if e.Identifier != "" {
		msg += " (" + e.Identifier + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error of the given kind.
func New(kind Kind, identifier, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, Identifier: identifier}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, identifier, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Identifier: identifier, Err: err}
}

// Newf builds an Error with a formatted reason.
func Newf(kind Kind, identifier, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...), Identifier: identifier}
}

// Transient wraps an I/O failure as KindTransientIO.
func Transient(identifier, reason string, err error) *Error {
	return Wrap(KindTransientIO, identifier, reason, err)
}

// As extracts the classified Error from err, if any.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the kind of err. Unclassified errors are InternalFault, except
// context deadline and cancellation which are transient I/O.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransientIO
	}
	return KindInternalFault
}

// IsPermanent reports whether err must never be retried.
func IsPermanent(err error) bool {
	return err != nil && KindOf(err).Permanent()
}

// IsTransient reports whether err is a transient I/O failure eligible for local retry.
func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransientIO
}

// Classify returns err as a classified Error, wrapping unclassified errors.
func Classify(err error, identifier string) *Error {
	if err == nil {
		return nil
	}
	if fe, ok := As(err); ok {
		return fe
	}
	kind := KindOf(err)
	reason := "unexpected internal fault"
	if kind == KindTransientIO {
		reason = "operation timed out or was cancelled"
	}
	return Wrap(kind, identifier, reason, err)
}
