// Package vaulterrors defines the error-kind taxonomy shared by the chunk
// store and the vault manager control plane.
package vaulterrors

import "fmt"

// Kind classifies an error the way §7 of the design spec maps error kinds
// to caller-visible treatment.
type Kind string

const (
	KindInvalidArgument  Kind = "invalid_argument"
	KindNotFound         Kind = "not_found"
	KindOutOfCapacity    Kind = "out_of_capacity"
	KindImmutable        Kind = "immutable"
	KindInvalidSignature Kind = "invalid_signature"
	KindTimeout          Kind = "timeout"
	KindTransport        Kind = "transport"
	KindIO               Kind = "io"
)

// Error wraps an underlying error with an operation name and a Kind so
// callers can branch with Is/As instead of matching strings.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op/kind with no wrapped cause.
func New(op string, kind Kind) *Error {
	return &Error{Op: op, Kind: kind}
}

// Wrap builds an *Error for op/kind wrapping err. Returns nil if err is nil.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Is reports whether the first *Error found along err's Unwrap chain
// (err itself included) has the given kind. A *Error nested below that
// first one is not examined.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ve, ok := err.(*Error); ok {
			e = ve
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
