// Package fault defines the error taxonomy shared by every ripple layer.
//
// Errors are classified into a small set of kinds so callers can decide
// whether to retry (Transport, Cancelled), surface to an operator
// (Integrity, Crypto), or fail the operation (everything else). No kind is
// silently recovered inside the library.
package fault

import (
	"errors"
	"fmt"
)

// Kind categorizes an error.
type Kind int

const (
	// Config indicates a bad storage URL or missing required credentials.
	Config Kind = iota + 1
	// Engine indicates the embedded SQL engine failed.
	Engine
	// Serialization indicates a changelog entry could not be encoded or
	// decoded (corrupt object, unknown type tag).
	Serialization
	// Integrity indicates the remote store is inconsistent, e.g. a manifest
	// references a missing batch.
	Integrity
	// Transport indicates object store I/O failure. Retriable by the caller.
	Transport
	// Cancelled indicates a cancel signal was observed at a safe point.
	Cancelled
	// Crypto indicates AEAD authentication failure: wrong passphrase or a
	// tampered object.
	Crypto
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case Engine:
		return "engine"
	case Serialization:
		return "serialization"
	case Integrity:
		return "integrity"
	case Transport:
		return "transport"
	case Cancelled:
		return "cancelled"
	case Crypto:
		return "crypto"
	default:
		return "unknown"
	}
}

// Error is an error carrying a Kind. It wraps an underlying cause when one
// exists, and participates in errors.Is/As chains.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message. Returns nil if err is nil.
// The new kind becomes the outermost classification reported by KindOf; a
// kind already carried by err stays reachable through IsKind.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or 0 if the chain carries no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsKind reports whether err's chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if fe, ok := e.(*Error); ok && fe.Kind == kind {
			return true
		}
	}
	return false
}
