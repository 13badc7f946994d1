package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedOperation indicates a store cannot perform an operation,
	// typically because of the dixel's level.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrUnsupportedTransfer indicates no copy policy exists for a
	// source/destination pair.
	ErrUnsupportedTransfer = errors.New("unsupported transfer")

	// ErrConnectionFailure indicates a network-layer failure.
	// These are never retried.
	ErrConnectionFailure = errors.New("connection failure")

	// ErrRetrievalFailed indicates a retrieved entity is still absent locally.
	ErrRetrievalFailed = errors.New("retrieval failed")

	// ErrAmbiguousMatch indicates a forced accession-number match was not
	// among the search results.
	ErrAmbiguousMatch = errors.New("ambiguous match")

	// ErrInvalidTransition indicates an out-of-order retrieval step.
	ErrInvalidTransition = errors.New("invalid retrieval transition")
)

// TransferError reports a copy between two store kinds with no policy.
type TransferError struct {
	From StoreKind
	To   StoreKind
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("unsupported transfer: no copy policy from %s to %s", e.From, e.To)
}

// Unwrap allows errors.Is(err, ErrUnsupportedTransfer).
func (e *TransferError) Unwrap() error {
	return ErrUnsupportedTransfer
}

// ConnectionError wraps a transport failure with its request context.
type ConnectionError struct {
	Method string
	URL    string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failure: %s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap allows errors.Is against both ErrConnectionFailure and the cause.
func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnectionFailure, e.Err}
}

// RetrievalError reports a retrieve that did not materialise locally.
type RetrievalError struct {
	AccessionNumber string
	ID              string
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed: accession number %q (id %s) not present after retrieve",
		e.AccessionNumber, e.ID)
}

// Unwrap allows errors.Is(err, ErrRetrievalFailed).
func (e *RetrievalError) Unwrap() error {
	return ErrRetrievalFailed
}

// AmbiguousMatchError reports a forced accession number missing from results.
type AmbiguousMatchError struct {
	AccessionNumber string
	Candidates      int
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous match: accession number %q not among %d results",
		e.AccessionNumber, e.Candidates)
}

// Unwrap allows errors.Is(err, ErrAmbiguousMatch).
func (e *AmbiguousMatchError) Unwrap() error {
	return ErrAmbiguousMatch
}

// UnsupportedOperation builds an ErrUnsupportedOperation with context.
func UnsupportedOperation(kind StoreKind, op string, level Level) error {
	return fmt.Errorf("%w: %s cannot %s %s-level dixels", ErrUnsupportedOperation, kind, op, level)
}
