// Package errs defines the error taxonomy shared across the bill, claim and
// sync layers. Transports map kinds to status codes at the boundary; business
// logic only ever checks kinds.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and transports.
type Kind string

const (
	// KindNotFound: bill, claim, item or participant does not exist.
	KindNotFound Kind = "not_found"
	// KindExpired: the bill is past its expiry horizon.
	KindExpired Kind = "expired"
	// KindNotReady: the bill is still processing its receipt.
	KindNotReady Kind = "not_ready"
	// KindInvalidInput: malformed percentage, amount or name.
	KindInvalidInput Kind = "invalid_input"
	// KindOverClaimed: the percentage sum on an item would exceed 100.
	KindOverClaimed Kind = "over_claimed"
	// KindAnalysisFailed: receipt analysis failed. Non-fatal; the bill
	// stays usable via manual entry.
	KindAnalysisFailed Kind = "analysis_failed"
	// KindConflict: a concurrent write lost the invariant race. Retryable.
	KindConflict Kind = "conflict"
	// KindInternal: everything else.
	KindInternal Kind = "internal"
)

// Error carries a kind alongside the usual message and wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var oc *OverClaimedError
	if errors.As(err, &oc) {
		return KindOverClaimed
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the caller may usefully retry the operation.
func Retryable(err error) bool {
	return KindOf(err) == KindConflict
}

// OverClaimedError reports a claim write that would push an item's percentage
// sum over the ceiling. It carries the amounts so clients can show what is
// still available.
type OverClaimedError struct {
	ItemID    string
	Current   float64 // sum of existing claim percentages on the item
	Attempted float64 // percentage the caller tried to write
	Overage   float64 // how far past 100 the sum would land
}

func (e *OverClaimedError) Error() string {
	return fmt.Sprintf("item %s is over-claimed: %.2f%% claimed, %.2f%% attempted (%.2f%% over)",
		e.ItemID, e.Current, e.Attempted, e.Overage)
}
