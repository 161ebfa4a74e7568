package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies a sync failure. The set is closed: every failure surfaced
// by the ingestion and integrity pipelines carries exactly one of these.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindUpstream
	KindStorage
)

// kindMessages maps each kind to its operator-visible message.
var kindMessages = map[Kind]string{
	KindUnknown:    "unclassified error",
	KindValidation: "record violates domain invariant",
	KindUpstream:   "vendor request failed",
	KindStorage:    "storage transaction failed",
}

// Error is a classified sync error. Op names the operation that failed
// (e.g. "marketstore.UpsertBars", "vendor.FetchDailyPrices").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := kindMessages[e.Kind]
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation reports a row-level invariant violation.
func Validation(op string, err error) *Error {
	return New(KindValidation, op, err)
}

// Upstream reports a vendor/network failure.
func Upstream(op string, err error) *Error {
	return New(KindUpstream, op, err)
}

// Storage reports a batch-level transaction failure.
func Storage(op string, err error) *Error {
	return New(KindStorage, op, err)
}

// KindOf extracts the kind from err, or KindUnknown if err is not classified.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// Message returns the enumerated message for a kind.
func Message(kind Kind) string {
	return kindMessages[kind]
}
