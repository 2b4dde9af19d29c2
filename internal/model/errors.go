package model

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaMismatch means a feature vector does not match the layout a
	// fitted artifact expects.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrArtifactUnavailable means a model or scaler artifact failed to load
	// or to respond.
	ErrArtifactUnavailable = errors.New("artifact unavailable")

	// ErrInvalidTransaction means caller-supplied fields violate domain
	// constraints.
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// InvalidTransactionError names the offending field of a rejected transaction.
type InvalidTransactionError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *InvalidTransactionError) Error() string {
	return fmt.Sprintf("invalid transaction: %s=%v %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidTransactionError) Unwrap() error { return ErrInvalidTransaction }

// MissingFieldError is returned when decoding a transaction that lacks one of
// its required fields.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("transaction: missing required field %q", e.Field)
}
