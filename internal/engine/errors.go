package engine

import (
	"errors"
	"fmt"
)

// ErrPredictionFailed is the internal-failure kind of a prediction: a valid
// transaction that could not be scored.
var ErrPredictionFailed = errors.New("engine: prediction failed")

// PredictionError attaches the transaction id to an internal scoring failure.
// errors.Is matches both ErrPredictionFailed and the underlying cause.
type PredictionError struct {
	TransactionID string
	Err           error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("engine: prediction failed for %s: %v", e.TransactionID, e.Err)
}

func (e *PredictionError) Unwrap() []error {
	return []error{ErrPredictionFailed, e.Err}
}
