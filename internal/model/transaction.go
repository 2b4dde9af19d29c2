package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// NumV is the number of anonymized PCA components carried by a transaction.
const NumV = 28

// Transaction is the raw card transaction as received from a caller.
type Transaction struct {
	Time   float64      // seconds since the first transaction of the dataset
	V      [NumV]float64 // V1..V28
	Amount float64
}

// ID returns the deterministic transaction identifier "TXN_<trunc(Time)>".
// Time is formatted as a float so values beyond the int64 range keep their
// full integer digits.
func (t Transaction) ID() string {
	whole := math.Trunc(t.Time)
	if whole == 0 {
		whole = 0 // drop the sign of -0
	}
	return "TXN_" + strconv.FormatFloat(whole, 'f', 0, 64)
}

// Validate checks domain constraints that must hold before feature
// engineering runs. It never clamps.
func (t Transaction) Validate() error {
	if !finite(t.Time) {
		return &InvalidTransactionError{Field: "Time", Value: t.Time, Reason: "must be finite"}
	}
	for i, v := range t.V {
		if !finite(v) {
			return &InvalidTransactionError{Field: vKey(i), Value: v, Reason: "must be finite"}
		}
	}
	if !finite(t.Amount) {
		return &InvalidTransactionError{Field: "Amount", Value: t.Amount, Reason: "must be finite"}
	}
	if t.Amount < 0 {
		return &InvalidTransactionError{Field: "Amount", Value: t.Amount, Reason: "must be >= 0"}
	}
	return nil
}

// MarshalJSON encodes the transaction with the flat keys Time, V1..V28, Amount.
func (t Transaction) MarshalJSON() ([]byte, error) {
	m := make(map[string]float64, NumV+2)
	m["Time"] = t.Time
	for i, v := range t.V {
		m[vKey(i)] = v
	}
	m["Amount"] = t.Amount
	return json.Marshal(m)
}

// UnmarshalJSON decodes the flat key form. Every one of the 30 fields is
// required; the first missing one is reported as a *MissingFieldError.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var m map[string]*float64
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("transaction: %w", err)
	}

	get := func(key string) (float64, error) {
		v, ok := m[key]
		if !ok || v == nil {
			return 0, &MissingFieldError{Field: key}
		}
		return *v, nil
	}

	var out Transaction
	var err error
	if out.Time, err = get("Time"); err != nil {
		return err
	}
	for i := range out.V {
		if out.V[i], err = get(vKey(i)); err != nil {
			return err
		}
	}
	if out.Amount, err = get("Amount"); err != nil {
		return err
	}
	*t = out
	return nil
}

func vKey(i int) string {
	return "V" + strconv.Itoa(i+1)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
