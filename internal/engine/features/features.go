// Package features derives the model input vector from a raw transaction.
//
// The layout produced here is the one the scaler artifact was fitted on.
// Reordering, renaming or dropping a feature silently invalidates every
// downstream score, so the order below is load-bearing.
package features

import (
	"math"
	"strconv"

	"github.com/crimson-sun/fraudlens/internal/model"
)

// AmountPercentilePlaceholder is the inference-time value of
// amount_percentile. Training computes the bucket against full-dataset
// quantiles (25/50/75/90/95th); inference has no quantile table and uses
// this constant. Known train/serve skew, kept on purpose.
const AmountPercentilePlaceholder = 2

// ExtremeThreshold is the |Vi| magnitude above which a component counts
// towards v_extreme_count.
const ExtremeThreshold = 3.0

const (
	secondsPerHour = 3600.0
	secondsPerDay  = 86400.0
	hoursPerDay    = 24.0
)

var derivedNames = []string{
	"hour",
	"day",
	"hour_sin",
	"hour_cos",
	"amount_log",
	"amount_percentile",
	"amount_decimal",
	"is_round_amount",
	"v_mean",
	"v_std",
	"v_min",
	"v_max",
	"v_range",
	"v_extreme_count",
	"v1_v2_interaction",
	"v4_amount_interaction",
}

// schema is the full ordered layout: Time, V1..V28, Amount, derived.
var schema = buildSchema()

func buildSchema() []string {
	names := make([]string, 0, 2+model.NumV+len(derivedNames))
	names = append(names, "Time")
	for i := 1; i <= model.NumV; i++ {
		names = append(names, "V"+strconv.Itoa(i))
	}
	names = append(names, "Amount")
	return append(names, derivedNames...)
}

// Size is the number of features in the engineered vector.
var Size = len(schema)

// Names returns a copy of the ordered feature schema.
func Names() []string {
	out := make([]string, len(schema))
	copy(out, schema)
	return out
}

// Engineer builds the feature vector for a validated transaction. It is pure
// and deterministic: identical input yields bit-identical output.
func Engineer(txn model.Transaction) model.FeatureVector {
	vals := make([]float64, 0, len(schema))

	// Raw fields in schema order.
	vals = append(vals, txn.Time)
	vals = append(vals, txn.V[:]...)
	vals = append(vals, txn.Amount)

	// Time.
	hour := floorMod(txn.Time/secondsPerHour, hoursPerDay)
	day := math.Trunc(txn.Time / secondsPerDay)
	angle := 2 * math.Pi * hour / hoursPerDay
	vals = append(vals, hour, day, math.Sin(angle), math.Cos(angle))

	// Amount.
	amountLog := math.Log1p(txn.Amount)
	decimal := floorMod(txn.Amount, 1)
	var round float64
	if decimal == 0 {
		round = 1
	}
	vals = append(vals, amountLog, AmountPercentilePlaceholder, decimal, round)

	// Cross-component statistics.
	st := stats(txn.V[:])
	vals = append(vals, st.mean, st.std, st.min, st.max, st.max-st.min, float64(st.extreme))

	// Interactions.
	vals = append(vals, txn.V[0]*txn.V[1], txn.V[3]*amountLog)

	return model.FeatureVector{Names: schema, Values: vals}
}

type vStats struct {
	mean, std, min, max float64
	extreme             int
}

// stats computes mean, sample standard deviation (n-1), min, max and the
// extreme count in two fixed-order passes.
func stats(v []float64) vStats {
	s := vStats{min: v[0], max: v[0]}
	var sum float64
	for _, x := range v {
		sum += x
		if x < s.min {
			s.min = x
		}
		if x > s.max {
			s.max = x
		}
		if math.Abs(x) > ExtremeThreshold {
			s.extreme++
		}
	}
	n := float64(len(v))
	s.mean = sum / n

	var ss float64
	for _, x := range v {
		d := x - s.mean
		ss += float64(d * d) // no FMA: keeps the sum bit-identical across architectures
	}
	s.std = math.Sqrt(ss / (n - 1))
	return s
}

// floorMod is the modulo with the sign of the divisor, so the result is
// always in [0, m) for positive m.
func floorMod(x, m float64) float64 {
	r := math.Mod(x, m)
	if r < 0 {
		r += m
	}
	return r
}
