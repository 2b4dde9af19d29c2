// Package ensemble merges the anomaly detector and the classifier into one
// fraud probability, a verdict and a risk tier.
//
// All constants here are calibration values fixed at deploy time. They are
// not configurable per call.
package ensemble

import (
	"errors"
	"fmt"
	"math"

	"github.com/crimson-sun/fraudlens/internal/model"
)

const (
	// WeightClassifier and WeightAnomaly must sum to 1.
	WeightClassifier = 0.7
	WeightAnomaly    = 0.3

	// FraudThreshold is the ensemble score at and above which a transaction
	// is flagged. MEDIUM starts at the same value, so MEDIUM is fraud.
	FraudThreshold = 0.5
	HighThreshold  = 0.8

	// AnomalyRangeMin and AnomalyRangeMax bound the raw anomaly score
	// assumed when rescaling to [0,1]. Fixed from offline analysis, not
	// derived from live traffic; a shift in the model's raw score
	// distribution drifts the normalized score.
	AnomalyRangeMin = -0.5
	AnomalyRangeMax = 0.5
)

// ErrScoreOutOfRange is an internal invariant failure: a scorer handed the
// combiner a value outside [0,1].
var ErrScoreOutOfRange = errors.New("ensemble: score out of range")

// Score is the combined outcome for one transaction.
type Score struct {
	Anomaly    float64 // normalized anomaly score in [0,1]
	Classifier float64 // classifier probability in [0,1]
	Ensemble   float64
	IsFraud    bool
	RiskLevel  model.RiskLevel
}

// NormalizeAnomaly rescales a raw "higher = more anomalous" score from the
// fixed calibration range into [0,1], clamping values outside the range.
func NormalizeAnomaly(raw float64) float64 {
	n := (raw - AnomalyRangeMin) / (AnomalyRangeMax - AnomalyRangeMin)
	return math.Max(0, math.Min(1, n))
}

// Combine merges a normalized anomaly score and a classifier probability.
func Combine(anomaly, probability float64) (Score, error) {
	if !inUnit(anomaly) {
		return Score{}, fmt.Errorf("%w: anomaly=%v", ErrScoreOutOfRange, anomaly)
	}
	if !inUnit(probability) {
		return Score{}, fmt.Errorf("%w: classifier=%v", ErrScoreOutOfRange, probability)
	}

	// Explicit conversions keep the compiler from fusing into an FMA, so the
	// result is bit-identical across architectures.
	e := float64(WeightClassifier*probability) + float64(WeightAnomaly*anomaly)
	isFraud, level := Verdict(e)
	return Score{
		Anomaly:    anomaly,
		Classifier: probability,
		Ensemble:   e,
		IsFraud:    isFraud,
		RiskLevel:  level,
	}, nil
}

// Verdict returns the fraud flag and risk tier for an ensemble score.
func Verdict(score float64) (bool, model.RiskLevel) {
	return score >= FraudThreshold, Tier(score)
}

// Tier maps an ensemble score to a risk level. First match wins, top down.
func Tier(score float64) model.RiskLevel {
	switch {
	case score >= HighThreshold:
		return model.RiskHigh
	case score >= FraudThreshold:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}
