package model

import "time"

// RiskLevel is the coarse triage bucket derived from the ensemble score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Rank orders risk levels; unknown levels rank below LOW.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}

// ModelScores are the contributing scores of a prediction.
type ModelScores struct {
	IsolationForest float64 `json:"isolation_forest"` // normalized anomaly score
	XGBoost         float64 `json:"xgboost"`          // classifier probability
	Ensemble        float64 `json:"ensemble"`
}

// ScoredTransaction is fraudlens's output type: one scored transaction.
type ScoredTransaction struct {
	TransactionID    string       `json:"transaction_id"`
	IsFraud          bool         `json:"is_fraud"`
	FraudProbability float64      `json:"fraud_probability"`
	RiskLevel        RiskLevel    `json:"risk_level"`
	ModelScores      *ModelScores `json:"model_scores,omitempty"` // nil at minimal verbosity
	ProcessingTimeMS float64      `json:"processing_time_ms"`
	Timestamp        time.Time    `json:"timestamp"`
	Amount           float64      `json:"amount"`
}

// ItemError reports a failed transaction inside a batch.
type ItemError struct {
	Index         int    `json:"index"`
	TransactionID string `json:"transaction_id"`
	Error         string `json:"error"`
	Err           error  `json:"-"`
}

// BatchResult aggregates a batch prediction. Results hold the successful
// items in input order; Errors hold the failed ones with their input index.
type BatchResult struct {
	TotalTransactions     int                 `json:"total_transactions"`
	FraudDetected         int                 `json:"fraud_detected"`
	Failed                int                 `json:"failed"`
	TotalProcessingTimeMS float64             `json:"total_processing_time_ms"`
	AvgProcessingTimeMS   float64             `json:"avg_processing_time_ms"`
	Results               []ScoredTransaction `json:"results"`
	Errors                []ItemError         `json:"errors,omitempty"`
}
