package fraudlens

import (
	"time"

	"github.com/crimson-sun/fraudlens/internal/model"
)

// Transaction is a card transaction as captured by the upstream processor.
// It encodes to and decodes from the flat JSON keys Time, V1..V28, Amount.
type Transaction struct {
	Time   float64     // seconds since the reference transaction
	V      [28]float64 // anonymized PCA components V1..V28
	Amount float64     // must be >= 0
}

// MarshalJSON encodes the flat key form.
func (t Transaction) MarshalJSON() ([]byte, error) {
	return t.internal().MarshalJSON()
}

// UnmarshalJSON decodes the flat key form. All 30 keys are required.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var m model.Transaction
	if err := m.UnmarshalJSON(data); err != nil {
		return err
	}
	*t = Transaction{Time: m.Time, V: m.V, Amount: m.Amount}
	return nil
}

// ID returns the transaction id a Result will carry.
func (t Transaction) ID() string {
	return t.internal().ID()
}

func (t Transaction) internal() model.Transaction {
	return model.Transaction{Time: t.Time, V: t.V, Amount: t.Amount}
}

// Result is the verdict for one transaction.
// This is the stable public type; internal representations may evolve
// independently.
type Result struct {
	TransactionID    string    `json:"transaction_id"`
	IsFraud          bool      `json:"is_fraud"`
	FraudProbability float64   `json:"fraud_probability"` // ensemble score
	RiskLevel        string    `json:"risk_level"`        // LOW, MEDIUM or HIGH
	Scores           Scores    `json:"model_scores"`
	ProcessingTimeMS float64   `json:"processing_time_ms"`
	Timestamp        time.Time `json:"timestamp"`
	Amount           float64   `json:"amount"`
}

// Scores are the contributions behind a Result.
type Scores struct {
	Anomaly    float64 `json:"isolation_forest"` // normalized to [0,1]
	Classifier float64 `json:"xgboost"`
	Ensemble   float64 `json:"ensemble"`
}

// BatchResult aggregates a PredictBatch call. Results keep input order;
// failed items are in Errors with their input index.
type BatchResult struct {
	Total                 int         `json:"total_transactions"`
	FraudDetected         int         `json:"fraud_detected"`
	Failed                int         `json:"failed"`
	TotalProcessingTimeMS float64     `json:"total_processing_time_ms"`
	AvgProcessingTimeMS   float64     `json:"avg_processing_time_ms"`
	Results               []Result    `json:"results"`
	Errors                []ItemError `json:"errors,omitempty"`
}

// ItemError reports one failed transaction of a batch.
type ItemError struct {
	Index         int    `json:"index"`
	TransactionID string `json:"transaction_id"`
	Err           error  `json:"-"`
}

func (e ItemError) Error() string {
	return e.TransactionID + ": " + e.Err.Error()
}

func (e ItemError) Unwrap() error { return e.Err }

func resultFromScored(s model.ScoredTransaction) Result {
	r := Result{
		TransactionID:    s.TransactionID,
		IsFraud:          s.IsFraud,
		FraudProbability: s.FraudProbability,
		RiskLevel:        string(s.RiskLevel),
		ProcessingTimeMS: s.ProcessingTimeMS,
		Timestamp:        s.Timestamp,
		Amount:           s.Amount,
	}
	if s.ModelScores != nil {
		r.Scores = Scores{
			Anomaly:    s.ModelScores.IsolationForest,
			Classifier: s.ModelScores.XGBoost,
			Ensemble:   s.ModelScores.Ensemble,
		}
	}
	return r
}

func batchFromModel(b model.BatchResult) BatchResult {
	out := BatchResult{
		Total:                 b.TotalTransactions,
		FraudDetected:         b.FraudDetected,
		Failed:                b.Failed,
		TotalProcessingTimeMS: b.TotalProcessingTimeMS,
		AvgProcessingTimeMS:   b.AvgProcessingTimeMS,
		Results:               make([]Result, len(b.Results)),
	}
	for i, r := range b.Results {
		out.Results[i] = resultFromScored(r)
	}
	for _, e := range b.Errors {
		out.Errors = append(out.Errors, ItemError{Index: e.Index, TransactionID: e.TransactionID, Err: e.Err})
	}
	return out
}
