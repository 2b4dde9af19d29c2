package engine

import (
	"context"
	"errors"
	"math"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/fraudlens/internal/engine/artifact"
	"github.com/crimson-sun/fraudlens/internal/engine/ensemble"
	"github.com/crimson-sun/fraudlens/internal/engine/features"
	"github.com/crimson-sun/fraudlens/internal/engine/scaler"
	"github.com/crimson-sun/fraudlens/internal/engine/testdata"
	"github.com/crimson-sun/fraudlens/internal/model"
)

const manifestPath = "../../models/manifest.yaml"

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// amountIndex is the position of Amount in the engineered (and, with an
// identity scaler, scaled) vector.
const amountIndex = 1 + model.NumV

type fakeAnomaly struct {
	calls atomic.Int64
	score float64
	err   error
}

func (f *fakeAnomaly) AnomalyScore(x []float64) (float64, error) {
	f.calls.Add(1)
	return f.score, f.err
}

// fakeClassifier returns high probability for large amounts.
type fakeClassifier struct {
	calls atomic.Int64
	err   error
	fixed *float64
}

func (f *fakeClassifier) FraudProbability(x []float64) (float64, error) {
	f.calls.Add(1)
	if f.err != nil {
		return 0, f.err
	}
	if f.fixed != nil {
		return *f.fixed, nil
	}
	if x[amountIndex] > 1000 {
		return 0.95, nil
	}
	return 0.05, nil
}

func identityScaler(t *testing.T) *scaler.Scaler {
	t.Helper()
	n := features.Size
	scale := make([]float64, n)
	for i := range scale {
		scale[i] = 1
	}
	s, err := scaler.New(features.Names(), make([]float64, n), scale)
	require.NoError(t, err)
	return s
}

func newFakeEngine(t *testing.T, an *fakeAnomaly, cls *fakeClassifier, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(identityScaler(t), an, cls, opts...)
}

func TestPredictExample(t *testing.T) {
	an := &fakeAnomaly{score: 0.1}
	p := 0.9
	eng := newFakeEngine(t, an, &fakeClassifier{fixed: &p})

	res, err := eng.Predict(context.Background(), testdata.Example())
	require.NoError(t, err)

	assert.Equal(t, "TXN_12345", res.TransactionID)
	assert.True(t, res.IsFraud)
	assert.Equal(t, model.RiskHigh, res.RiskLevel)
	assert.InDelta(t, 0.81, res.FraudProbability, 1e-12)
	require.NotNil(t, res.ModelScores)
	assert.InDelta(t, 0.6, res.ModelScores.IsolationForest, 1e-12)
	assert.InDelta(t, 0.9, res.ModelScores.XGBoost, 1e-12)
	assert.Equal(t, res.FraudProbability, res.ModelScores.Ensemble)
	assert.Equal(t, 149.62, res.Amount)
	assert.Equal(t, fixedNow, res.Timestamp)
	assert.GreaterOrEqual(t, res.ProcessingTimeMS, 0.0)
}

func TestPredictRoundsOutputs(t *testing.T) {
	an := &fakeAnomaly{score: 0.123456789}
	p := 0.333333333
	eng := newFakeEngine(t, an, &fakeClassifier{fixed: &p})

	res, err := eng.Predict(context.Background(), testdata.Example())
	require.NoError(t, err)

	for _, v := range []float64{res.FraudProbability, res.ModelScores.IsolationForest, res.ModelScores.XGBoost} {
		assert.InDelta(t, math.Round(v*1e4)/1e4, v, 1e-15)
	}
	assert.InDelta(t, math.Round(res.ProcessingTimeMS*100)/100, res.ProcessingTimeMS, 1e-12)
}

func TestPredictDeterministic(t *testing.T) {
	an := &fakeAnomaly{score: -0.2}
	eng := newFakeEngine(t, an, &fakeClassifier{})

	for _, txn := range testdata.Transactions() {
		a, err := eng.Predict(context.Background(), txn)
		require.NoError(t, err)
		b, err := eng.Predict(context.Background(), txn)
		require.NoError(t, err)

		assert.Equal(t, math.Float64bits(a.FraudProbability), math.Float64bits(b.FraudProbability))
		assert.Equal(t, *a.ModelScores, *b.ModelScores)
		assert.Equal(t, a.RiskLevel, b.RiskLevel)
		assert.Equal(t, a.IsFraud, b.IsFraud)
	}
}

func TestPredictRejectsInvalidBeforeModels(t *testing.T) {
	an := &fakeAnomaly{}
	cls := &fakeClassifier{}
	eng := newFakeEngine(t, an, cls)

	txn := testdata.Example()
	txn.Amount = -5

	_, err := eng.Predict(context.Background(), txn)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidTransaction)
	assert.NotErrorIs(t, err, ErrPredictionFailed)

	var inv *model.InvalidTransactionError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "Amount", inv.Field)

	assert.Zero(t, an.calls.Load())
	assert.Zero(t, cls.calls.Load())

	txn = testdata.Example()
	txn.V[4] = math.Inf(1)
	_, err = eng.Predict(context.Background(), txn)
	assert.ErrorIs(t, err, model.ErrInvalidTransaction)
	assert.Zero(t, an.calls.Load())
}

func TestPredictInternalFailures(t *testing.T) {
	errBoom := errors.New("session exploded")
	bad := 1.5

	foreign, err := scaler.New([]string{"a"}, []float64{0}, []float64{1})
	require.NoError(t, err)

	tests := []struct {
		name  string
		eng   func(t *testing.T) *Engine
		cause error
	}{
		{
			name: "anomaly error",
			eng: func(t *testing.T) *Engine {
				return newFakeEngine(t, &fakeAnomaly{err: errBoom}, &fakeClassifier{})
			},
			cause: errBoom,
		},
		{
			name: "classifier error",
			eng: func(t *testing.T) *Engine {
				return newFakeEngine(t, &fakeAnomaly{}, &fakeClassifier{err: errBoom})
			},
			cause: errBoom,
		},
		{
			name: "probability out of range",
			eng: func(t *testing.T) *Engine {
				return newFakeEngine(t, &fakeAnomaly{}, &fakeClassifier{fixed: &bad})
			},
			cause: ensemble.ErrScoreOutOfRange,
		},
		{
			name: "scaler schema mismatch",
			eng: func(t *testing.T) *Engine {
				return New(foreign, &fakeAnomaly{}, &fakeClassifier{})
			},
			cause: model.ErrSchemaMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.eng(t).Predict(context.Background(), testdata.Example())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrPredictionFailed)
			assert.ErrorIs(t, err, tt.cause)

			var pe *PredictionError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "TXN_12345", pe.TransactionID)
		})
	}
}

func batchFixture() []model.Transaction {
	legit := testdata.Example()

	big := testdata.Example()
	big.Time = 20000
	big.Amount = 5000

	invalid := testdata.Example()
	invalid.Time = 30000
	invalid.Amount = -1

	other := testdata.Example()
	other.Time = 40000
	other.Amount = 12

	return []model.Transaction{legit, big, invalid, other}
}

func TestPredictBatchAggregates(t *testing.T) {
	eng := newFakeEngine(t, &fakeAnomaly{}, &fakeClassifier{})
	txns := batchFixture()

	res := eng.PredictBatch(context.Background(), txns)

	assert.Equal(t, 4, res.TotalTransactions)
	assert.Equal(t, 1, res.FraudDetected)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Results, 3)
	require.Len(t, res.Errors, 1)

	assert.Equal(t, []string{"TXN_12345", "TXN_20000", "TXN_40000"}, []string{
		res.Results[0].TransactionID, res.Results[1].TransactionID, res.Results[2].TransactionID,
	})
	assert.True(t, res.Results[1].IsFraud)
	assert.Equal(t, model.RiskHigh, res.Results[1].RiskLevel)

	assert.Equal(t, 2, res.Errors[0].Index)
	assert.Equal(t, "TXN_30000", res.Errors[0].TransactionID)
	assert.ErrorIs(t, res.Errors[0].Err, model.ErrInvalidTransaction)
	assert.NotEmpty(t, res.Errors[0].Error)

	fraud := 0
	for _, r := range res.Results {
		if r.IsFraud {
			fraud++
		}
	}
	assert.Equal(t, fraud, res.FraudDetected)
	assert.InDelta(t, res.TotalProcessingTimeMS/4, res.AvgProcessingTimeMS, 0.01)
}

func TestPredictBatchParallelKeepsOrder(t *testing.T) {
	seq := newFakeEngine(t, &fakeAnomaly{score: 0.05}, &fakeClassifier{})
	par := newFakeEngine(t, &fakeAnomaly{score: 0.05}, &fakeClassifier{}, WithWorkers(8))

	txns := make([]model.Transaction, 100)
	for i := range txns {
		txns[i] = testdata.Example()
		txns[i].Time = float64(i * 60)
		txns[i].Amount = float64(i * 37)
	}

	a := seq.PredictBatch(context.Background(), txns)
	b := par.PredictBatch(context.Background(), txns)

	require.Len(t, b.Results, len(txns))
	assert.Equal(t, a.FraudDetected, b.FraudDetected)
	for i := range txns {
		assert.Equal(t, txns[i].ID(), b.Results[i].TransactionID)
		assert.Equal(t, a.Results[i].FraudProbability, b.Results[i].FraudProbability)
	}
}

func TestPredictBatchCanceled(t *testing.T) {
	cls := &fakeClassifier{}
	eng := newFakeEngine(t, &fakeAnomaly{}, cls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := eng.PredictBatch(ctx, batchFixture())
	assert.Equal(t, 4, res.Failed)
	assert.Empty(t, res.Results)
	assert.ErrorIs(t, res.Errors[0].Err, context.Canceled)
	assert.Zero(t, cls.calls.Load())
}

func TestPredictBatchEmpty(t *testing.T) {
	eng := newFakeEngine(t, &fakeAnomaly{}, &fakeClassifier{})
	res := eng.PredictBatch(context.Background(), nil)
	assert.Zero(t, res.TotalTransactions)
	assert.Zero(t, res.AvgProcessingTimeMS)
	assert.Empty(t, res.Results)
}

func TestReadyFollowsBundle(t *testing.T) {
	assert.True(t, New(nil, nil, nil).Ready())

	b := &artifact.Bundle{}
	eng := NewFromBundle(b)
	assert.True(t, eng.Ready())

	require.NoError(t, b.Close())
	assert.False(t, eng.Ready())
	require.NoError(t, b.Close())
}

func TestWithWorkersClamps(t *testing.T) {
	eng := New(nil, nil, nil, WithWorkers(-3))
	assert.Equal(t, 1, eng.workers)
}

// TestPredictWithModels runs the real artifacts end to end.
func TestPredictWithModels(t *testing.T) {
	if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
		t.Skip("model artifacts not available, skipping integration test")
	}
	b, err := artifact.Load(manifestPath)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	eng := NewFromBundle(b, WithWorkers(4))

	res := eng.PredictBatch(context.Background(), testdata.Transactions())
	require.Zero(t, res.Failed, "errors: %v", res.Errors)
	for _, r := range res.Results {
		assert.GreaterOrEqual(t, r.FraudProbability, 0.0)
		assert.LessOrEqual(t, r.FraudProbability, 1.0)
		assert.NotZero(t, r.RiskLevel.Rank(), r.TransactionID)
		assert.Equal(t, r.RiskLevel != model.RiskLow, r.IsFraud, r.TransactionID)
	}

	a, err := eng.Predict(context.Background(), testdata.Example())
	require.NoError(t, err)
	c, err := eng.Predict(context.Background(), testdata.Example())
	require.NoError(t, err)
	assert.Equal(t, math.Float64bits(a.FraudProbability), math.Float64bits(c.FraudProbability))
}
