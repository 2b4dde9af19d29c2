package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crimson-sun/fraudlens/internal/engine/artifact"
	"github.com/crimson-sun/fraudlens/internal/engine/ensemble"
	"github.com/crimson-sun/fraudlens/internal/engine/features"
	"github.com/crimson-sun/fraudlens/internal/logging"
	"github.com/crimson-sun/fraudlens/internal/metrics"
	"github.com/crimson-sun/fraudlens/internal/model"
	"github.com/crimson-sun/fraudlens/internal/traces"
)

// Scaler standardizes an engineered feature vector.
type Scaler interface {
	Scale(fv model.FeatureVector) ([]float64, error)
}

// AnomalyScorer returns a raw "higher = more anomalous" score for a scaled row.
type AnomalyScorer interface {
	AnomalyScore(x []float64) (float64, error)
}

// Classifier returns P(fraud) for a scaled row.
type Classifier interface {
	FraudProbability(x []float64) (float64, error)
}

// Engine orchestrates validate → engineer → scale → score → combine.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	scaler     Scaler
	anomaly    AnomalyScorer
	classifier Classifier
	workers    int
	now        func() time.Time
	loaded     func() bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets how many batch items are scored concurrently. Values
// below 1 mean sequential.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n < 1 {
			n = 1
		}
		e.workers = n
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine with the provided components.
func New(sc Scaler, an AnomalyScorer, cls Classifier, opts ...Option) *Engine {
	e := &Engine{
		scaler:     sc,
		anomaly:    an,
		classifier: cls,
		workers:    1,
		now:        time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewFromBundle creates an Engine over loaded artifacts. Ready follows the
// bundle's lifetime.
func NewFromBundle(b *artifact.Bundle, opts ...Option) *Engine {
	e := New(b.Scaler, b.Anomaly, b.Classifier, opts...)
	e.loaded = b.Loaded
	return e
}

// Ready reports whether the engine's models are available for scoring.
// Engines built with New are always ready.
func (e *Engine) Ready() bool {
	return e.loaded == nil || e.loaded()
}

// Predict scores a single transaction. Invalid input returns an error
// wrapping model.ErrInvalidTransaction before any model is called; any later
// failure returns a *PredictionError.
func (e *Engine) Predict(ctx context.Context, txn model.Transaction) (model.ScoredTransaction, error) {
	start := time.Now()
	id := txn.ID()

	ctx, span := traces.StartSpan(ctx, "engine.Predict", traces.TransactionID(id))
	defer span.End()

	if err := txn.Validate(); err != nil {
		span.RecordError(err)
		metrics.PredictionsTotal.WithLabelValues("invalid").Inc()
		return model.ScoredTransaction{}, err
	}

	score, raw, err := e.score(txn)
	if err != nil {
		span.RecordError(err)
		metrics.PredictionsTotal.WithLabelValues("error").Inc()
		logging.L(ctx).Error("prediction failed", "transaction_id", id, "error", err)
		return model.ScoredTransaction{}, &PredictionError{TransactionID: id, Err: err}
	}
	elapsed := time.Since(start)

	span.SetAttributes(traces.RiskLevel(string(score.RiskLevel)), traces.Ensemble(score.Ensemble))
	observe(score, raw, elapsed)

	return model.ScoredTransaction{
		TransactionID:    id,
		IsFraud:          score.IsFraud,
		FraudProbability: round(score.Ensemble, 4),
		RiskLevel:        score.RiskLevel,
		ModelScores: &model.ModelScores{
			IsolationForest: round(score.Anomaly, 4),
			XGBoost:         round(score.Classifier, 4),
			Ensemble:        round(score.Ensemble, 4),
		},
		ProcessingTimeMS: round(ms(elapsed), 2),
		Timestamp:        e.now(),
		Amount:           txn.Amount,
	}, nil
}

// score runs the pure part of the pipeline and returns the combined score
// plus the raw anomaly score for drift monitoring.
func (e *Engine) score(txn model.Transaction) (ensemble.Score, float64, error) {
	x, err := e.scaler.Scale(features.Engineer(txn))
	if err != nil {
		return ensemble.Score{}, 0, fmt.Errorf("scale: %w", err)
	}
	raw, err := e.anomaly.AnomalyScore(x)
	if err != nil {
		return ensemble.Score{}, 0, fmt.Errorf("anomaly: %w", err)
	}
	p, err := e.classifier.FraudProbability(x)
	if err != nil {
		return ensemble.Score{}, 0, fmt.Errorf("classifier: %w", err)
	}
	s, err := ensemble.Combine(ensemble.NormalizeAnomaly(raw), p)
	if err != nil {
		return ensemble.Score{}, 0, err
	}
	return s, raw, nil
}

// PredictBatch scores every transaction independently. A failed item never
// aborts the batch: it is reported in Errors with its input index while the
// rest are scored. Results keep input order.
func (e *Engine) PredictBatch(ctx context.Context, txns []model.Transaction) model.BatchResult {
	start := time.Now()

	ctx, span := traces.StartSpan(ctx, "engine.PredictBatch", traces.BatchSize(len(txns)))
	defer span.End()

	scored := make([]model.ScoredTransaction, len(txns))
	errs := make([]error, len(txns))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range txns {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			scored[i], errs[i] = e.Predict(gctx, txns[i])
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	res := model.BatchResult{
		TotalTransactions: len(txns),
		Results:           make([]model.ScoredTransaction, 0, len(txns)),
	}
	for i := range txns {
		if errs[i] != nil {
			res.Errors = append(res.Errors, model.ItemError{
				Index:         i,
				TransactionID: txns[i].ID(),
				Error:         errs[i].Error(),
				Err:           errs[i],
			})
			continue
		}
		if scored[i].IsFraud {
			res.FraudDetected++
		}
		res.Results = append(res.Results, scored[i])
	}
	res.Failed = len(res.Errors)

	total := ms(time.Since(start))
	res.TotalProcessingTimeMS = round(total, 2)
	if len(txns) > 0 {
		res.AvgProcessingTimeMS = round(total/float64(len(txns)), 2)
	}

	metrics.BatchSize.Observe(float64(len(txns)))
	if res.Failed > 0 {
		logging.L(ctx).Warn("batch had failures", "total", len(txns), "failed", res.Failed)
	}
	return res
}

func observe(s ensemble.Score, raw float64, elapsed time.Duration) {
	outcome := "legit"
	if s.IsFraud {
		outcome = "fraud"
	}
	metrics.PredictionsTotal.WithLabelValues(outcome).Inc()
	metrics.RiskLevelsTotal.WithLabelValues(string(s.RiskLevel)).Inc()
	metrics.PredictionDuration.Observe(elapsed.Seconds())
	metrics.AnomalyRawScore.Observe(raw)
	metrics.FraudProbability.Observe(s.Classifier)
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
