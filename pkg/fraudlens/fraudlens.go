package fraudlens

import (
	"context"
	"fmt"

	"github.com/crimson-sun/fraudlens/internal/engine"
	"github.com/crimson-sun/fraudlens/internal/engine/artifact"
	"github.com/crimson-sun/fraudlens/internal/model"
)

// Errors callers can match with errors.Is.
var (
	ErrInvalidTransaction  = model.ErrInvalidTransaction
	ErrPredictionFailed    = engine.ErrPredictionFailed
	ErrArtifactUnavailable = model.ErrArtifactUnavailable
	ErrSchemaMismatch      = model.ErrSchemaMismatch
)

// Detector scores transactions. Safe for concurrent use.
type Detector struct {
	engine *engine.Engine
	bundle *artifact.Bundle // nil when built over injected components
}

// New loads the scaler and both models named by the manifest. This is an
// expensive operation; create once, reuse across requests.
func New(opts ...Option) (*Detector, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	b, err := artifact.Load(o.manifestPath)
	if err != nil {
		return nil, fmt.Errorf("fraudlens: %w", err)
	}
	return &Detector{
		engine: engine.NewFromBundle(b, engine.WithWorkers(o.batchWorkers)),
		bundle: b,
	}, nil
}

// Predict scores a single transaction. A transaction failing validation
// returns an error matching ErrInvalidTransaction; an internal failure
// matches ErrPredictionFailed.
func (d *Detector) Predict(ctx context.Context, txn Transaction) (Result, error) {
	s, err := d.engine.Predict(ctx, txn.internal())
	if err != nil {
		return Result{}, err
	}
	return resultFromScored(s), nil
}

// PredictBatch scores every transaction independently; one failure never
// aborts the others.
func (d *Detector) PredictBatch(ctx context.Context, txns []Transaction) BatchResult {
	in := make([]model.Transaction, len(txns))
	for i, t := range txns {
		in[i] = t.internal()
	}
	return batchFromModel(d.engine.PredictBatch(ctx, in))
}

// Close releases the model sessions.
func (d *Detector) Close() error {
	if d.bundle == nil {
		return nil
	}
	return d.bundle.Close()
}
