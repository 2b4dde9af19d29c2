// Package artifact performs the one-time load of everything scoring needs:
// the fitted scaler and the two exported models, pinned together by a
// manifest. Loading is all or nothing.
package artifact

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/crimson-sun/fraudlens/internal/engine/features"
	"github.com/crimson-sun/fraudlens/internal/engine/scaler"
	"github.com/crimson-sun/fraudlens/internal/engine/scorer"
	"github.com/crimson-sun/fraudlens/internal/model"
)

// Bundle holds the loaded artifacts. It is immutable after Load and safe
// for concurrent use.
type Bundle struct {
	Manifest   *Manifest
	Scaler     *scaler.Scaler
	Anomaly    *scorer.Anomaly
	Classifier *scorer.Classifier

	closed atomic.Bool
}

// Load reads the manifest at path and loads every artifact it names. Any
// failure releases what was already loaded and returns an error wrapping
// model.ErrArtifactUnavailable (or model.ErrSchemaMismatch when the scaler
// was fitted on a different feature layout).
func Load(path string) (*Bundle, error) {
	m, err := ReadManifest(path)
	if err != nil {
		return nil, fmt.Errorf("artifact: %w: manifest: %w", model.ErrArtifactUnavailable, err)
	}

	sc, err := scaler.Load(m.Resolve(m.Scaler.Path))
	if err != nil {
		return nil, fmt.Errorf("artifact: %w", err)
	}
	if err := sc.CheckSchema(features.Names()); err != nil {
		return nil, fmt.Errorf("artifact: %w", err)
	}

	if err := scorer.InitRuntime(m.Resolve(m.RuntimeLibrary)); err != nil {
		return nil, fmt.Errorf("artifact: %w: onnx runtime: %w", model.ErrArtifactUnavailable, err)
	}

	an, err := scorer.NewAnomaly(scorer.AnomalyConfig{
		Config: scorer.Config{
			ModelPath:      m.Resolve(m.Anomaly.Path),
			Output:         m.Anomaly.Output,
			Features:       features.Size,
			IntraOpThreads: m.IntraOpThreads,
		},
		Sign:   m.Anomaly.Sign,
		Offset: m.Anomaly.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: %w: %w", model.ErrArtifactUnavailable, err)
	}

	cls, err := scorer.NewClassifier(scorer.Config{
		ModelPath:      m.Resolve(m.Classifier.Path),
		Output:         m.Classifier.Output,
		Features:       features.Size,
		IntraOpThreads: m.IntraOpThreads,
	})
	if err != nil {
		an.Close()
		return nil, fmt.Errorf("artifact: %w: %w", model.ErrArtifactUnavailable, err)
	}

	slog.Info("artifacts loaded",
		"version", m.Version,
		"features", features.Size,
		"anomaly", m.Anomaly.Path,
		"classifier", m.Classifier.Path,
	)
	return &Bundle{Manifest: m, Scaler: sc, Anomaly: an, Classifier: cls}, nil
}

// Loaded reports whether the model sessions are still open.
func (b *Bundle) Loaded() bool {
	return !b.closed.Load()
}

// Close releases the model sessions. Calls after the first are no-ops.
func (b *Bundle) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	var errs []error
	if b.Anomaly != nil {
		errs = append(errs, b.Anomaly.Close())
	}
	if b.Classifier != nil {
		errs = append(errs, b.Classifier.Close())
	}
	return errors.Join(errs...)
}
