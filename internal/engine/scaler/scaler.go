// Package scaler applies the StandardScaler fitted at training time.
//
// The artifact is a safetensors file holding two 1-D tensors, "mean" and
// "scale", and a comma-separated "feature_names" entry in __metadata__ that
// pins the exact ordered layout the scaler was fitted on.
package scaler

import (
	"fmt"
	"os"
	"strings"

	"github.com/crimson-sun/fraudlens/internal/model"
)

const (
	tensorMean   = "mean"
	tensorScale  = "scale"
	metaFeatures = "feature_names"
)

// Scaler is an immutable fitted affine transform. Safe for concurrent use.
type Scaler struct {
	names []string
	mean  []float64
	scale []float64
}

// New builds a Scaler from fitted parameters. A zero scale entry is treated
// as 1, matching StandardScaler's handling of constant features.
func New(names []string, mean, scale []float64) (*Scaler, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("scaler: empty feature schema")
	}
	if len(mean) != len(names) || len(scale) != len(names) {
		return nil, fmt.Errorf("scaler: %w: %d names, %d means, %d scales",
			model.ErrSchemaMismatch, len(names), len(mean), len(scale))
	}

	s := &Scaler{
		names: append([]string(nil), names...),
		mean:  append([]float64(nil), mean...),
		scale: append([]float64(nil), scale...),
	}
	for i, v := range s.scale {
		if v == 0 {
			s.scale[i] = 1
		}
	}
	return s, nil
}

// Load reads a scaler artifact from a safetensors file.
func Load(path string) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scaler: %w: %w", model.ErrArtifactUnavailable, err)
	}

	st, err := parseSafetensors(data)
	if err != nil {
		return nil, fmt.Errorf("scaler: %w: %s: %w", model.ErrArtifactUnavailable, path, err)
	}

	mean, ok := st.tensors[tensorMean]
	if !ok {
		return nil, fmt.Errorf("scaler: %w: tensor %q not found", model.ErrArtifactUnavailable, tensorMean)
	}
	scale, ok := st.tensors[tensorScale]
	if !ok {
		return nil, fmt.Errorf("scaler: %w: tensor %q not found", model.ErrArtifactUnavailable, tensorScale)
	}
	raw := st.metadata[metaFeatures]
	if raw == "" {
		return nil, fmt.Errorf("scaler: %w: metadata %q not found", model.ErrArtifactUnavailable, metaFeatures)
	}

	return New(strings.Split(raw, ","), mean, scale)
}

// Save writes the scaler as a safetensors artifact.
func (s *Scaler) Save(path string) error {
	data, err := encodeSafetensors(
		map[string][]float64{tensorMean: s.mean, tensorScale: s.scale},
		map[string]string{metaFeatures: strings.Join(s.names, ",")},
	)
	if err != nil {
		return fmt.Errorf("scaler: encode: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Schema returns a copy of the ordered feature names the scaler was fitted on.
func (s *Scaler) Schema() []string {
	return append([]string(nil), s.names...)
}

// CheckSchema reports whether names matches the fitted layout exactly.
func (s *Scaler) CheckSchema(names []string) error {
	if len(names) != len(s.names) {
		return fmt.Errorf("scaler: %w: got %d features, fitted on %d",
			model.ErrSchemaMismatch, len(names), len(s.names))
	}
	for i, n := range names {
		if n != s.names[i] {
			return fmt.Errorf("scaler: %w: feature %d is %q, fitted on %q",
				model.ErrSchemaMismatch, i, n, s.names[i])
		}
	}
	return nil
}

// Scale returns (x - mean) / scale per feature as a new slice.
func (s *Scaler) Scale(fv model.FeatureVector) ([]float64, error) {
	if err := s.CheckSchema(fv.Names); err != nil {
		return nil, err
	}
	if len(fv.Values) != len(s.names) {
		return nil, fmt.Errorf("scaler: %w: %d values for %d features",
			model.ErrSchemaMismatch, len(fv.Values), len(s.names))
	}

	out := make([]float64, len(fv.Values))
	for i, x := range fv.Values {
		out[i] = (x - s.mean[i]) / s.scale[i]
	}
	return out, nil
}
