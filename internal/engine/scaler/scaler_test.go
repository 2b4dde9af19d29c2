package scaler

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/fraudlens/internal/engine/features"
	"github.com/crimson-sun/fraudlens/internal/engine/testdata"
	"github.com/crimson-sun/fraudlens/internal/model"
)

// identityFor builds a scaler over the engineered schema with mean 0 and
// scale 1, so Scale is a no-op.
func identityFor(t *testing.T) *Scaler {
	t.Helper()
	n := features.Size
	s, err := New(features.Names(), make([]float64, n), ones(n))
	require.NoError(t, err)
	return s
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func TestScaleAffine(t *testing.T) {
	s, err := New([]string{"a", "b", "c"}, []float64{1, -2, 0}, []float64{2, 4, 0})
	require.NoError(t, err)

	got, err := s.Scale(model.FeatureVector{Names: []string{"a", "b", "c"}, Values: []float64{5, 2, 7}})
	require.NoError(t, err)
	// Zero scale behaves as 1.
	assert.Equal(t, []float64{2, 1, 7}, got)
}

func TestScaleIdentityOnEngineered(t *testing.T) {
	s := identityFor(t)
	fv := features.Engineer(testdata.Example())
	got, err := s.Scale(fv)
	require.NoError(t, err)
	assert.Equal(t, fv.Values, got)

	// Output is a fresh slice.
	got[0] = -99
	assert.Equal(t, 12345.0, fv.Values[0])
}

func TestScaleSchemaMismatch(t *testing.T) {
	s := identityFor(t)
	fv := features.Engineer(testdata.Example())

	tests := []struct {
		name string
		fv   model.FeatureVector
	}{
		{"short", model.FeatureVector{Names: fv.Names[:45], Values: fv.Values[:45]}},
		{"renamed", func() model.FeatureVector {
			names := append([]string(nil), fv.Names...)
			names[31] = "day_of_week"
			return model.FeatureVector{Names: names, Values: fv.Values}
		}()},
		{"reordered", func() model.FeatureVector {
			names := append([]string(nil), fv.Names...)
			names[1], names[2] = names[2], names[1]
			return model.FeatureVector{Names: names, Values: fv.Values}
		}()},
		{"values length", model.FeatureVector{Names: fv.Names, Values: fv.Values[:10]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Scale(tt.fv)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrSchemaMismatch), "got %v", err)
		})
	}
}

func TestNewRejectsLengthMismatch(t *testing.T) {
	_, err := New([]string{"a", "b"}, []float64{0}, []float64{1, 1})
	assert.ErrorIs(t, err, model.ErrSchemaMismatch)

	_, err = New(nil, nil, nil)
	assert.Error(t, err)
}

func TestSchemaReturnsCopy(t *testing.T) {
	s := identityFor(t)
	names := s.Schema()
	names[0] = "mutated"
	assert.Equal(t, "Time", s.Schema()[0])
}

func TestSaveLoadRoundTrip(t *testing.T) {
	n := features.Size
	mean := make([]float64, n)
	scale := make([]float64, n)
	for i := range mean {
		mean[i] = float64(i) * 0.125
		scale[i] = 1 + float64(i)/7
	}
	orig, err := New(features.Names(), mean, scale)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "scaler.safetensors")
	require.NoError(t, orig.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, features.Names(), loaded.Schema())

	fv := features.Engineer(testdata.Example())
	want, err := orig.Scale(fv)
	require.NoError(t, err)
	got, err := loaded.Scale(fv)
	require.NoError(t, err)
	for i := range want {
		if math.Float64bits(want[i]) != math.Float64bits(got[i]) {
			t.Errorf("feature %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLoadF32Tensors(t *testing.T) {
	header := `{"__metadata__":{"feature_names":"a,b"},` +
		`"mean":{"dtype":"F32","shape":[2],"data_offsets":[0,8]},` +
		`"scale":{"dtype":"F32","shape":[2],"data_offsets":[8,16]}}`
	body := make([]byte, 16)
	for i, v := range []float32{1, 2, 0.5, 4} {
		binary.LittleEndian.PutUint32(body[i*4:], math.Float32bits(v))
	}
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(len(header)))
	data = append(data, header...)
	data = append(data, body...)

	path := filepath.Join(t.TempDir(), "f32.safetensors")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	got, err := s.Scale(model.FeatureVector{Names: []string{"a", "b"}, Values: []float64{2, 6}})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1}, got)
}

func TestLoadFailures(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0o644))
		return p
	}
	encode := func(tensors map[string][]float64, meta map[string]string) []byte {
		data, err := encodeSafetensors(tensors, meta)
		require.NoError(t, err)
		return data
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "absent.safetensors")},
		{"truncated", write("short.safetensors", []byte{1, 2, 3})},
		{"bad header", write("bad.safetensors", append([]byte{4, 0, 0, 0, 0, 0, 0, 0}, "nope"...))},
		{"no scale", write("noscale.safetensors", encode(
			map[string][]float64{"mean": {0}},
			map[string]string{"feature_names": "a"}))},
		{"no names", write("nonames.safetensors", encode(
			map[string][]float64{"mean": {0}, "scale": {1}}, nil))},
		{"negative shape", write("negshape.safetensors", rawSafetensors(t,
			`{"mean":{"dtype":"F64","shape":[-1],"data_offsets":[8,0]}}`, make([]byte, 8)))},
		{"offset past data", write("pastend.safetensors", rawSafetensors(t,
			`{"mean":{"dtype":"F64","shape":[1],"data_offsets":[8,16]}}`, make([]byte, 8)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrArtifactUnavailable)
		})
	}
}

// rawSafetensors frames a hand-written header and body in safetensors layout.
func rawSafetensors(t *testing.T, header string, body []byte) []byte {
	t.Helper()
	out := make([]byte, 8, 8+len(header)+len(body))
	binary.LittleEndian.PutUint64(out, uint64(len(header)))
	out = append(out, header...)
	return append(out, body...)
}
