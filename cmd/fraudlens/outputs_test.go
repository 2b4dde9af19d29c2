package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/fraudlens/internal/config"
	"github.com/crimson-sun/fraudlens/internal/model"
	"github.com/crimson-sun/fraudlens/internal/output"
	"github.com/crimson-sun/fraudlens/internal/output/multi"
)

func TestBuildOutputsSingleSinkUnwrapped(t *testing.T) {
	out, err := buildOutputs(config.OutputConfig{Sinks: []string{"stdout"}, Verbosity: "standard"})
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, "stdout", output.NameOf(out))
}

func TestBuildOutputsFanOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.ndjson")
	out, err := buildOutputs(config.OutputConfig{
		Sinks:     []string{"stdout", "file"},
		Verbosity: "minimal",
		Path:      path,
	})
	require.NoError(t, err)
	_, ok := out.(*multi.Multi)
	require.True(t, ok, "expected a fan-out, got %T", out)

	r := model.ScoredTransaction{TransactionID: "TXN_1", RiskLevel: model.RiskLow, Timestamp: time.Now()}
	require.NoError(t, out.Write(context.Background(), r))
	out.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"transaction_id":"TXN_1"`)
}

func TestBuildOutputsErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.OutputConfig
	}{
		{"unknown sink", config.OutputConfig{Sinks: []string{"carrier-pigeon"}}},
		{"bad verbosity", config.OutputConfig{Sinks: []string{"stdout"}, Verbosity: "loud"}},
		{"file without path", config.OutputConfig{Sinks: []string{"stdout", "file"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildOutputs(tt.cfg)
			assert.Error(t, err)
		})
	}
}
