package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest lists the artifacts produced by one training run. Relative paths
// resolve against the manifest's directory.
type Manifest struct {
	Version        string      `yaml:"version"`
	RuntimeLibrary string      `yaml:"runtime_library"`
	IntraOpThreads int         `yaml:"intra_op_threads"`
	Scaler         ScalerSpec  `yaml:"scaler"`
	Anomaly        AnomalySpec `yaml:"anomaly"`
	Classifier     ModelSpec   `yaml:"classifier"`

	dir string
}

type ScalerSpec struct {
	Path string `yaml:"path"`
}

type ModelSpec struct {
	Path   string `yaml:"path"`
	Output string `yaml:"output"`
}

// AnomalySpec adds the sign convention of the exported anomaly model.
type AnomalySpec struct {
	ModelSpec `yaml:",inline"`

	Offset float64 `yaml:"offset"`
	Sign   float64 `yaml:"sign"`
}

// ReadManifest parses and validates a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	m.applyDefaults()
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.RuntimeLibrary == "" {
		m.RuntimeLibrary = "libonnxruntime.so"
	}
	if m.Anomaly.Output == "" {
		m.Anomaly.Output = "scores"
	}
	if m.Anomaly.Sign == 0 {
		m.Anomaly.Sign = -1
	}
	if m.Classifier.Output == "" {
		m.Classifier.Output = "probabilities"
	}
}

func (m *Manifest) validate() error {
	switch {
	case m.Scaler.Path == "":
		return fmt.Errorf("scaler.path is required")
	case m.Anomaly.Path == "":
		return fmt.Errorf("anomaly.path is required")
	case m.Classifier.Path == "":
		return fmt.Errorf("classifier.path is required")
	case m.Anomaly.Sign != 1 && m.Anomaly.Sign != -1:
		return fmt.Errorf("anomaly.sign must be 1 or -1, got %v", m.Anomaly.Sign)
	case m.IntraOpThreads < 0:
		return fmt.Errorf("intra_op_threads must be >= 0")
	}
	return nil
}

// Resolve returns p relative to the manifest directory unless it is absolute.
func (m *Manifest) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.dir, p)
}
