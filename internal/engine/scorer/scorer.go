// Package scorer runs the two tabular ONNX models: the isolation-forest
// anomaly detector and the gradient-boosted fraud classifier.
//
// Both take scaled feature rows and are safe for concurrent use.
package scorer

import (
	"errors"
	"fmt"
	"math"
)

// ErrBadOutput is returned when a model produces a value the caller cannot
// use (NaN, wrong length, probability outside [0,1]).
var ErrBadOutput = errors.New("scorer: bad model output")

// AnomalyConfig maps the exported model output onto a "higher = more
// anomalous" score: raw = Sign * (output + Offset).
//
// An isolation forest exported as decision_function has output
// score_samples - offset_, so Sign -1 and Offset offset_ reproduce
// -score_samples.
type AnomalyConfig struct {
	Config
	Sign   float64
	Offset float64
}

// Anomaly scores how unusual a scaled feature row is.
type Anomaly struct {
	sess   *session
	sign   float64
	offset float64
}

// NewAnomaly loads the anomaly model. InitRuntime must have been called.
func NewAnomaly(cfg AnomalyConfig) (*Anomaly, error) {
	if cfg.Sign == 0 {
		cfg.Sign = -1
	}
	sess, err := newSession(cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("scorer: anomaly: %w", err)
	}
	if sess.width != 1 {
		sess.close()
		return nil, fmt.Errorf("scorer: anomaly: output %q has %d columns, want 1", sess.outputName, sess.width)
	}
	return &Anomaly{sess: sess, sign: cfg.Sign, offset: cfg.Offset}, nil
}

// AnomalyScore returns the raw anomaly score for one row.
func (a *Anomaly) AnomalyScore(x []float64) (float64, error) {
	out, err := a.AnomalyScores([][]float64{x})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// AnomalyScores scores rows in a single runtime call.
func (a *Anomaly) AnomalyScores(rows [][]float64) ([]float64, error) {
	out, err := a.sess.infer(rows)
	if err != nil {
		return nil, fmt.Errorf("scorer: anomaly: %w", err)
	}
	return orient(out, len(rows), a.sign, a.offset)
}

// Close releases the runtime session.
func (a *Anomaly) Close() error {
	return a.sess.close()
}

// orient applies sign and offset to one value per row.
func orient(out []float32, rows int, sign, offset float64) ([]float64, error) {
	if len(out) != rows {
		return nil, fmt.Errorf("%w: %d values for %d rows", ErrBadOutput, len(out), rows)
	}
	scores := make([]float64, rows)
	for i, v := range out {
		s := sign * (float64(v) + offset)
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%w: row %d anomaly score %v", ErrBadOutput, i, s)
		}
		scores[i] = s
	}
	return scores, nil
}

// Classifier estimates the probability that a scaled row is fraud.
type Classifier struct {
	sess *session
}

// NewClassifier loads the classifier. Its output is either a [batch, 2]
// probability tensor with the fraud class in column 1, or a [batch] /
// [batch, 1] tensor holding P(fraud) directly.
func NewClassifier(cfg Config) (*Classifier, error) {
	sess, err := newSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("scorer: classifier: %w", err)
	}
	if sess.width != 1 && sess.width != 2 {
		sess.close()
		return nil, fmt.Errorf("scorer: classifier: output %q has %d columns, want 1 or 2", sess.outputName, sess.width)
	}
	return &Classifier{sess: sess}, nil
}

// FraudProbability returns P(fraud) for one row.
func (c *Classifier) FraudProbability(x []float64) (float64, error) {
	out, err := c.FraudProbabilities([][]float64{x})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// FraudProbabilities scores rows in a single runtime call.
func (c *Classifier) FraudProbabilities(rows [][]float64) ([]float64, error) {
	out, err := c.sess.infer(rows)
	if err != nil {
		return nil, fmt.Errorf("scorer: classifier: %w", err)
	}
	return positiveClass(out, len(rows), int(c.sess.width))
}

// Close releases the runtime session.
func (c *Classifier) Close() error {
	return c.sess.close()
}

// positiveClass extracts P(fraud) from a row-major [rows, width] tensor:
// column 1 when width is 2, the only column when width is 1.
func positiveClass(out []float32, rows, width int) ([]float64, error) {
	if (width != 1 && width != 2) || len(out) != rows*width {
		return nil, fmt.Errorf("%w: %d values for %d rows of width %d", ErrBadOutput, len(out), rows, width)
	}
	col := width - 1
	probs := make([]float64, rows)
	for i := range probs {
		p := float64(out[i*width+col])
		if !(p >= 0 && p <= 1) {
			return nil, fmt.Errorf("%w: row %d probability %v", ErrBadOutput, i, p)
		}
		probs[i] = p
	}
	return probs, nil
}
