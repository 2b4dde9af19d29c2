package scorer

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

// InitRuntime initializes the ONNX Runtime environment from the shared
// library at libPath. Safe to call multiple times; only the first call has
// any effect.
func InitRuntime(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// Config describes one tabular ONNX model.
type Config struct {
	ModelPath string
	// Output is the name of the output tensor to read.
	Output string
	// Features is the expected input width.
	Features int
	// IntraOpThreads bounds per-call parallelism. Zero leaves the runtime default.
	IntraOpThreads int
}

// session wraps a DynamicAdvancedSession for a model with a single float
// input of shape [batch, features].
type session struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	features   int64
	width      int64 // output columns per row
	rank       int   // 1 for [batch], 2 for [batch, width]
}

// newSession loads the model and validates its input/output tensors.
func newSession(cfg Config) (*session, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}

	if len(inputs) != 1 {
		return nil, fmt.Errorf("onnx: expected 1 input, model has %d", len(inputs))
	}
	in := inputs[0]
	if in.DataType != ort.TensorElementDataTypeFloat {
		return nil, fmt.Errorf("onnx: input %q is %s, want float", in.Name, in.DataType)
	}
	if len(in.Dimensions) != 2 {
		return nil, fmt.Errorf("onnx: expected 2D input tensor, got %v", in.Dimensions)
	}
	if d := in.Dimensions[1]; d != -1 && d != int64(cfg.Features) {
		return nil, fmt.Errorf("onnx: input width %d, want %d", d, cfg.Features)
	}

	var out *ort.InputOutputInfo
	for i := range outputs {
		if outputs[i].Name == cfg.Output {
			out = &outputs[i]
			break
		}
	}
	if out == nil {
		return nil, fmt.Errorf("onnx: model has no output %q", cfg.Output)
	}
	if out.DataType != ort.TensorElementDataTypeFloat {
		return nil, fmt.Errorf("onnx: output %q is %s, want float", out.Name, out.DataType)
	}
	width, err := outputWidth(out.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("onnx: output %q: %w", out.Name, err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer opts.Destroy()
	if cfg.IntraOpThreads > 0 {
		opts.SetIntraOpNumThreads(cfg.IntraOpThreads)
	}
	opts.SetInterOpNumThreads(1)

	s, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{in.Name},
		[]string{out.Name},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	return &session{
		session:    s,
		inputName:  in.Name,
		outputName: out.Name,
		features:   int64(cfg.Features),
		width:      width,
		rank:       len(out.Dimensions),
	}, nil
}

// outputWidth returns the per-row column count of a [batch] or
// [batch, k] output.
func outputWidth(dims ort.Shape) (int64, error) {
	switch len(dims) {
	case 1:
		return 1, nil
	case 2:
		if dims[1] <= 0 {
			return 0, fmt.Errorf("dynamic column dimension %v", dims)
		}
		return dims[1], nil
	default:
		return 0, fmt.Errorf("expected 1D or 2D output tensor, got %v", dims)
	}
}

// infer runs one call over rows. Returns the flat output of shape
// [len(rows) * width].
func (s *session) infer(rows [][]float64) ([]float32, error) {
	batch := int64(len(rows))
	flat := make([]float32, 0, batch*s.features)
	for i, r := range rows {
		if int64(len(r)) != s.features {
			return nil, fmt.Errorf("onnx: row %d has %d features, want %d", i, len(r), s.features)
		}
		for _, v := range r {
			flat = append(flat, float32(v))
		}
	}

	tIn, err := ort.NewTensor(ort.NewShape(batch, s.features), flat)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create input tensor: %w", err)
	}
	defer tIn.Destroy()

	outShape := ort.NewShape(batch)
	if s.rank == 2 {
		outShape = ort.NewShape(batch, s.width)
	}
	tOut, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create output tensor: %w", err)
	}
	defer tOut.Destroy()

	if err := s.session.Run([]ort.Value{tIn}, []ort.Value{tOut}); err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}

	// Copy data out before tensor is destroyed.
	src := tOut.GetData()
	result := make([]float32, len(src))
	copy(result, src)
	return result, nil
}

func (s *session) close() error {
	return s.session.Destroy()
}
