package scaler

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// tensorMeta is the per-tensor header entry of a safetensors file.
type tensorMeta struct {
	Dtype       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// safetensors is a parsed safetensors file: named 1-D tensors widened to
// float64 plus the free-form string metadata.
type safetensors struct {
	tensors  map[string][]float64
	metadata map[string]string
}

// parseSafetensors decodes the layout: 8-byte LE uint64 header length, JSON
// header, then the raw little-endian tensor data.
func parseSafetensors(data []byte) (*safetensors, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("file too small: %d bytes", len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if uint64(len(data)) < 8+headerLen {
		return nil, fmt.Errorf("header length %d exceeds file size", headerLen)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	st := &safetensors{tensors: make(map[string][]float64)}
	body := data[8+headerLen:]

	for name, raw := range header {
		if name == "__metadata__" {
			if err := json.Unmarshal(raw, &st.metadata); err != nil {
				return nil, fmt.Errorf("failed to parse __metadata__: %w", err)
			}
			continue
		}

		var meta tensorMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("tensor %q: failed to parse metadata: %w", name, err)
		}
		vals, err := decodeTensor(meta, body)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		st.tensors[name] = vals
	}
	return st, nil
}

func decodeTensor(meta tensorMeta, body []byte) ([]float64, error) {
	if len(meta.Shape) != 1 {
		return nil, fmt.Errorf("expected 1D tensor, got shape %v", meta.Shape)
	}
	n := meta.Shape[0]

	var width int
	switch meta.Dtype {
	case "F32":
		width = 4
	case "F64":
		width = 8
	default:
		return nil, fmt.Errorf("expected dtype F32 or F64, got %s", meta.Dtype)
	}

	start, end := meta.DataOffsets[0], meta.DataOffsets[1]
	if end-start != n*width {
		return nil, fmt.Errorf("data size %d doesn't match shape %v", end-start, meta.Shape)
	}
	if n < 0 || start < 0 || start > end || end > len(body) {
		return nil, fmt.Errorf("data range [%d:%d] exceeds data size %d", start, end, len(body))
	}

	out := make([]float64, n)
	for i := range out {
		off := start + i*width
		if width == 4 {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(body[off : off+4])))
		} else {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[off : off+8]))
		}
	}
	return out, nil
}

// encodeSafetensors writes F64 tensors and metadata in safetensors layout.
// Tensors are laid out in name order.
func encodeSafetensors(tensors map[string][]float64, metadata map[string]string) ([]byte, error) {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}

	var body bytes.Buffer
	for _, name := range names {
		vals := tensors[name]
		start := body.Len()
		for _, v := range vals {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
			body.Write(b[:])
		}
		header[name] = tensorMeta{
			Dtype:       "F64",
			Shape:       []int{len(vals)},
			DataOffsets: [2]int{start, body.Len()},
		}
	}

	hdr, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 8, 8+len(hdr)+body.Len())
	binary.LittleEndian.PutUint64(out, uint64(len(hdr)))
	out = append(out, hdr...)
	return append(out, body.Bytes()...), nil
}
