package serving

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/cegan09/PerchCPU/pkg/models"
)

// encodePredictRequest renders a columnar-format predict body:
//
//	{"signature_name": sig, "inputs": {input: [[...], ...]}}
//
// Samples are written with float32 precision.
func encodePredictRequest(signature, input string, t *models.Tensor) ([]byte, error) {
	rows, cols := t.Shape[0], t.Shape[1]
	sigJSON, err := json.Marshal(signature)
	if err != nil {
		return nil, err
	}
	inJSON, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}

	// rough guess: ~12 bytes per sample
	buf := make([]byte, 0, 64+rows*cols*12)
	buf = append(buf, `{"signature_name":`...)
	buf = append(buf, sigJSON...)
	buf = append(buf, `,"inputs":{`...)
	buf = append(buf, inJSON...)
	buf = append(buf, ":["...)
	for r := 0; r < rows; r++ {
		if r > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '[')
		for c, v := range t.Row(r) {
			if c > 0 {
				buf = append(buf, ',')
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("input row %d column %d is not finite", r, c)
			}
			buf = strconv.AppendFloat(buf, v, 'g', -1, 32)
		}
		buf = append(buf, ']')
	}
	buf = append(buf, "]}}"...)
	return buf, nil
}

type predictResponse struct {
	Outputs json.RawMessage `json:"outputs"`
}

// decodePredictResponse reads the "outputs" member. Multi-output signatures
// return an object of named tensors; single-output ones return the bare tensor.
func decodePredictResponse(r io.Reader, sig *Signature) (models.Outputs, error) {
	var resp predictResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, err
	}
	raw := bytes.TrimSpace(resp.Outputs)
	if len(raw) == 0 {
		return nil, errors.New(`response has no "outputs"`)
	}

	out := make(models.Outputs)
	if raw[0] != '{' {
		name := "output_0"
		if names := sig.OutputNames(); len(names) == 1 {
			name = names[0]
		}
		t, err := decodeTensor(raw, sig.Outputs[name])
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", name, err)
		}
		out[name] = t
		return out, nil
	}

	var named map[string]json.RawMessage
	if err := json.Unmarshal(raw, &named); err != nil {
		return nil, err
	}
	for name, v := range named {
		t, err := decodeTensor(v, sig.Outputs[name])
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

// decodeTensor flattens a nested JSON array into a row-major tensor.
// declared is the dtype from the signature, if known.
func decodeTensor(raw json.RawMessage, declared models.DType) (*models.Tensor, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}

	f := flattener{rank: -1}
	if err := f.walk(v, 0); err != nil {
		return nil, err
	}
	if f.rank < 0 {
		f.rank = len(f.shape)
	}

	dtype := declared
	if dtype == "" {
		switch {
		case f.strings:
			dtype = models.String
		case f.bools:
			dtype = models.Bool
		default:
			dtype = models.Float32
		}
	}
	return models.NewTensor(dtype, f.shape[:f.rank], f.values)
}

type flattener struct {
	shape   []int
	rank    int
	values  []float64
	strings bool
	bools   bool
}

var errRagged = errors.New("ragged tensor")

func (f *flattener) walk(v any, depth int) error {
	if list, ok := v.([]any); ok {
		if f.rank >= 0 && depth >= f.rank {
			return errRagged
		}
		if depth == len(f.shape) {
			f.shape = append(f.shape, len(list))
		} else if f.shape[depth] != len(list) {
			return errRagged
		}
		for _, e := range list {
			if err := f.walk(e, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if f.rank < 0 {
		f.rank = depth
	} else if depth != f.rank {
		return errRagged
	}
	switch x := v.(type) {
	case float64:
		f.values = append(f.values, x)
	case bool:
		f.bools = true
		if x {
			f.values = append(f.values, 1)
		} else {
			f.values = append(f.values, 0)
		}
	case string, map[string]any, nil:
		// strings (and base64 {"b64": ...} blobs) carry no numeric value
		f.strings = true
		f.values = append(f.values, math.NaN())
	default:
		return fmt.Errorf("unexpected JSON value %T", v)
	}
	return nil
}
