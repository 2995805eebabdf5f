package serving

import (
	"errors"
	"slices"

	"github.com/cegan09/PerchCPU/pkg/models"
)

// initOpSignature is listed by TF Serving for SavedModels but cannot be served.
const initOpSignature = "__saved_model_init_op"

// Signature is the serving signature used for predictions.
type Signature struct {
	Name    string
	Input   string
	Outputs map[string]models.DType
}

// OutputNames returns the declared output names in sorted order.
func (s *Signature) OutputNames() []string {
	names := make([]string, 0, len(s.Outputs))
	for k := range s.Outputs {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

type metadataResponse struct {
	ModelSpec struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"model_spec"`
	Metadata struct {
		SignatureDef struct {
			SignatureDef map[string]signatureDef `json:"signature_def"`
		} `json:"signature_def"`
	} `json:"metadata"`
}

type signatureDef struct {
	Inputs     map[string]tensorInfo `json:"inputs"`
	Outputs    map[string]tensorInfo `json:"outputs"`
	MethodName string                `json:"method_name"`
}

type tensorInfo struct {
	DType string `json:"dtype"`
	Name  string `json:"name"`
}

// selectSignature prefers the named signature and otherwise takes the first
// servable one by name. The input is the first input by name.
func selectSignature(defs map[string]signatureDef, preferred string) (*Signature, error) {
	name := ""
	if _, ok := defs[preferred]; ok {
		name = preferred
	} else {
		names := make([]string, 0, len(defs))
		for k := range defs {
			if k != initOpSignature {
				names = append(names, k)
			}
		}
		if len(names) == 0 {
			return nil, errors.New("no serving signatures in metadata")
		}
		slices.Sort(names)
		name = names[0]
	}

	def := defs[name]
	inputs := make([]string, 0, len(def.Inputs))
	for k := range def.Inputs {
		inputs = append(inputs, k)
	}
	if len(inputs) == 0 {
		return nil, errors.New("signature " + name + " has no inputs")
	}
	slices.Sort(inputs)

	outputs := make(map[string]models.DType, len(def.Outputs))
	for k, info := range def.Outputs {
		outputs[k] = models.DType(info.DType)
	}
	return &Signature{Name: name, Input: inputs[0], Outputs: outputs}, nil
}
