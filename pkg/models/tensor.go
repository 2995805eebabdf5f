package models

import (
	"fmt"
	"slices"
)

// DType names a tensor element type using TensorFlow's enum spelling,
// which is what TF Serving reports in model metadata.
type DType string

const (
	Float16 DType = "DT_HALF"
	Float32 DType = "DT_FLOAT"
	Float64 DType = "DT_DOUBLE"
	Int32   DType = "DT_INT32"
	Int64   DType = "DT_INT64"
	String  DType = "DT_STRING"
	Bool    DType = "DT_BOOL"
)

// IsFloat reports whether the dtype is a floating-point type.
func (d DType) IsFloat() bool {
	switch d {
	case Float16, Float32, Float64, "DT_BFLOAT16":
		return true
	}
	return false
}

// Tensor is a dense N-dimensional array stored row-major.
// Numeric tensors keep their values as float64 regardless of DType.
type Tensor struct {
	DType  DType
	Shape  []int
	Values []float64
}

// Outputs maps output names to tensors, as returned by a model invocation.
type Outputs map[string]*Tensor

// NewTensor validates that len(values) matches the product of shape.
func NewTensor(dtype DType, shape []int, values []float64) (*Tensor, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("tensor: negative dimension in shape %v", shape)
		}
		n *= d
	}
	if n != len(values) {
		return nil, fmt.Errorf("tensor: shape %v needs %d values, got %d", shape, n, len(values))
	}
	return &Tensor{DType: dtype, Shape: slices.Clone(shape), Values: values}, nil
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// Row returns row i of a 2-D tensor without copying.
func (t *Tensor) Row(i int) []float64 {
	cols := t.Shape[1]
	return t.Values[i*cols : (i+1)*cols]
}

// Names returns the output names in sorted order.
func (o Outputs) Names() []string {
	names := make([]string, 0, len(o))
	for k := range o {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
