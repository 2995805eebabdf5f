// Package scoring turns raw model outputs into ranked class predictions.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/cegan09/PerchCPU/pkg/models"
	"gonum.org/v1/gonum/floats"
)

// DefaultScoreKeys lists conventional score output names in priority order.
// Perch exposes its scores under "label".
var DefaultScoreKeys = []string{"scores", "score", "probabilities", "probs", "logits", "label"}

// ErrNoScoreTensor is returned when no output entry can be used as scores.
var ErrNoScoreTensor = errors.New("no score tensor found")

// Matrix is a dense row-major (rows x cols) score matrix.
type Matrix struct {
	Rows int
	Cols int
	Data []float64
}

// Row returns row i without copying.
func (m *Matrix) Row(i int) []float64 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// Resolved is the score tensor chosen from a model's outputs.
type Resolved struct {
	Key       string
	Scores    *Matrix
	Fallback  bool // chosen by the largest-2D-float rule rather than by name
	Softmaxed bool // negative values were found and a softmax was applied
}

// Resolver locates the per-class score tensor in an output mapping.
type Resolver struct {
	keys []string
}

// NewResolver returns a resolver trying keys in order before falling back
// to the widest 2-D floating-point output. Empty keys selects DefaultScoreKeys.
func NewResolver(keys []string) *Resolver {
	if len(keys) == 0 {
		keys = DefaultScoreKeys
	}
	return &Resolver{keys: slices.Clone(keys)}
}

// Keys returns the priority list in use.
func (r *Resolver) Keys() []string {
	return slices.Clone(r.keys)
}

// Resolve picks the score tensor and normalizes it if it looks like logits.
// The returned matrix never aliases the model's output buffers.
func (r *Resolver) Resolve(out models.Outputs) (*Resolved, error) {
	key, t, fallback, err := r.pick(out)
	if err != nil {
		return nil, err
	}

	m := &Matrix{Rows: t.Shape[0], Cols: t.Shape[1], Data: slices.Clone(t.Values)}
	softmaxed := SoftmaxIfNeeded(m)
	return &Resolved{Key: key, Scores: m, Fallback: fallback, Softmaxed: softmaxed}, nil
}

func (r *Resolver) pick(out models.Outputs) (string, *models.Tensor, bool, error) {
	for _, k := range r.keys {
		t, ok := out[k]
		if !ok || t == nil {
			continue
		}
		if t.Rank() != 2 {
			return "", nil, false, fmt.Errorf("output %q has shape %v, expected 2-D: %w", k, t.Shape, ErrNoScoreTensor)
		}
		return k, t, false, nil
	}

	// Widest 2-D float tensor; ties go to the first name in sorted order.
	var bestKey string
	var best *models.Tensor
	for _, k := range out.Names() {
		t := out[k]
		if t == nil || t.Rank() != 2 || !t.DType.IsFloat() {
			continue
		}
		if best == nil || t.Shape[1] > best.Shape[1] {
			bestKey, best = k, t
		}
	}
	if best == nil {
		return "", nil, false, fmt.Errorf("outputs %v: %w", out.Names(), ErrNoScoreTensor)
	}
	return bestKey, best, true, nil
}

// SoftmaxIfNeeded applies a row-wise softmax in place when any value is
// negative, treating the matrix as logits. It reports whether it did.
// Already-normalized outputs with negative entries would be misread as
// logits; there is no way to tell them apart from the values alone.
func SoftmaxIfNeeded(m *Matrix) bool {
	if !slices.ContainsFunc(m.Data, func(v float64) bool { return v < 0 }) {
		return false
	}
	for i := 0; i < m.Rows; i++ {
		Softmax(m.Row(i))
	}
	return true
}

// Softmax replaces row with exp(row) / sum(exp(row)), computed stably.
func Softmax(row []float64) {
	if len(row) == 0 {
		return
	}
	lse := floats.LogSumExp(row)
	for i, v := range row {
		row[i] = math.Exp(v - lse)
	}
}
