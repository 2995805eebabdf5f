// Package batch groups loaded clips into fixed-size micro-batches.
package batch

import (
	"fmt"
	"iter"

	"github.com/cegan09/PerchCPU/pkg/models"
)

// Batch is an ordered group of clips scored by one model invocation.
type Batch struct {
	IDs   []string
	Clips [][]float32
}

// Len returns the number of clips in the batch.
func (b *Batch) Len() int {
	return len(b.IDs)
}

// Tensor stacks the clips into a (len, samples) float32 tensor.
// All clips must have the same length.
func (b *Batch) Tensor() (*models.Tensor, error) {
	if b.Len() == 0 {
		return nil, fmt.Errorf("batch: cannot stack an empty batch")
	}
	width := len(b.Clips[0])
	values := make([]float64, 0, b.Len()*width)
	for i, clip := range b.Clips {
		if len(clip) != width {
			return nil, fmt.Errorf("batch: clip %s has %d samples, expected %d", b.IDs[i], len(clip), width)
		}
		for _, v := range clip {
			values = append(values, float64(v))
		}
	}
	return models.NewTensor(models.Float32, []int{b.Len(), width}, values)
}

// Accumulator buffers clips in arrival order and hands out full batches.
type Accumulator struct {
	size    int
	pending *Batch
}

// NewAccumulator returns an accumulator emitting batches of size clips.
func NewAccumulator(size int) (*Accumulator, error) {
	if size < 1 {
		return nil, fmt.Errorf("batch: size must be at least 1, got %d", size)
	}
	return &Accumulator{size: size}, nil
}

// Add appends a clip. When the buffer reaches the batch size the full batch
// is returned and the buffer starts over.
func (a *Accumulator) Add(id string, clip []float32) (*Batch, bool) {
	if a.pending == nil {
		a.pending = &Batch{
			IDs:   make([]string, 0, a.size),
			Clips: make([][]float32, 0, a.size),
		}
	}
	a.pending.IDs = append(a.pending.IDs, id)
	a.pending.Clips = append(a.pending.Clips, clip)
	if len(a.pending.IDs) < a.size {
		return nil, false
	}
	full := a.pending
	a.pending = nil
	return full, true
}

// Flush returns the partial batch left after the input is exhausted, if any.
func (a *Accumulator) Flush() (*Batch, bool) {
	if a.pending == nil || a.pending.Len() == 0 {
		return nil, false
	}
	rest := a.pending
	a.pending = nil
	return rest, true
}

// Pending returns how many clips are buffered.
func (a *Accumulator) Pending() int {
	if a.pending == nil {
		return 0
	}
	return a.pending.Len()
}

// Batches lazily regroups (id, clip) pairs into batches of size clips,
// ending with a short batch when the count is not a multiple of size.
// size must be at least 1.
func Batches(clips iter.Seq2[string, []float32], size int) iter.Seq[*Batch] {
	return func(yield func(*Batch) bool) {
		acc, err := NewAccumulator(size)
		if err != nil {
			panic(err)
		}
		for id, clip := range clips {
			if b, ok := acc.Add(id, clip); ok {
				if !yield(b) {
					return
				}
			}
		}
		if b, ok := acc.Flush(); ok {
			yield(b)
		}
	}
}
