package scoring

import (
	"container/heap"
	"math"
	"slices"
	"strconv"
)

// Ranked is a class index with its score.
type Ranked struct {
	Index int
	Score float64
}

// Label renders the class index as text; the model exposes no label names.
func (r Ranked) Label() string {
	return strconv.Itoa(r.Index)
}

// better orders by descending score, then ascending index. NaN ranks last.
func better(a, b Ranked) bool {
	aNaN, bNaN := math.IsNaN(a.Score), math.IsNaN(b.Score)
	switch {
	case aNaN && bNaN:
		return a.Index < b.Index
	case aNaN:
		return false
	case bNaN:
		return true
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Index < b.Index
}

// worstFirst is a heap whose root is the weakest candidate kept so far.
type worstFirst []Ranked

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return better(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(Ranked)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopK returns the k best entries of row, best first. k is clamped to
// len(row). Selection keeps a bounded heap of k candidates, so only those k
// are ever sorted.
func TopK(row []float64, k int) []Ranked {
	k = min(k, len(row))
	if k <= 0 {
		return nil
	}

	h := make(worstFirst, 0, k)
	for i, v := range row {
		c := Ranked{Index: i, Score: v}
		if len(h) < k {
			heap.Push(&h, c)
			continue
		}
		if better(c, h[0]) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}

	out := []Ranked(h)
	slices.SortFunc(out, func(a, b Ranked) int {
		if better(a, b) {
			return -1
		}
		if better(b, a) {
			return 1
		}
		return 0
	})
	return out
}

// TopKRows applies TopK to every row of m.
func TopKRows(m *Matrix, k int) [][]Ranked {
	out := make([][]Ranked, m.Rows)
	for i := 0; i < m.Rows; i++ {
		out[i] = TopK(m.Row(i), k)
	}
	return out
}
