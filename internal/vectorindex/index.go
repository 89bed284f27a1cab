// Package vectorindex is a flat inner-product index over unit vectors.
// Row i holds the vector of embedding slot Slots()[i]; rows are in ascending slot order.
package vectorindex

import (
	"container/heap"
	"fmt"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
)

// DefaultDim is the dimension of an index built from an empty store.
const DefaultDim = 312

// Index is an immutable flat index.
type Index struct {
	dim   int
	slots []int64
	data  []float32 // len(slots)*dim, row-major
}

// Empty returns a zero-row index of dimension dim.
func Empty(dim int) *Index {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &Index{dim: dim}
}

// Build copies vectors into a new index. slots[i] is the embedding slot of
// vectors[i] and must be strictly increasing. With no vectors the index is
// empty with dimension dim.
func Build(dim int, slots []int64, vectors [][]float32) (*Index, error) {
	if len(slots) != len(vectors) {
		return nil, fmt.Errorf("build index: %d slots for %d vectors", len(slots), len(vectors))
	}
	if len(vectors) == 0 {
		return Empty(dim), nil
	}
	if dim <= 0 {
		dim = len(vectors[0])
	}

	idx := &Index{
		dim:   dim,
		slots: make([]int64, len(slots)),
		data:  make([]float32, 0, len(vectors)*dim),
	}
	copy(idx.slots, slots)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("build index row %d: %w", i, domain.NewDimMismatch(dim, len(v)))
		}
		if i > 0 && slots[i] <= slots[i-1] {
			return nil, fmt.Errorf("build index: slot %d after %d is not increasing", slots[i], slots[i-1])
		}
		idx.data = append(idx.data, v...)
	}
	return idx, nil
}

// Dim returns the vector dimension.
func (x *Index) Dim() int { return x.dim }

// Len returns the number of rows.
func (x *Index) Len() int { return len(x.slots) }

// Slots returns the slot of every row in row order.
func (x *Index) Slots() []int64 {
	out := make([]int64, len(x.slots))
	copy(out, x.slots)
	return out
}

// Search returns up to k hits by descending inner product; ties go to the lower slot.
// k is clamped to Len. An empty index yields no hits.
func (x *Index) Search(query []float32, k int) ([]domain.Hit, error) {
	if len(x.slots) == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != x.dim {
		return nil, domain.NewDimMismatch(x.dim, len(query))
	}
	k = min(k, len(x.slots))

	h := make(hitHeap, 0, k+1)
	for row, slot := range x.slots {
		score := dot(query, x.data[row*x.dim:(row+1)*x.dim])
		if len(h) < k {
			heap.Push(&h, domain.Hit{Slot: slot, Score: score})
			continue
		}
		if worse(h[0], domain.Hit{Slot: slot, Score: score}) {
			h[0] = domain.Hit{Slot: slot, Score: score}
			heap.Fix(&h, 0)
		}
	}

	out := make([]domain.Hit, len(h))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(domain.Hit) //nolint:forcetypeassert // heap holds only hits
	}
	return out, nil
}

func dot(a, b []float32) float32 {
	var sum float32
	i := 0
	for ; i+4 <= len(a); i += 4 {
		s0 := a[i]*b[i] + a[i+1]*b[i+1]
		s1 := a[i+2]*b[i+2] + a[i+3]*b[i+3]
		sum += s0 + s1
	}
	for ; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// worse reports whether a ranks below b.
func worse(a, b domain.Hit) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Slot > b.Slot
}

// hitHeap keeps the current top-k with the worst hit at the root.
type hitHeap []domain.Hit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)        { *h = append(*h, x.(domain.Hit)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
