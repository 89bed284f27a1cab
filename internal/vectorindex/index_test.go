package vectorindex

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
)

func unit(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

// --- Build / Search ---

func TestSearch_BestFirstAndClamp(t *testing.T) {
	idx, err := Build(3, []int64{0, 4, 9}, [][]float32{
		{1, 0, 0},
		{0.6, 0.8, 0},
		{0, 0, 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hits, err := idx.Search([]float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected k clamped to 3, got %d", len(hits))
	}
	wantSlots := []int64{0, 4, 9}
	for i, h := range hits {
		if h.Slot != wantSlots[i] {
			t.Errorf("hit %d slot = %d, want %d", i, h.Slot, wantSlots[i])
		}
	}
	if hits[0].Score != 1 || hits[1].Score < 0.59 || hits[1].Score > 0.61 {
		t.Errorf("unexpected scores %+v", hits)
	}
}

func TestSearch_TopK(t *testing.T) {
	vecs := make([][]float32, 0, 8)
	slots := make([]int64, 0, 8)
	for i := 0; i < 8; i++ {
		v := []float32{float32(i), 1}
		domain.NormalizeL2(v)
		vecs = append(vecs, v)
		slots = append(slots, int64(i*2))
	}
	idx, err := Build(2, slots, vecs)
	if err != nil {
		t.Fatal(err)
	}

	hits, _ := idx.Search([]float32{1, 0}, 2)
	if len(hits) != 2 || hits[0].Slot != 14 || hits[1].Slot != 12 {
		t.Errorf("unexpected hits %+v", hits)
	}
}

func TestSearch_TiesPreferLowerSlot(t *testing.T) {
	idx, _ := Build(2, []int64{3, 5, 7}, [][]float32{{1, 0}, {1, 0}, {1, 0}})
	hits, _ := idx.Search([]float32{1, 0}, 2)
	if hits[0].Slot != 3 || hits[1].Slot != 5 {
		t.Errorf("unexpected tie order %+v", hits)
	}
}

func TestSearch_Empty(t *testing.T) {
	idx := Empty(0)
	if idx.Dim() != DefaultDim || idx.Len() != 0 {
		t.Fatalf("dim=%d len=%d", idx.Dim(), idx.Len())
	}
	hits, err := idx.Search(make([]float32, 5), 3)
	if err != nil || len(hits) != 0 {
		t.Errorf("expected no hits and no error, got %v %v", hits, err)
	}
}

func TestSearch_DimMismatch(t *testing.T) {
	idx, _ := Build(3, []int64{0}, [][]float32{unit(3, 0)})
	_, err := idx.Search([]float32{1, 0}, 1)
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Errorf("expected ErrVectorDimMismatch, got %v", err)
	}
}

func TestBuild_Validation(t *testing.T) {
	if _, err := Build(2, []int64{0}, nil); err == nil {
		t.Error("expected error for slot/vector count mismatch")
	}
	if _, err := Build(2, []int64{0, 1}, [][]float32{{1, 0}, {1, 0, 0}}); !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Errorf("expected dim mismatch, got %v", err)
	}
	if _, err := Build(2, []int64{2, 2}, [][]float32{{1, 0}, {0, 1}}); err == nil {
		t.Error("expected error for non-increasing slots")
	}
}

func TestBuild_InfersDim(t *testing.T) {
	idx, err := Build(0, []int64{0}, [][]float32{unit(4, 1)})
	if err != nil || idx.Dim() != 4 {
		t.Fatalf("dim=%d err=%v", idx.Dim(), err)
	}
}

// --- Persist / Open ---

func TestPersistOpen_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "index.bin")
	idx, _ := Build(3, []int64{1, 2, 10}, [][]float32{unit(3, 0), unit(3, 1), {0.5, 0.5, 0.70710677}})

	if err := idx.Persist(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Dim() != 3 || !reflect.DeepEqual(got.Slots(), []int64{1, 2, 10}) {
		t.Errorf("dim=%d slots=%v", got.Dim(), got.Slots())
	}
	if !reflect.DeepEqual(got.data, idx.data) {
		t.Error("vector data differs after round trip")
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestPersist_EmptyKeepsDim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	if err := Empty(312).Persist(path); err != nil {
		t.Fatal(err)
	}
	got, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Dim() != 312 || got.Len() != 0 {
		t.Errorf("dim=%d len=%d", got.Dim(), got.Len())
	}
}

func TestPersist_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	first, _ := Build(2, []int64{0, 1}, [][]float32{unit(2, 0), unit(2, 1)})
	second, _ := Build(2, []int64{1}, [][]float32{unit(2, 1)})
	_ = first.Persist(path)
	if err := second.Persist(path); err != nil {
		t.Fatal(err)
	}
	got, _ := Open(path)
	if got.Len() != 1 {
		t.Errorf("len = %d, want 1", got.Len())
	}
}

func TestOpen_Corrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.bin")
	idx, _ := Build(2, []int64{0}, [][]float32{unit(2, 0)})
	_ = idx.Persist(path)

	raw, _ := os.ReadFile(path)
	raw[headerSize+2] ^= 0xFF
	_ = os.WriteFile(path, raw, 0o600)

	if _, err := Open(path); !errors.Is(err, domain.ErrIndexCorrupt) {
		t.Errorf("expected ErrIndexCorrupt for flipped byte, got %v", err)
	}

	_ = os.WriteFile(path, []byte("garbage"), 0o600)
	if _, err := Open(path); !errors.Is(err, domain.ErrIndexCorrupt) {
		t.Errorf("expected ErrIndexCorrupt for short file, got %v", err)
	}
}

func TestOpenOrEmpty(t *testing.T) {
	idx, found, err := OpenOrEmpty(filepath.Join(t.TempDir(), "missing.bin"), 16)
	if err != nil || found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if idx.Dim() != 16 || idx.Len() != 0 {
		t.Errorf("dim=%d len=%d", idx.Dim(), idx.Len())
	}
}
