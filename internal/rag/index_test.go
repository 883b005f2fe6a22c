package rag

import (
	"path/filepath"
	"testing"
)

func TestNewVectorIndexValidation(t *testing.T) {
	if _, err := NewVectorIndex(0); err == nil {
		t.Fatalf("expected error for zero dimension")
	}
	idx, err := NewVectorIndex(3)
	if err != nil {
		t.Fatalf("NewVectorIndex: %v", err)
	}
	if idx.Dim() != 3 || idx.Len() != 0 {
		t.Fatalf("fresh index: dim=%d len=%d", idx.Dim(), idx.Len())
	}
}

func TestAddRejectsWrongDimension(t *testing.T) {
	idx, _ := NewVectorIndex(3)
	err := idx.Add([][]float32{{1, 2, 3}, {1, 2}})
	if err == nil {
		t.Fatalf("expected dimension error")
	}
	if idx.Len() != 0 {
		t.Fatalf("failed Add must not grow the index, len=%d", idx.Len())
	}
}

func TestSearchOrdersByDistance(t *testing.T) {
	idx, _ := NewVectorIndex(2)
	if err := idx.Add([][]float32{
		{10, 0}, // position 0, far
		{1, 0},  // position 1, nearest
		{3, 0},  // position 2, middle
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	matches, err := idx.Search([]float32{0, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	wantOrder := []int{1, 2, 0}
	if len(matches) != len(wantOrder) {
		t.Fatalf("got %d matches, want %d", len(matches), len(wantOrder))
	}
	for i, m := range matches {
		if m.Position != wantOrder[i] {
			t.Fatalf("rank %d: got position %d, want %d", i+1, m.Position, wantOrder[i])
		}
		if i > 0 && matches[i-1].Distance > m.Distance {
			t.Fatalf("distances not ascending at rank %d", i+1)
		}
	}
}

func TestSearchTieBreaksByPosition(t *testing.T) {
	idx, _ := NewVectorIndex(2)
	_ = idx.Add([][]float32{{2, 0}, {2, 0}, {1, 0}})

	matches, err := idx.Search([]float32{0, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if matches[0].Position != 2 || matches[1].Position != 0 || matches[2].Position != 1 {
		t.Fatalf("tie not broken by position: %+v", matches)
	}
}

func TestSearchClampsK(t *testing.T) {
	idx, _ := NewVectorIndex(2)
	_ = idx.Add([][]float32{{1, 0}, {2, 0}})

	matches, err := idx.Search([]float32{0, 0}, 50)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("k beyond size must clamp to %d, got %d", idx.Len(), len(matches))
	}
}

func TestIndexReset(t *testing.T) {
	idx, _ := NewVectorIndex(2)
	_ = idx.Add([][]float32{{1, 0}})
	idx.Reset()
	if idx.Len() != 0 || idx.Dim() != 2 {
		t.Fatalf("reset index: len=%d dim=%d", idx.Len(), idx.Dim())
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	idx, _ := NewVectorIndex(2)
	matches, err := idx.Search([]float32{0, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if matches != nil {
		t.Fatalf("empty index must return no matches, got %+v", matches)
	}
}

func TestSearchValidation(t *testing.T) {
	idx, _ := NewVectorIndex(3)
	if _, err := idx.Search([]float32{1, 2}, 5); err == nil {
		t.Fatalf("expected dimension error")
	}
	if _, err := idx.Search([]float32{1, 2, 3}, 0); err == nil {
		t.Fatalf("expected error for k=0")
	}
}

func TestIndexSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")

	idx, _ := NewVectorIndex(3)
	_ = idx.Add([][]float32{{1, 2, 3}, {4, 5, 6}, {-1, 0, 0.5}})
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadVectorIndex(path, 3)
	if err != nil {
		t.Fatalf("LoadVectorIndex: %v", err)
	}
	if loaded.Len() != 3 || loaded.Dim() != 3 {
		t.Fatalf("loaded len=%d dim=%d", loaded.Len(), loaded.Dim())
	}

	matches, err := loaded.Search([]float32{4, 5, 6}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if matches[0].Position != 1 || matches[0].Distance != 0 {
		t.Fatalf("round trip corrupted vectors: %+v", matches[0])
	}
}

func TestLoadRejectsWrongDimension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")

	idx, _ := NewVectorIndex(3)
	_ = idx.Add([][]float32{{1, 2, 3}})
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := LoadVectorIndex(path, 4); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}
