package rag

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
)

// EmbeddingDimension is fixed by the embedding model in use
// (text-embedding-3-small produces 1536-wide vectors).
const EmbeddingDimension = 1536

// indexMagic identifies the on-disk blob format.
var indexMagic = [4]byte{'Y', 'T', 'V', 'X'}

// Match is one nearest-neighbor hit: the row position of the vector and its
// squared L2 distance to the query (lower is more similar).
type Match struct {
	Position int
	Distance float32
}

// VectorIndex is an append-only flat index over fixed-dimension float32
// vectors with exhaustive squared-L2 search. It is not safe for concurrent
// mutation; the owning service serializes access.
type VectorIndex struct {
	dim     int
	vectors [][]float32
}

func NewVectorIndex(dim int) (*VectorIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dim)
	}
	return &VectorIndex{dim: dim}, nil
}

func (idx *VectorIndex) Dim() int { return idx.dim }
func (idx *VectorIndex) Len() int { return len(idx.vectors) }

// Add appends vectors in order. Rows are never reordered, so the n-th row
// stays aligned with the n-th chunk in the parallel chunk store.
func (idx *VectorIndex) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != idx.dim {
			return fmt.Errorf("vector %d has dimension %d, index expects %d", i, len(v), idx.dim)
		}
	}
	idx.vectors = append(idx.vectors, vectors...)
	return nil
}

// Search returns the k nearest rows by squared L2 distance, ascending. When
// k exceeds the number of stored vectors every row is returned; an empty
// index returns no matches.
func (idx *VectorIndex) Search(query []float32, k int) ([]Match, error) {
	if len(query) != idx.dim {
		return nil, fmt.Errorf("query has dimension %d, index expects %d", len(query), idx.dim)
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(idx.vectors) == 0 {
		return nil, nil
	}

	matches := make([]Match, len(idx.vectors))
	for i, v := range idx.vectors {
		matches[i] = Match{Position: i, Distance: squaredL2(query, v)}
	}
	sort.Slice(matches, func(a, b int) bool {
		if matches[a].Distance != matches[b].Distance {
			return matches[a].Distance < matches[b].Distance
		}
		return matches[a].Position < matches[b].Position
	})

	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k], nil
}

// Reset empties the index, keeping the configured dimension.
func (idx *VectorIndex) Reset() {
	idx.vectors = nil
}

// Clone returns an index with an independent row list sharing the underlying
// vectors. Appending to the clone never changes the original, so callers can
// stage additions and swap only after persistence succeeds.
func (idx *VectorIndex) Clone() *VectorIndex {
	vectors := make([][]float32, len(idx.vectors))
	copy(vectors, idx.vectors)
	return &VectorIndex{dim: idx.dim, vectors: vectors}
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Save writes the index blob atomically (temp file + rename), so a completed
// call always leaves a fully readable file.
func (idx *VectorIndex) Save(path string) error {
	w, err := newAtomicWriter(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if err := idx.encode(bw); err != nil {
		_ = w.Abort()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = w.Abort()
		return err
	}
	return w.Commit()
}

// LoadVectorIndex reads a blob written by Save. A dimension mismatch against
// dim is rejected rather than silently reinterpreted.
func LoadVectorIndex(path string, dim int) (*VectorIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	idx, err := decodeVectorIndex(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", path, err)
	}
	if idx.dim != dim {
		return nil, fmt.Errorf("index %s has dimension %d, expected %d", path, idx.dim, dim)
	}
	return idx, nil
}

func (idx *VectorIndex) encode(w io.Writer) error {
	if _, err := w.Write(indexMagic[:]); err != nil {
		return err
	}
	header := []uint32{uint32(idx.dim), uint32(len(idx.vectors))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	for _, v := range idx.vectors {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func decodeVectorIndex(r io.Reader) (*VectorIndex, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if magic != indexMagic {
		return nil, fmt.Errorf("bad index magic %q", magic[:])
	}
	var header [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	dim := int(header[0])
	count := int(header[1])
	if dim <= 0 {
		return nil, fmt.Errorf("bad index dimension %d", dim)
	}

	idx := &VectorIndex{dim: dim, vectors: make([][]float32, 0, count)}
	for i := 0; i < count; i++ {
		v := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		idx.vectors = append(idx.vectors, v)
	}
	return idx, nil
}
