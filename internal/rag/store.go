package rag

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// ChunkStore holds chunk records in insertion order. The n-th record
// corresponds to the n-th row of the vector index; position is the only
// join key between the two, so any removal here obliges the caller to
// rebuild the index from the survivors.
type ChunkStore struct {
	chunks []Chunk
}

func NewChunkStore() *ChunkStore {
	return &ChunkStore{}
}

func (s *ChunkStore) Len() int { return len(s.chunks) }

func (s *ChunkStore) Append(chunks ...Chunk) {
	s.chunks = append(s.chunks, chunks...)
}

// At returns the chunk at position i.
func (s *ChunkStore) At(i int) (Chunk, error) {
	if i < 0 || i >= len(s.chunks) {
		return Chunk{}, fmt.Errorf("chunk position %d out of range [0, %d)", i, len(s.chunks))
	}
	return s.chunks[i], nil
}

// All returns the records in order. The slice is shared; callers must not
// mutate it.
func (s *ChunkStore) All() []Chunk { return s.chunks }

// RemoveWhere drops every chunk matching pred, compacting the remainder in
// place, and reports how many were removed. Positional alignment with the
// vector index is broken for any nonzero return; the caller re-embeds the
// survivors.
func (s *ChunkStore) RemoveWhere(pred func(Chunk) bool) int {
	kept := s.chunks[:0]
	for _, c := range s.chunks {
		if !pred(c) {
			kept = append(kept, c)
		}
	}
	removed := len(s.chunks) - len(kept)
	s.chunks = kept
	return removed
}

func (s *ChunkStore) Reset() {
	s.chunks = nil
}

// Clone returns a store with an independent record list, so appends to the
// clone leave the original untouched.
func (s *ChunkStore) Clone() *ChunkStore {
	chunks := make([]Chunk, len(s.chunks))
	copy(chunks, s.chunks)
	return &ChunkStore{chunks: chunks}
}

// SourceIDs returns the distinct source identifiers in first-seen order.
func (s *ChunkStore) SourceIDs() []string {
	seen := make(map[string]bool, len(s.chunks))
	var out []string
	for _, c := range s.chunks {
		if !seen[c.SourceID] {
			seen[c.SourceID] = true
			out = append(out, c.SourceID)
		}
	}
	return out
}

// Save writes the metadata list as JSON, atomically.
func (s *ChunkStore) Save(path string) error {
	w, err := newAtomicWriter(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	records := s.chunks
	if records == nil {
		records = []Chunk{}
	}
	if err := enc.Encode(records); err != nil {
		_ = w.Abort()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = w.Abort()
		return err
	}
	return w.Commit()
}

func LoadChunkStore(path string) (*ChunkStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var chunks []Chunk
	if err := json.Unmarshal(raw, &chunks); err != nil {
		return nil, fmt.Errorf("read chunk metadata %s: %w", path, err)
	}
	return &ChunkStore{chunks: chunks}, nil
}
