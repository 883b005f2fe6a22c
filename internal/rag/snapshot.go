package rag

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	indexFileName    = "vector_index.bin"
	metadataFileName = "chunks_metadata.json"
)

// Snapshot is the durable pair of artifacts backing the RAG subsystem: the
// vector index blob and the parallel chunk metadata list. The two files must
// always be written together; writes are individually atomic but the pair is
// not, so a crash between the two writes is detected at load time instead.
type Snapshot struct {
	IndexPath    string
	MetadataPath string
}

func NewSnapshot(dataDir string) Snapshot {
	return Snapshot{
		IndexPath:    filepath.Join(dataDir, indexFileName),
		MetadataPath: filepath.Join(dataDir, metadataFileName),
	}
}

// ErrSnapshotMismatch reports a positional misalignment between the two
// artifacts. The only recovery is a full reindex from source documents.
type ErrSnapshotMismatch struct {
	Chunks int
	Rows   int
}

func (e *ErrSnapshotMismatch) Error() string {
	return fmt.Sprintf("snapshot artifacts disagree: %d chunks vs %d index rows; full reindex required", e.Chunks, e.Rows)
}

// Load reads both artifacts. A completely absent snapshot yields fresh empty
// stores. A half-present or count-mismatched snapshot is refused.
func (s Snapshot) Load(dim int) (*VectorIndex, *ChunkStore, error) {
	_, idxErr := os.Stat(s.IndexPath)
	_, metaErr := os.Stat(s.MetadataPath)

	if os.IsNotExist(idxErr) && os.IsNotExist(metaErr) {
		idx, err := NewVectorIndex(dim)
		if err != nil {
			return nil, nil, err
		}
		return idx, NewChunkStore(), nil
	}
	if idxErr != nil || metaErr != nil {
		return nil, nil, fmt.Errorf("snapshot half present (index: %v, metadata: %v)", idxErr, metaErr)
	}

	store, err := LoadChunkStore(s.MetadataPath)
	if err != nil {
		return nil, nil, err
	}
	idx, err := LoadVectorIndex(s.IndexPath, dim)
	if err != nil {
		return nil, nil, err
	}
	if store.Len() != idx.Len() {
		return nil, nil, &ErrSnapshotMismatch{Chunks: store.Len(), Rows: idx.Len()}
	}
	return idx, store, nil
}

// Save persists both artifacts, metadata first: if the process dies between
// the writes, the loader sees metadata ahead of the blob and refuses the
// pair rather than serving misaligned results.
func (s Snapshot) Save(idx *VectorIndex, store *ChunkStore) error {
	if store.Len() != idx.Len() {
		return fmt.Errorf("refusing to persist misaligned stores: %d chunks vs %d index rows", store.Len(), idx.Len())
	}
	if err := store.Save(s.MetadataPath); err != nil {
		return fmt.Errorf("save chunk metadata: %w", err)
	}
	if err := idx.Save(s.IndexPath); err != nil {
		return fmt.Errorf("save vector index: %w", err)
	}
	return nil
}
