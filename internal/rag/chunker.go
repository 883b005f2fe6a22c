package rag

import (
	"fmt"
	"strings"
)

// Default chunking parameters, matching the embedding model's sweet spot
// for short transcript passages.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100

	// How far back from a window's end we look for a sentence boundary.
	boundaryLookback = 50
)

var sentenceTerminals = ".!?\n"

// Chunk is a contiguous span of a source document's text, the unit of
// retrieval. Offsets are rune offsets into the source text.
type Chunk struct {
	Text        string `json:"text"`
	SourceID    string `json:"source_id"`
	SourceTitle string `json:"source_title"`
	ChunkIndex  int    `json:"chunk_index"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}

// Splitter cuts document text into overlapping, sentence-boundary-aware
// chunks. The zero value is not usable; construct with NewSplitter.
type Splitter struct {
	chunkSize int
	overlap   int
}

func NewSplitter(chunkSize, overlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap must be in [0, chunk size), got overlap=%d chunk_size=%d", overlap, chunkSize)
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap}, nil
}

func (s *Splitter) ChunkSize() int { return s.chunkSize }
func (s *Splitter) Overlap() int   { return s.overlap }

// Split walks text in a sliding window of width chunkSize. Windows that are
// not the final one are shrunk to end just after the last sentence terminal
// found within the trailing lookback; if none exists the hard cut stands.
// Empty or whitespace-only text yields no chunks. The final chunk always
// ends at len(text), so every rune is covered by at least one chunk.
func (s *Splitter) Split(text, sourceID, sourceTitle string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)

	var chunks []Chunk
	start := 0
	chunkIndex := 0

	for start < n {
		end := start + s.chunkSize
		if end > n {
			end = n
		}

		if end < n {
			lookStart := end - boundaryLookback
			if lookStart < start {
				lookStart = start
			}
			window := string(runes[lookStart:end])
			if i := strings.LastIndexAny(window, sentenceTerminals); i != -1 {
				// LastIndexAny returns a byte index into the window; convert
				// back to a rune count so offsets stay rune-based.
				end = lookStart + len([]rune(window[:i])) + 1
			}
		}

		chunkText := strings.TrimSpace(string(runes[start:end]))
		if chunkText != "" {
			chunks = append(chunks, Chunk{
				Text:        chunkText,
				SourceID:    sourceID,
				SourceTitle: sourceTitle,
				ChunkIndex:  chunkIndex,
				StartOffset: start,
				EndOffset:   end,
			})
			chunkIndex++
		}

		if end >= n {
			break
		}
		next := end - s.overlap
		if next <= start {
			// A shrunk window plus a large overlap could stall the walk.
			next = start + 1
		}
		start = next
	}

	return chunks
}
