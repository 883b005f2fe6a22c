package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/parsast/ytassist-backend/internal/clients/openai"
	"github.com/parsast/ytassist-backend/internal/data/repos/videos"
	"github.com/parsast/ytassist-backend/internal/pkg/logger"
	"github.com/parsast/ytassist-backend/internal/rag"
)

// Embedding requests are capped per call to stay under the API's input
// limits.
const embedBatchSize = 100

const askSystemPrompt = `You are a helpful assistant that answers questions about YouTube video content.
You will be given relevant excerpts from video transcripts and should answer based on that information.
If the information doesn't contain the answer, say so honestly.
Always cite which video(s) your answer is based on.
Respond in the same language as the question.`

// Document is one source text to index.
type Document struct {
	SourceID    string
	SourceTitle string
	Text        string
}

// IndexResult reports a single-document indexing operation.
type IndexResult struct {
	SourceID      string `json:"video_id"`
	ChunksIndexed int    `json:"chunks_indexed"`
	Message       string `json:"message"`
}

// ReindexResult aggregates a full reindex pass.
type ReindexResult struct {
	DocumentsProcessed int          `json:"videos_processed"`
	TotalChunks        int          `json:"total_chunks"`
	Errors             []IndexError `json:"errors"`
}

type IndexError struct {
	SourceID string `json:"video_id"`
	Error    string `json:"error"`
}

// SearchResult is one retrieved chunk with its similarity score (squared L2,
// lower is closer) and 1-based rank.
type SearchResult struct {
	rag.Chunk
	Score float32 `json:"score"`
	Rank  int     `json:"rank"`
}

// Answer is the response of a RAG question, with deduplicated source
// citations in first-seen rank order.
type Answer struct {
	Answer     string         `json:"answer"`
	Sources    []AnswerSource `json:"sources"`
	ChunksUsed int            `json:"chunks_used"`
}

type AnswerSource struct {
	SourceID string `json:"video_id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
}

// IndexStats describes the current index, derived entirely from live state.
type IndexStats struct {
	TotalChunks    int    `json:"total_chunks"`
	VideosIndexed  int    `json:"videos_indexed"`
	EmbeddingModel string `json:"embedding_model"`
	ChunkSize      int    `json:"chunk_size"`
	ChunkOverlap   int    `json:"chunk_overlap"`
}

// RAGService is the only component that touches the chunk splitter, the
// embedding client, the vector index and the chunk store together; it owns
// the positional-alignment invariant between the last two.
type RAGService interface {
	IndexDocument(ctx context.Context, doc Document) (*IndexResult, error)
	IndexVideo(ctx context.Context, videoID string) (*IndexResult, error)
	ReindexDocuments(ctx context.Context, docs []Document) (*ReindexResult, error)
	ReindexAllVideos(ctx context.Context) (*ReindexResult, error)
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)
	Ask(ctx context.Context, question string, topK int) (*Answer, error)
	Stats() IndexStats
	Clear(ctx context.Context) error
}

type ragService struct {
	log         *logger.Logger
	ai          openai.Client
	videoRepo   videos.VideoRepo
	transcripts videos.TranscriptRepo
	splitter    *rag.Splitter
	snapshot    rag.Snapshot

	// mu serializes mutation of the index/store pair; searches share it.
	mu    sync.RWMutex
	index *rag.VectorIndex
	store *rag.ChunkStore
}

type RAGConfig struct {
	DataDir      string
	ChunkSize    int
	ChunkOverlap int
	Dimension    int
}

func NewRAGService(baseLog *logger.Logger, ai openai.Client, videoRepo videos.VideoRepo, transcripts videos.TranscriptRepo, cfg RAGConfig) (RAGService, error) {
	if ai == nil {
		return nil, fmt.Errorf("openai client required")
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = rag.DefaultChunkSize
		cfg.ChunkOverlap = rag.DefaultChunkOverlap
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = rag.EmbeddingDimension
	}
	splitter, err := rag.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	log := baseLog.With("service", "RAGService")
	snapshot := rag.NewSnapshot(cfg.DataDir)

	index, store, err := snapshot.Load(cfg.Dimension)
	if err != nil {
		var mismatch *rag.ErrSnapshotMismatch
		if errors.As(err, &mismatch) {
			log.Warn("Refusing misaligned index snapshot; starting empty", "error", err)
			index, _ = rag.NewVectorIndex(cfg.Dimension)
			store = rag.NewChunkStore()
		} else {
			return nil, fmt.Errorf("load index snapshot: %w", err)
		}
	} else {
		log.Info("Index snapshot loaded", "chunks", store.Len())
	}

	return &ragService{
		log:         log,
		ai:          ai,
		videoRepo:   videoRepo,
		transcripts: transcripts,
		splitter:    splitter,
		snapshot:    snapshot,
		index:       index,
		store:       store,
	}, nil
}

// embedBatched embeds texts in input order, at most embedBatchSize per call.
func (s *ragService) embedBatched(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := s.ai.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func chunkTexts(chunks []rag.Chunk) []string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts
}

// IndexDocument replaces any previously indexed chunks for the document's
// source and appends the freshly embedded ones. When a removal shrinks the
// store, the vector index is rebuilt by re-embedding every survivor: rows
// cannot be deleted individually without breaking positional alignment. The
// new pair is staged on copies and swapped in only after both embedding and
// persistence succeed, so any failure leaves memory and disk at the prior
// consistent state.
func (s *ragService) IndexDocument(ctx context.Context, doc Document) (*IndexResult, error) {
	if strings.TrimSpace(doc.SourceID) == "" {
		return nil, fmt.Errorf("source id required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	survivors := make([]rag.Chunk, 0, s.store.Len())
	for _, c := range s.store.All() {
		if c.SourceID != doc.SourceID {
			survivors = append(survivors, c)
		}
	}
	needsRebuild := len(survivors) != s.store.Len()

	newChunks := s.splitter.Split(doc.Text, doc.SourceID, doc.SourceTitle)
	if len(newChunks) == 0 && !needsRebuild {
		return &IndexResult{SourceID: doc.SourceID, ChunksIndexed: 0, Message: "No content to index"}, nil
	}

	var survivorVectors [][]float32
	var err error
	if needsRebuild && len(survivors) > 0 {
		survivorVectors, err = s.embedBatched(ctx, chunkTexts(survivors))
		if err != nil {
			return nil, fmt.Errorf("re-embed surviving chunks: %w", err)
		}
	}

	var newVectors [][]float32
	if len(newChunks) > 0 {
		newVectors, err = s.embedBatched(ctx, chunkTexts(newChunks))
		if err != nil {
			return nil, fmt.Errorf("embed chunks: %w", err)
		}
	}

	var index *rag.VectorIndex
	var store *rag.ChunkStore
	if needsRebuild {
		index, err = rag.NewVectorIndex(s.index.Dim())
		if err != nil {
			return nil, err
		}
		store = rag.NewChunkStore()
		if err := index.Add(survivorVectors); err != nil {
			return nil, err
		}
		store.Append(survivors...)
	} else {
		index = s.index.Clone()
		store = s.store.Clone()
	}

	if err := index.Add(newVectors); err != nil {
		return nil, err
	}
	store.Append(newChunks...)

	if err := s.snapshot.Save(index, store); err != nil {
		return nil, err
	}
	s.index = index
	s.store = store

	s.log.Info("Document indexed", "source_id", doc.SourceID, "chunks", len(newChunks))
	return &IndexResult{
		SourceID:      doc.SourceID,
		ChunksIndexed: len(newChunks),
		Message:       fmt.Sprintf("Indexed %d chunks", len(newChunks)),
	}, nil
}

// IndexVideo indexes the best available transcript for a synced video,
// preferring cleaned over whisper over raw YouTube captions.
func (s *ragService) IndexVideo(ctx context.Context, videoID string) (*IndexResult, error) {
	if s.videoRepo == nil || s.transcripts == nil {
		return nil, fmt.Errorf("video storage not configured")
	}
	video, err := s.videoRepo.GetByID(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("video %s: %w", videoID, err)
	}
	transcript, err := s.transcripts.BestBySourcePreference(ctx, videoID, videos.IndexingPreference)
	if err != nil {
		return nil, err
	}
	if transcript == nil {
		return nil, fmt.Errorf("video %s has no transcript to index", videoID)
	}
	text := transcript.CleanContent
	if strings.TrimSpace(text) == "" {
		text = transcript.RawContent
	}
	return s.IndexDocument(ctx, Document{
		SourceID:    video.ID,
		SourceTitle: video.Title,
		Text:        text,
	})
}

// ReindexDocuments rebuilds the whole index from the given documents. One
// document failing to embed is recorded and skipped; the rest still index.
func (s *ragService) ReindexDocuments(ctx context.Context, docs []Document) (*ReindexResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := rag.NewVectorIndex(s.index.Dim())
	if err != nil {
		return nil, err
	}
	store := rag.NewChunkStore()

	result := &ReindexResult{Errors: []IndexError{}}
	for _, doc := range docs {
		chunks := s.splitter.Split(doc.Text, doc.SourceID, doc.SourceTitle)
		if len(chunks) == 0 {
			continue
		}
		vectors, err := s.embedBatched(ctx, chunkTexts(chunks))
		if err != nil {
			result.Errors = append(result.Errors, IndexError{SourceID: doc.SourceID, Error: err.Error()})
			continue
		}
		if err := index.Add(vectors); err != nil {
			result.Errors = append(result.Errors, IndexError{SourceID: doc.SourceID, Error: err.Error()})
			continue
		}
		store.Append(chunks...)
		result.DocumentsProcessed++
		result.TotalChunks += len(chunks)
	}

	if err := s.snapshot.Save(index, store); err != nil {
		return nil, err
	}
	s.index = index
	s.store = store

	s.log.Info("Reindex complete",
		"documents", result.DocumentsProcessed,
		"chunks", result.TotalChunks,
		"errors", len(result.Errors),
	)
	return result, nil
}

// ReindexAllVideos gathers every synced video's best transcript and rebuilds
// the index from them.
func (s *ragService) ReindexAllVideos(ctx context.Context) (*ReindexResult, error) {
	if s.videoRepo == nil || s.transcripts == nil {
		return nil, fmt.Errorf("video storage not configured")
	}
	vids, err := s.videoRepo.ListSynced(ctx)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(vids))
	for _, v := range vids {
		transcript, err := s.transcripts.BestBySourcePreference(ctx, v.ID, videos.IndexingPreference)
		if err != nil {
			return nil, err
		}
		if transcript == nil {
			continue
		}
		text := transcript.CleanContent
		if strings.TrimSpace(text) == "" {
			text = transcript.RawContent
		}
		docs = append(docs, Document{SourceID: v.ID, SourceTitle: v.Title, Text: text})
	}
	return s.ReindexDocuments(ctx, docs)
}

func (s *ragService) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query required")
	}
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", topK)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchLocked(ctx, query, topK)
}

// searchLocked requires at least a read lock. An empty store short-circuits
// before the embedding call so no tokens are spent on a query that cannot
// match anything.
func (s *ragService) searchLocked(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if s.store.Len() == 0 {
		return []SearchResult{}, nil
	}

	queryVectors, err := s.ai.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := s.index.Search(queryVectors[0], topK)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(matches))
	for i, m := range matches {
		chunk, err := s.store.At(m.Position)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Chunk: chunk, Score: m.Distance, Rank: i + 1})
	}
	return results, nil
}

func (s *ragService) Ask(ctx context.Context, question string, topK int) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("question required")
	}
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", topK)
	}

	// Retrieval needs the lock; answer synthesis does not. Results are
	// value copies, so the lock is released before the slow LLM call to keep
	// indexing writes unblocked.
	s.mu.RLock()
	results, err := s.searchLocked(ctx, question, topK)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &Answer{
			Answer:     "I don't have any indexed content to answer this question. Please index some videos first.",
			Sources:    []AnswerSource{},
			ChunksUsed: 0,
		}, nil
	}

	contextParts := make([]string, len(results))
	for i, r := range results {
		contextParts[i] = fmt.Sprintf("[Source %d: %s]\n%s", i+1, r.SourceTitle, r.Text)
	}

	userPrompt := fmt.Sprintf(`Based on the following video transcript excerpts, please answer this question:

Question: %s

Relevant excerpts:
%s

Please provide a clear, concise answer based on the excerpts above. Cite which videos you used.`,
		question, strings.Join(contextParts, "\n\n---\n\n"))

	answer, err := s.ai.GenerateText(ctx, askSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("answer synthesis: %w", err)
	}

	sources := []AnswerSource{}
	seen := make(map[string]bool)
	for _, r := range results {
		if seen[r.SourceID] {
			continue
		}
		seen[r.SourceID] = true
		sources = append(sources, AnswerSource{
			SourceID: r.SourceID,
			Title:    r.SourceTitle,
			URL:      "https://youtube.com/watch?v=" + r.SourceID,
		})
	}

	return &Answer{Answer: answer, Sources: sources, ChunksUsed: len(results)}, nil
}

func (s *ragService) Stats() IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return IndexStats{
		TotalChunks:    s.store.Len(),
		VideosIndexed:  len(s.store.SourceIDs()),
		EmbeddingModel: s.ai.EmbedModel(),
		ChunkSize:      s.splitter.ChunkSize(),
		ChunkOverlap:   s.splitter.Overlap(),
	}
}

func (s *ragService) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := rag.NewVectorIndex(s.index.Dim())
	if err != nil {
		return err
	}
	store := rag.NewChunkStore()
	if err := s.snapshot.Save(index, store); err != nil {
		return err
	}
	s.index = index
	s.store = store
	s.log.Info("Index cleared")
	return nil
}
