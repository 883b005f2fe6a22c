package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parsast/ytassist-backend/internal/pkg/logger"
)

// stubAI is a deterministic in-memory stand-in for the OpenAI client.
// Identical texts embed to identical vectors, so querying with a chunk's
// exact text must retrieve that chunk at distance zero. Inputs containing
// embedFailSubstring fail the whole Embed call; genStarted/genBlock let a
// test observe and hold an in-flight completion.
type stubAI struct {
	mu          sync.Mutex
	embedCalls  int
	embedInputs int
	genCalls    int
	lastPrompt  string
	answer      string

	embedFailSubstring string
	genStarted         chan struct{}
	genBlock           chan struct{}
}

func (s *stubAI) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	s.mu.Lock()
	s.embedCalls++
	s.embedInputs += len(inputs)
	failOn := s.embedFailSubstring
	s.mu.Unlock()

	out := make([][]float32, len(inputs))
	for i, text := range inputs {
		if failOn != "" && strings.Contains(text, failOn) {
			return nil, fmt.Errorf("embedding rejected input %d", i)
		}
		v := make([]float32, 4)
		for j, r := range text {
			v[j%4] += float32(int(r)%31) / 7
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubAI) GenerateText(ctx context.Context, system, user string) (string, error) {
	s.mu.Lock()
	s.genCalls++
	s.lastPrompt = user
	answer := s.answer
	started := s.genStarted
	block := s.genBlock
	s.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if answer == "" {
		return "stub answer", nil
	}
	return answer, nil
}

func (s *stubAI) EmbedModel() string { return "test-embedding-model" }

func (s *stubAI) counts() (embedCalls, embedInputs, genCalls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.embedCalls, s.embedInputs, s.genCalls
}

func newTestRAG(t *testing.T, ai *stubAI, dataDir string) RAGService {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	svc, err := NewRAGService(log, ai, nil, nil, RAGConfig{
		DataDir:      dataDir,
		ChunkSize:    60,
		ChunkOverlap: 10,
		Dimension:    4,
	})
	if err != nil {
		t.Fatalf("NewRAGService: %v", err)
	}
	return svc
}

func TestIndexDocumentAndSearch(t *testing.T) {
	ai := &stubAI{}
	svc := newTestRAG(t, ai, t.TempDir())
	ctx := context.Background()

	res, err := svc.IndexDocument(ctx, Document{SourceID: "v1", SourceTitle: "First", Text: "Cats are mammals."})
	if err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if res.ChunksIndexed != 1 {
		t.Fatalf("indexed %d chunks, want 1", res.ChunksIndexed)
	}
	if _, err := svc.IndexDocument(ctx, Document{SourceID: "v2", SourceTitle: "Second", Text: "Go channels carry values."}); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}

	results, err := svc.Search(ctx, "Go channels carry values.", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Rank != 1 || results[1].Rank != 2 {
		t.Fatalf("ranks wrong: %d, %d", results[0].Rank, results[1].Rank)
	}
	if results[0].SourceID != "v2" || results[0].Score != 0 {
		t.Fatalf("exact text should hit its own chunk at distance 0, got %+v", results[0])
	}

	stats := svc.Stats()
	if stats.TotalChunks != 2 || stats.VideosIndexed != 2 {
		t.Fatalf("stats wrong: %+v", stats)
	}
	if stats.EmbeddingModel != "test-embedding-model" || stats.ChunkSize != 60 {
		t.Fatalf("stats wrong: %+v", stats)
	}
}

func TestSearchEmptyIndexSkipsEmbedding(t *testing.T) {
	ai := &stubAI{}
	svc := newTestRAG(t, ai, t.TempDir())

	results, err := svc.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("empty index returned %d results", len(results))
	}
	if calls, _, _ := ai.counts(); calls != 0 {
		t.Fatalf("empty index still embedded the query %d times", calls)
	}
}

func TestAskEmptyIndex(t *testing.T) {
	ai := &stubAI{}
	svc := newTestRAG(t, ai, t.TempDir())

	answer, err := svc.Ask(context.Background(), "What is this about?", 5)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !strings.Contains(answer.Answer, "index") {
		t.Fatalf("expected the no-content answer, got %q", answer.Answer)
	}
	if answer.ChunksUsed != 0 || len(answer.Sources) != 0 {
		t.Fatalf("empty-index answer carries context: %+v", answer)
	}
	embeds, _, gens := ai.counts()
	if embeds != 0 || gens != 0 {
		t.Fatalf("empty index still called the model: %d embeds, %d generations", embeds, gens)
	}
}

func TestAskCitesDeduplicatedSources(t *testing.T) {
	ai := &stubAI{answer: "Channels carry values between goroutines."}
	svc := newTestRAG(t, ai, t.TempDir())
	ctx := context.Background()

	// Long enough to split into several chunks under the 60-rune window.
	long := "Goroutines are cheap. Channels carry values between them. Select waits on many channels at once."
	if _, err := svc.IndexDocument(ctx, Document{SourceID: "v1", SourceTitle: "Concurrency", Text: long}); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if _, err := svc.IndexDocument(ctx, Document{SourceID: "v2", SourceTitle: "Basics", Text: "Variables hold values."}); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if svc.Stats().TotalChunks < 3 {
		t.Fatalf("test setup needs at least 3 chunks, got %d", svc.Stats().TotalChunks)
	}

	answer, err := svc.Ask(ctx, "How do goroutines communicate?", svc.Stats().TotalChunks)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer.Answer != "Channels carry values between goroutines." {
		t.Fatalf("unexpected answer %q", answer.Answer)
	}
	if answer.ChunksUsed != svc.Stats().TotalChunks {
		t.Fatalf("chunks used %d, want %d", answer.ChunksUsed, svc.Stats().TotalChunks)
	}
	if len(answer.Sources) != 2 {
		t.Fatalf("sources not deduplicated: %+v", answer.Sources)
	}
	if !strings.Contains(ai.lastPrompt, "How do goroutines communicate?") {
		t.Fatalf("question missing from prompt")
	}
	if !strings.Contains(ai.lastPrompt, "[Source 1:") {
		t.Fatalf("context block missing from prompt: %q", ai.lastPrompt)
	}
}

func TestIndexDocumentReplacesPreviousVersion(t *testing.T) {
	ai := &stubAI{}
	svc := newTestRAG(t, ai, t.TempDir())
	ctx := context.Background()

	if _, err := svc.IndexDocument(ctx, Document{SourceID: "v1", SourceTitle: "A", Text: "Old transcript text."}); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if _, err := svc.IndexDocument(ctx, Document{SourceID: "v2", SourceTitle: "B", Text: "Neighbor stays put."}); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}

	if _, err := svc.IndexDocument(ctx, Document{SourceID: "v1", SourceTitle: "A", Text: "New transcript text."}); err != nil {
		t.Fatalf("reindex v1: %v", err)
	}

	stats := svc.Stats()
	if stats.TotalChunks != 2 || stats.VideosIndexed != 2 {
		t.Fatalf("stale chunks survived: %+v", stats)
	}

	// The survivor must still be retrievable at distance zero, proving the
	// rebuild kept rows and chunks aligned.
	results, err := svc.Search(ctx, "Neighbor stays put.", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].SourceID != "v2" || results[0].Score != 0 {
		t.Fatalf("alignment broken after rebuild: %+v", results[0])
	}

	old, err := svc.Search(ctx, "Old transcript text.", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range old {
		if r.Text == "Old transcript text." {
			t.Fatalf("replaced chunk still retrievable")
		}
	}
}

func TestReindexDocumentsRebuildsFromScratch(t *testing.T) {
	ai := &stubAI{}
	svc := newTestRAG(t, ai, t.TempDir())
	ctx := context.Background()

	if _, err := svc.IndexDocument(ctx, Document{SourceID: "v1", SourceTitle: "A", Text: "Alpha content here."}); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if _, err := svc.IndexDocument(ctx, Document{SourceID: "v2", SourceTitle: "B", Text: "Beta content there."}); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}

	result, err := svc.ReindexDocuments(ctx, []Document{
		{SourceID: "v1", SourceTitle: "A", Text: "Alpha content here."},
	})
	if err != nil {
		t.Fatalf("ReindexDocuments: %v", err)
	}
	if result.DocumentsProcessed != 1 || result.TotalChunks != 1 || len(result.Errors) != 0 {
		t.Fatalf("unexpected reindex result: %+v", result)
	}

	stats := svc.Stats()
	if stats.TotalChunks != 1 || stats.VideosIndexed != 1 {
		t.Fatalf("reindex left extra state: %+v", stats)
	}
}

func TestIndexDocumentEmptyText(t *testing.T) {
	ai := &stubAI{}
	svc := newTestRAG(t, ai, t.TempDir())

	res, err := svc.IndexDocument(context.Background(), Document{SourceID: "v1", Text: "   \n "})
	if err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if res.ChunksIndexed != 0 {
		t.Fatalf("whitespace text indexed %d chunks", res.ChunksIndexed)
	}
	if calls, _, _ := ai.counts(); calls != 0 {
		t.Fatalf("whitespace text reached the embedder")
	}
}

func TestClear(t *testing.T) {
	ai := &stubAI{}
	svc := newTestRAG(t, ai, t.TempDir())
	ctx := context.Background()

	if _, err := svc.IndexDocument(ctx, Document{SourceID: "v1", Text: "Some content."}); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if err := svc.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if stats := svc.Stats(); stats.TotalChunks != 0 || stats.VideosIndexed != 0 {
		t.Fatalf("clear left state behind: %+v", stats)
	}
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	ai := &stubAI{}
	dir := t.TempDir()
	ctx := context.Background()

	first := newTestRAG(t, ai, dir)
	if _, err := first.IndexDocument(ctx, Document{SourceID: "v1", SourceTitle: "A", Text: "Persisted content."}); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}

	second := newTestRAG(t, ai, dir)
	if stats := second.Stats(); stats.TotalChunks != 1 || stats.VideosIndexed != 1 {
		t.Fatalf("restart lost index state: %+v", stats)
	}

	results, err := second.Search(ctx, "Persisted content.", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Score != 0 {
		t.Fatalf("restored index cannot retrieve its content: %+v", results)
	}
}

func TestReindexDocumentsCollectsPerDocumentErrors(t *testing.T) {
	ai := &stubAI{embedFailSubstring: "corrupt"}
	dir := t.TempDir()
	svc := newTestRAG(t, ai, dir)
	ctx := context.Background()

	result, err := svc.ReindexDocuments(ctx, []Document{
		{SourceID: "v1", SourceTitle: "A", Text: "Alpha content here."},
		{SourceID: "v2", SourceTitle: "B", Text: "This corrupt payload cannot embed."},
		{SourceID: "v3", SourceTitle: "C", Text: "Gamma content there."},
	})
	if err != nil {
		t.Fatalf("ReindexDocuments: %v", err)
	}
	if result.DocumentsProcessed != 2 {
		t.Fatalf("processed %d documents, want 2", result.DocumentsProcessed)
	}
	if len(result.Errors) != 1 || result.Errors[0].SourceID != "v2" {
		t.Fatalf("errors wrong: %+v", result.Errors)
	}
	if result.Errors[0].Error == "" {
		t.Fatalf("error entry carries no message")
	}

	if stats := svc.Stats(); stats.TotalChunks != 2 || stats.VideosIndexed != 2 {
		t.Fatalf("surviving documents not indexed: %+v", stats)
	}

	second := newTestRAG(t, ai, dir)
	if stats := second.Stats(); stats.TotalChunks != 2 || stats.VideosIndexed != 2 {
		t.Fatalf("surviving documents not persisted: %+v", stats)
	}
}

func TestAskDoesNotBlockIndexingDuringGeneration(t *testing.T) {
	ai := &stubAI{
		answer:     "blocked answer",
		genStarted: make(chan struct{}),
		genBlock:   make(chan struct{}),
	}
	svc := newTestRAG(t, ai, t.TempDir())
	ctx := context.Background()

	if _, err := svc.IndexDocument(ctx, Document{SourceID: "v1", SourceTitle: "A", Text: "Alpha content here."}); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}

	askDone := make(chan error, 1)
	go func() {
		_, err := svc.Ask(ctx, "Alpha content here.", 1)
		askDone <- err
	}()
	<-ai.genStarted

	indexDone := make(chan error, 1)
	go func() {
		_, err := svc.IndexDocument(ctx, Document{SourceID: "v2", SourceTitle: "B", Text: "Beta content there."})
		indexDone <- err
	}()

	select {
	case err := <-indexDone:
		if err != nil {
			t.Fatalf("IndexDocument: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("indexing stalled behind an in-flight completion")
	}

	close(ai.genBlock)
	if err := <-askDone; err != nil {
		t.Fatalf("Ask: %v", err)
	}
}

func TestIndexDocumentKeepsStateWhenPersistFails(t *testing.T) {
	ai := &stubAI{}
	dir := t.TempDir()
	svc := newTestRAG(t, ai, dir)
	ctx := context.Background()

	if _, err := svc.IndexDocument(ctx, Document{SourceID: "v1", SourceTitle: "A", Text: "Alpha content here."}); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}

	// Replace the data directory with a regular file so the snapshot write fails.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if err := os.WriteFile(dir, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := svc.IndexDocument(ctx, Document{SourceID: "v2", SourceTitle: "B", Text: "Beta content there."}); err == nil {
		t.Fatalf("IndexDocument succeeded with an unwritable snapshot path")
	}

	if stats := svc.Stats(); stats.TotalChunks != 1 || stats.VideosIndexed != 1 {
		t.Fatalf("failed persist mutated live state: %+v", stats)
	}
	results, err := svc.Search(ctx, "Alpha content here.", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].SourceID != "v1" {
		t.Fatalf("prior content lost after failed persist: %+v", results)
	}
}
