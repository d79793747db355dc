package qa

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/omniglot-dev/dubbler/internal/transcript"
	embmock "github.com/omniglot-dev/dubbler/pkg/provider/embeddings/mock"
	"github.com/omniglot-dev/dubbler/pkg/provider/llm"
	llmmock "github.com/omniglot-dev/dubbler/pkg/provider/llm/mock"
)

// memoryIndex is an in-memory qa.Index for tests, ranking by Euclidean
// distance.
type memoryIndex struct {
	mu     sync.Mutex
	chunks map[string][]Chunk
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{chunks: make(map[string][]Chunk)}
}

func (m *memoryIndex) IndexChunks(ctx context.Context, chunks []Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.VideoID] = append(m.chunks[c.VideoID], c)
	}
	return nil
}

func (m *memoryIndex) Search(ctx context.Context, videoID string, embedding []float32, topK int) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []Result
	for _, c := range m.chunks[videoID] {
		var d float64
		for i := range embedding {
			if i < len(c.Embedding) {
				diff := float64(embedding[i] - c.Embedding[i])
				d += diff * diff
			}
		}
		results = append(results, Result{Chunk: c, Distance: d})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *memoryIndex) HasVideo(ctx context.Context, videoID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks[videoID]) > 0, nil
}

func testEntries(n, wordsPer int) []transcript.Entry {
	entries := make([]transcript.Entry, n)
	for i := range entries {
		words := make([]string, wordsPer)
		for j := range words {
			words[j] = fmt.Sprintf("seg%02dword%02d", i+1, j)
		}
		entries[i] = transcript.Entry{
			SegmentIndex: i + 1,
			Text:         strings.Join(words, " "),
			Timestamp:    fmt.Sprintf("00:%02d", i+1),
		}
	}
	return entries
}

func TestChunkEntries(t *testing.T) {
	// 10 segments of 50 words → chunks close on the 4th, 8th, and last
	// segment (200-word target).
	chunks := chunkEntries("vid1", testEntries(10, 50))

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].FirstSegment != 1 || chunks[0].LastSegment != 4 {
		t.Errorf("chunk 0: expected segments 1..4, got %d..%d", chunks[0].FirstSegment, chunks[0].LastSegment)
	}
	if chunks[1].FirstSegment != 5 || chunks[1].LastSegment != 8 {
		t.Errorf("chunk 1: expected segments 5..8, got %d..%d", chunks[1].FirstSegment, chunks[1].LastSegment)
	}
	if chunks[2].FirstSegment != 9 || chunks[2].LastSegment != 10 {
		t.Errorf("chunk 2: expected segments 9..10, got %d..%d", chunks[2].FirstSegment, chunks[2].LastSegment)
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d: expected index %d, got %d", i, i, c.ChunkIndex)
		}
		if c.VideoID != "vid1" {
			t.Errorf("chunk %d: expected video vid1, got %s", i, c.VideoID)
		}
	}
}

func TestAsk_IndexesOnceAndAnswers(t *testing.T) {
	index := newMemoryIndex()
	embedder := &embmock.Provider{}
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "The answer."},
	}
	svc := NewService(index, embedder, provider, nil)
	entries := testEntries(10, 50)
	ctx := context.Background()

	answer, err := svc.Ask(ctx, "vid1", "what is discussed?", entries)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer != "The answer." {
		t.Errorf("unexpected answer: %q", answer)
	}

	// 3 chunk embeddings plus 1 question embedding.
	if got := embedder.Calls(); got != 4 {
		t.Errorf("expected 4 embeddings, got %d", got)
	}

	// A second question re-uses the index: only the question is embedded.
	if _, err := svc.Ask(ctx, "vid1", "another question?", entries); err != nil {
		t.Fatalf("second Ask: %v", err)
	}
	if got := embedder.Calls(); got != 5 {
		t.Errorf("expected 1 additional embedding, got %d total", got)
	}
}

func TestAsk_PromptCarriesPassagesAndTimestamps(t *testing.T) {
	index := newMemoryIndex()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "ok"},
	}
	svc := NewService(index, &embmock.Provider{}, provider, nil)
	entries := testEntries(10, 50)

	if _, err := svc.Ask(context.Background(), "vid1", "what?", entries); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	prompt := provider.CompleteCalls[0].Req.Messages[0].Content
	if !strings.Contains(prompt, "Question: what?") {
		t.Errorf("expected question in prompt, got: %s", prompt)
	}
	if !strings.Contains(prompt, "[00:01]") {
		t.Errorf("expected a timestamp citation label in prompt, got: %s", prompt)
	}
	if !strings.Contains(prompt, "seg01word00") {
		t.Errorf("expected passage text in prompt, got: %s", prompt)
	}
}

func TestAsk_SkipsReindexWhenBackendHasVideo(t *testing.T) {
	index := newMemoryIndex()
	// Pre-populate as if an earlier process indexed the video.
	index.IndexChunks(context.Background(), []Chunk{
		{VideoID: "vid1", ChunkIndex: 0, FirstSegment: 1, LastSegment: 2, Text: "existing", Embedding: []float32{1, 0, 0, 0}},
	})
	embedder := &embmock.Provider{}
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "ok"},
	}
	svc := NewService(index, embedder, provider, nil)

	if _, err := svc.Ask(context.Background(), "vid1", "what?", testEntries(4, 50)); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	// Only the question was embedded; chunks came from the backend.
	if got := embedder.Calls(); got != 1 {
		t.Errorf("expected only the question embedding, got %d", got)
	}
}

// truncatingEmbedder returns one vector fewer than requested, imitating a
// backend that silently drops an input.
type truncatingEmbedder struct {
	embmock.Provider
}

func (e *truncatingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.Provider.EmbedBatch(ctx, texts)
	if err != nil || len(vecs) == 0 {
		return vecs, err
	}
	return vecs[:len(vecs)-1], nil
}

func TestAsk_ShortEmbeddingBatchFails(t *testing.T) {
	svc := NewService(newMemoryIndex(), &truncatingEmbedder{}, &llmmock.Provider{}, nil)

	_, err := svc.Ask(context.Background(), "vid1", "what?", testEntries(10, 50))
	if err == nil {
		t.Fatal("expected an error when the backend returns too few vectors")
	}
	if !strings.Contains(err.Error(), "vectors") {
		t.Errorf("error should report the vector mismatch: %v", err)
	}
}

func TestAsk_EmptyQuestion(t *testing.T) {
	svc := NewService(newMemoryIndex(), &embmock.Provider{}, &llmmock.Provider{}, nil)
	if _, err := svc.Ask(context.Background(), "vid1", "  ", testEntries(2, 10)); err == nil {
		t.Error("expected error for empty question")
	}
}

func TestAsk_NoTranscript(t *testing.T) {
	svc := NewService(newMemoryIndex(), &embmock.Provider{}, &llmmock.Provider{}, nil)
	if _, err := svc.Ask(context.Background(), "vid1", "what?", nil); err == nil {
		t.Error("expected error when there is nothing to index")
	}
}
